package main

import (
	"context"
	"fmt"
	"os"

	"stake-raffle/internal/database"
	"stake-raffle/internal/services/raffle"
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if len(os.Args) > 1 {
		dsn = os.Args[1]
	}
	store, err := database.New(context.Background(), dsn)
	if err != nil {
		panic(err)
	}
	defer store.Close()

	snap, err := store.LoadSnapshot(context.Background())
	if err != nil {
		panic(err)
	}
	ledger, err := raffle.Restore(snap, raffle.Options{})
	if err != nil {
		panic(err)
	}
	fmt.Println("owner=", ledger.Owner().Hex())
	fmt.Println("height=", ledger.Height())
	fmt.Println("fee balance=", ledger.FeeBalance())
	fmt.Println("pending resolution=", ledger.PendingResolution())

	for _, summary := range ledger.ListRaffles() {
		info, err := ledger.RaffleInfo(summary.ID)
		if err != nil {
			fmt.Println("raffle", summary.ID, "err=", err)
			continue
		}
		fmt.Printf("raffle %d end=%s items=%d stakers=%d resolved=%v\n",
			info.ID, info.EndTime.Format("2006-01-02 15:04:05"), len(info.Items), info.Stakers, info.Resolved)
		if !info.Resolved {
			continue
		}
		winners, err := ledger.Winners(info.ID)
		if err != nil {
			fmt.Println("  winners err=", err)
			continue
		}
		for _, w := range winners {
			units := 0
			for _, s := range w.Stakes {
				for _, p := range s.Prizes {
					units += len(p.Units)
				}
			}
			fmt.Printf("  %s units=%d claimed=%v\n", w.Account.Hex(), units, w.Claimed)
		}
	}
}
