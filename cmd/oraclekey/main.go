// oraclekey manages the secp256k1 key of the local randomness oracle.
package main

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"

	"stake-raffle/internal/services/oracle"
)

var (
	keyFileFlag = cli.StringFlag{
		Name:  "keyfile",
		Usage: "file holding the hex encoded private key",
	}
	keyHexFlag = cli.StringFlag{
		Name:  "keyhex",
		Usage: "hex encoded private key (overrides -keyfile)",
	}
	seedFlag = cli.StringFlag{
		Name:  "seed",
		Usage: "32 byte input seed of a randomness request",
	}
)

func loadKey(ctx *cli.Context) (*ecdsa.PrivateKey, error) {
	if keyHex := ctx.String(keyHexFlag.Name); keyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		return key, errors.Wrap(err, "-keyhex")
	}
	file := ctx.String(keyFileFlag.Name)
	if file == "" {
		return nil, errors.New("one of -keyhex or -keyfile is required")
	}
	key, err := crypto.LoadECDSA(file)
	if err != nil {
		return nil, errors.WithMessage(err, "load key file")
	}
	return key, nil
}

func printKey(key *ecdsa.PrivateKey) {
	fmt.Printf("address:    %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
	fmt.Printf("public key: %s\n", hexutil.Encode(crypto.CompressPubkey(&key.PublicKey)))
	fmt.Printf("key hash:   %s\n", oracle.KeyHash(&key.PublicKey).Hex())
}

func generate(ctx *cli.Context) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return errors.Wrap(err, "generate key")
	}
	if file := ctx.String(keyFileFlag.Name); file != "" {
		if _, err := os.Stat(file); err == nil {
			return errors.Errorf("%s already exists", file)
		}
		if err := crypto.SaveECDSA(file, key); err != nil {
			return errors.Wrap(err, "save key")
		}
		fmt.Printf("key written to %s\n", file)
	} else {
		fmt.Printf("private key: %x\n", crypto.FromECDSA(key))
	}
	printKey(key)
	return nil
}

func inspect(ctx *cli.Context) error {
	key, err := loadKey(ctx)
	if err != nil {
		return err
	}
	printKey(key)
	return nil
}

func prove(ctx *cli.Context) error {
	key, err := loadKey(ctx)
	if err != nil {
		return err
	}
	raw := ctx.String(seedFlag.Name)
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		return errors.Errorf("-seed must be 0x prefixed 32 bytes, got %q", raw)
	}
	random, proof, err := oracle.Prove(key, common.BytesToHash(b))
	if err != nil {
		return errors.Wrap(err, "prove")
	}
	fmt.Printf("random: %s\n", random.Hex())
	fmt.Printf("proof:  %s\n", hexutil.Encode(proof))
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "oraclekey"
	app.Usage = "stake-raffle oracle key tool"
	app.Commands = []cli.Command{
		{
			Name:   "generate",
			Usage:  "create a new oracle key",
			Flags:  []cli.Flag{keyFileFlag},
			Action: generate,
		},
		{
			Name:   "inspect",
			Usage:  "print the address, compressed public key and key hash of a key",
			Flags:  []cli.Flag{keyFileFlag, keyHexFlag},
			Action: inspect,
		},
		{
			Name:   "prove",
			Usage:  "compute the VRF output and proof for a request seed",
			Flags:  []cli.Flag{keyFileFlag, keyHexFlag, seedFlag},
			Action: prove,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
