package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"stake-raffle/internal/models"
)

func (h *Handler) ListRaffles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"raffles": h.ledger.ListRaffles()})
}

func (h *Handler) OpenRaffles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"raffles": h.ledger.OpenRaffles()})
}

func (h *Handler) RaffleInfo(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	info, err := h.ledger.RaffleInfo(id)
	if err != nil {
		h.writeError(c, "raffle_info", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) StakeStats(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	stats, err := h.ledger.StakeStats(id)
	if err != nil {
		h.writeError(c, "stake_stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) StakerStats(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	account, ok := parseAddress(c, c.Param("address"))
	if !ok {
		return
	}
	stats, err := h.ledger.StakerStats(id, account)
	if err != nil {
		h.writeError(c, "staker_stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) Winners(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	var accounts []common.Address
	if raw := c.Query("accounts"); raw != "" {
		for _, item := range strings.Split(raw, ",") {
			account, ok := parseAddress(c, strings.TrimSpace(item))
			if !ok {
				return
			}
			accounts = append(accounts, account)
		}
	}
	winners, err := h.ledger.Winners(id, accounts...)
	if err != nil {
		h.writeError(c, "winners", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"raffleId": id, "winners": winners})
}

type stakeRequest struct {
	Entries []models.StakeEntry `json:"entries"`
}

func (h *Handler) Stake(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	account, ok := caller(c)
	if !ok {
		return
	}
	var req stakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	stakes, err := h.ledger.Stake(c.Request.Context(), id, account, req.Entries)
	if err != nil {
		h.writeError(c, "stake", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"stakes": stakes})
}

func (h *Handler) ResolveDirect(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	account, ok := caller(c)
	if !ok {
		return
	}
	value, err := h.ledger.ResolveDirect(c.Request.Context(), id, account)
	if err != nil {
		h.writeError(c, "resolve_direct", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"raffleId": id, "randomNumber": value})
}

type randomnessRequest struct {
	Seed common.Hash `json:"seed"`
}

func (h *Handler) RequestRandomness(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	account, ok := caller(c)
	if !ok {
		return
	}
	var req randomnessRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	requestID, err := h.ledger.RequestRandomness(c.Request.Context(), id, account, req.Seed)
	if err != nil {
		h.writeError(c, "request_randomness", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"raffleId": id, "requestId": requestID})
}

type claimRequest struct {
	Claims []models.ClaimEntry `json:"claims"`
}

func (h *Handler) Claim(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	account, ok := caller(c)
	if !ok {
		return
	}
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	payouts, err := h.ledger.ClaimPrize(c.Request.Context(), id, account, req.Claims)
	if err != nil {
		body := gin.H{"payouts": payouts}
		if len(payouts) > 0 {
			// Some transfers went out before the failure.
			h.logger.Error("claim payout incomplete", "raffle_id", id, "account", account.Hex(), "paid", len(payouts), "error", err)
			body["error"] = err.Error()
			c.JSON(http.StatusBadGateway, body)
			return
		}
		h.writeError(c, "claim", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"raffleId": id, "payouts": payouts})
}

type fulfillRequest struct {
	RequestID common.Hash   `json:"requestId"`
	Random    common.Hash   `json:"random"`
	Proof     hexutil.Bytes `json:"proof"`
}

func (h *Handler) Fulfill(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	var req fulfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if h.verifier != nil {
		stored, err := h.ledger.Request(req.RequestID)
		if err != nil {
			h.writeError(c, "fulfill", err)
			return
		}
		if err := h.verifier.Check(stored.Seed, req.Random, req.Proof); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proof"})
			return
		}
	}
	if err := h.ledger.FulfillRandomness(c.Request.Context(), account, req.RequestID, req.Random); err != nil {
		h.writeError(c, "fulfill", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requestId": req.RequestID, "random": req.Random})
}

// Events streams ledger events as server-sent events. ?raffle=<id> limits the
// stream to one raffle.
func (h *Handler) Events(c *gin.Context) {
	var filter *uint64
	if raw := c.Query("raffle"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid raffle id"})
			return
		}
		filter = &id
	}
	events, cancel := h.ledger.Subscribe(64)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			if filter != nil && ev.RaffleID != *filter {
				return true
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
