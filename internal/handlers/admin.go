package handlers

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"stake-raffle/internal/models"
)

type createRaffleRequest struct {
	EndTime time.Time     `json:"endTime" binding:"required"`
	Items   []models.Item `json:"items"`
}

func (h *Handler) CreateRaffle(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	var req createRaffleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	id, err := h.ledger.CreateRaffle(c.Request.Context(), account, req.EndTime, req.Items)
	if err != nil {
		h.writeError(c, "create_raffle", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"raffleId": id})
}

type ownershipRequest struct {
	Owner common.Address `json:"owner"`
}

func (h *Handler) TransferOwnership(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	var req ownershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.ledger.TransferOwnership(c.Request.Context(), account, req.Owner); err != nil {
		h.writeError(c, "transfer_ownership", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": req.Owner})
}

type fundRequest struct {
	Amount uint64 `json:"amount"`
}

func (h *Handler) FundOracle(c *gin.Context) {
	account, ok := caller(c)
	if !ok {
		return
	}
	var req fundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	balance, err := h.ledger.FundOracle(c.Request.Context(), account, req.Amount)
	if err != nil {
		h.writeError(c, "fund_oracle", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feeBalance": balance})
}

type creditRequest struct {
	Account common.Address `json:"account"`
	Kind    common.Address `json:"kind"`
	ID      uint64         `json:"id"`
	Amount  uint64         `json:"amount"`
}

// VaultCredit mints balance in the in-memory vault. It is only routed when
// the server runs its own custody.
func (h *Handler) VaultCredit(c *gin.Context) {
	if h.vault == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "vault not enabled"})
		return
	}
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	balance, err := h.vault.Credit(req.Account, req.Kind, req.ID, req.Amount)
	if err != nil {
		h.writeError(c, "vault_credit", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": req.Account, "balance": balance})
}
