package handlers

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"

	"stake-raffle/internal/auth"
)

type challenge struct {
	address common.Address
	expires time.Time
}

func (h *Handler) Challenge(c *gin.Context) {
	address, ok := parseAddress(c, c.Query("address"))
	if !ok {
		return
	}
	nonce := uuid.NewString()
	expires := time.Now().Add(challengeTTL)
	h.challenges.Add(nonce, challenge{address: address, expires: expires})
	c.JSON(http.StatusOK, gin.H{
		"nonce":     nonce,
		"message":   auth.ChallengeMessage(address, nonce),
		"expiresAt": expires.UTC(),
	})
}

type loginRequest struct {
	Address   common.Address `json:"address" binding:"required"`
	Nonce     string         `json:"nonce" binding:"required"`
	Signature hexutil.Bytes  `json:"signature" binding:"required"`
}

// Login exchanges a signed challenge for a bearer token bound to the signer.
// Each nonce is usable once.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ch, ok := h.challenges.Take(req.Nonce)
	if !ok || ch.address != req.Address || time.Now().After(ch.expires) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid challenge"})
		return
	}
	if err := auth.VerifySignature(req.Address, auth.ChallengeMessage(req.Address, req.Nonce), req.Signature); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	token, err := h.jwt.IssueToken(req.Address, auth.RoleStaker, stakerTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token failed"})
		return
	}
	h.logger.Info("wallet login", "address", req.Address.Hex())
	c.JSON(http.StatusOK, gin.H{"token": token, "address": req.Address})
}

type adminLoginRequest struct {
	Password string `json:"password" binding:"required"`
	Code     string `json:"code" binding:"required"`
}

// AdminLogin issues an owner token for the ledger's current owner address.
func (h *Handler) AdminLogin(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if req.Password != h.cfg.AdminPassword {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if ok := totp.Validate(req.Code, h.cfg.AdminTOTPSecret); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid totp"})
		return
	}
	owner := h.ledger.Owner()
	token, err := h.jwt.IssueToken(owner, auth.RoleOwner, ownerTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token failed"})
		return
	}
	h.logger.Info("owner login", "address", owner.Hex(), "ip", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"token": token, "address": owner})
}
