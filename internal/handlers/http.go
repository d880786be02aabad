package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"stake-raffle/internal/auth"
	"stake-raffle/internal/cache"
	"stake-raffle/internal/config"
	"stake-raffle/internal/metrics"
	"stake-raffle/internal/middleware"
	"stake-raffle/internal/services/oracle"
	"stake-raffle/internal/services/raffle"
	"stake-raffle/internal/services/token"
)

const (
	challengeTTL   = 5 * time.Minute
	stakerTokenTTL = 24 * time.Hour
	ownerTokenTTL  = 4 * time.Hour
)

type Handler struct {
	cfg        *config.Config
	ledger     *raffle.Ledger
	jwt        *auth.Manager
	metrics    *metrics.Metrics
	vault      *token.Vault
	verifier   *oracle.Verifier
	challenges *cache.LRU[string, challenge]
	logger     *slog.Logger
}

// Options carries the optional collaborators of a Handler. A nil Vault
// disables the credit endpoint; a nil Verifier accepts fulfillments
// without a proof.
type Options struct {
	Vault    *token.Vault
	Verifier *oracle.Verifier
	Metrics  *metrics.Metrics
}

func NewHandler(cfg *config.Config, ledger *raffle.Ledger, jwt *auth.Manager, opts Options, logger *slog.Logger) (*Handler, error) {
	challenges, err := cache.NewLRU[string, challenge](4096)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	return &Handler{
		cfg:        cfg,
		ledger:     ledger,
		jwt:        jwt,
		metrics:    opts.Metrics,
		vault:      opts.Vault,
		verifier:   opts.Verifier,
		challenges: challenges,
		logger:     logger,
	}, nil
}

func RegisterRoutes(r *gin.Engine, h *Handler, jwt *auth.Manager, adminIPs []string) {
	r.Use(h.metrics.Middleware())
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	r.GET("/api/health", h.Health)

	r.GET("/api/auth/challenge", h.Challenge)
	r.POST("/api/auth/login", h.Login)

	r.GET("/api/raffles", h.ListRaffles)
	r.GET("/api/raffles/open", h.OpenRaffles)
	r.GET("/api/raffles/:id", h.RaffleInfo)
	r.GET("/api/raffles/:id/stats", h.StakeStats)
	r.GET("/api/raffles/:id/stakers/:address", h.StakerStats)
	r.GET("/api/raffles/:id/winners", h.Winners)
	r.GET("/api/events", h.Events)

	api := r.Group("/api")
	api.Use(middleware.JWT(jwt), middleware.RequireRole(auth.RoleStaker, auth.RoleOwner))
	api.POST("/raffles/:id/stakes", h.Stake)
	api.POST("/raffles/:id/resolve", h.ResolveDirect)
	api.POST("/raffles/:id/randomness", h.RequestRandomness)
	api.POST("/raffles/:id/claims", h.Claim)
	api.POST("/oracle/fulfill", h.Fulfill)

	admin := r.Group("/api/admin")
	admin.Use(middleware.AdminIPWhitelist(adminIPs))
	admin.POST("/login", h.AdminLogin)

	adminProtected := admin.Group("/")
	adminProtected.Use(middleware.JWT(jwt), middleware.RequireRole(auth.RoleOwner))
	adminProtected.POST("/raffles", h.CreateRaffle)
	adminProtected.POST("/ownership", h.TransferOwnership)
	adminProtected.POST("/oracle/fund", h.FundOracle)
	adminProtected.POST("/vault/credit", h.VaultCredit)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"height":    h.ledger.Height(),
		"timestamp": time.Now().UTC(),
	})
}

// writeError maps ledger error kinds and collaborator errors onto HTTP
// statuses. Anything unrecognised is logged and reported as 500.
func (h *Handler) writeError(c *gin.Context, op string, err error) {
	h.metrics.ObserveError(op, err)

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, raffle.NotFound):
		status = http.StatusNotFound
	case errors.Is(err, raffle.InvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, raffle.StateConflict):
		status = http.StatusConflict
	case errors.Is(err, raffle.Unauthorized):
		status = http.StatusForbidden
	case errors.Is(err, raffle.InsufficientResource), errors.Is(err, token.ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	case errors.Is(err, token.ErrZeroAmount), errors.Is(err, token.ErrBalanceOverflow):
		status = http.StatusBadRequest
	case errors.Is(err, oracle.ErrQueueFull):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "op", op, "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	body := gin.H{"error": err.Error()}
	if kind := raffle.KindOf(err); kind != raffle.KindInternal {
		body["kind"] = kind.String()
	}
	c.JSON(status, body)
}

func raffleID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid raffle id"})
		return 0, false
	}
	return id, true
}

func parseAddress(c *gin.Context, raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func caller(c *gin.Context) (common.Address, bool) {
	claims := middleware.ClaimsFromContext(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing claims"})
		return common.Address{}, false
	}
	return claims.Address, true
}
