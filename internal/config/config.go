package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

const (
	OracleModeLocal  = "local"
	OracleModeRemote = "remote"
	OracleModeNone   = "none"

	ResolveOracle = "oracle"
	ResolveDirect = "direct"
	ResolveManual = "manual"
)

type Oracle struct {
	Mode       string
	PrivateKey string
	Address    common.Address
	PublicKey  string
	Endpoint   string
	KeyHash    common.Hash
	Fee        uint64
	QueueSize  int
}

type Config struct {
	EnvFilePath     string
	HTTPPort        string
	DatabaseURL     string
	JWTSecret       string
	JWTIssuer       string
	AdminPassword   string
	AdminAllowedIPs []string
	AdminTOTPSecret string
	LogLevel        string

	Owner   common.Address
	Custody common.Address
	Gateway common.Address

	ResolvePolicy     string
	ResolveTick       time.Duration
	MinRaffleDuration time.Duration
	WinnerCacheSize   int
	TokenEndpoint     string

	Oracle Oracle
}

func Load() (*Config, error) {
	envPath := resolveEnvPath()
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		envPath = ".env"
		_ = godotenv.Load()
	}

	cfg := &Config{
		EnvFilePath:       getEnv("ENV_FILE_PATH", envPath),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		DatabaseURL:       getEnv("DATABASE_URL", "sqlite:raffle.db"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		JWTIssuer:         getEnv("JWT_ISSUER", "stake-raffle"),
		AdminPassword:     os.Getenv("ADMIN_PASSWORD"),
		AdminAllowedIPs:   splitCSV(os.Getenv("ADMIN_ALLOWED_IPS")),
		AdminTOTPSecret:   os.Getenv("ADMIN_TOTP_SECRET"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ResolvePolicy:     strings.ToLower(getEnv("RESOLVE_POLICY", ResolveManual)),
		ResolveTick:       getDuration("RESOLVE_TICK", 15*time.Second),
		MinRaffleDuration: getDuration("MIN_RAFFLE_DURATION", time.Hour),
		WinnerCacheSize:   getInt("WINNER_CACHE_SIZE", 128),
		TokenEndpoint:     os.Getenv("TOKEN_ENDPOINT"),
		Oracle: Oracle{
			Mode:       strings.ToLower(getEnv("ORACLE_MODE", OracleModeLocal)),
			PrivateKey: strings.TrimPrefix(os.Getenv("ORACLE_PRIVATE_KEY"), "0x"),
			PublicKey:  os.Getenv("ORACLE_PUBLIC_KEY"),
			Endpoint:   os.Getenv("ORACLE_ENDPOINT"),
			Fee:        uint64(getInt("ORACLE_FEE", 0)),
			QueueSize:  getInt("ORACLE_QUEUE_SIZE", 64),
		},
	}

	var err error
	if cfg.Owner, err = getAddress("OWNER_ADDRESS", true); err != nil {
		return nil, err
	}
	if cfg.Custody, err = getAddress("CUSTODY_ADDRESS", true); err != nil {
		return nil, err
	}
	if cfg.Gateway, err = getAddress("GATEWAY_ADDRESS", false); err != nil {
		return nil, err
	}
	if cfg.Oracle.Address, err = getAddress("ORACLE_ADDRESS", false); err != nil {
		return nil, err
	}
	if raw := os.Getenv("ORACLE_KEY_HASH"); raw != "" {
		cfg.Oracle.KeyHash = common.HexToHash(raw)
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.AdminPassword == "" {
		return nil, errors.New("ADMIN_PASSWORD is required")
	}
	if cfg.AdminTOTPSecret == "" {
		return nil, errors.New("ADMIN_TOTP_SECRET is required for admin login")
	}

	switch cfg.Oracle.Mode {
	case OracleModeLocal:
		if cfg.Oracle.PrivateKey == "" {
			return nil, errors.New("ORACLE_PRIVATE_KEY is required when ORACLE_MODE=local")
		}
	case OracleModeRemote:
		if cfg.Oracle.Endpoint == "" || cfg.Oracle.Address == (common.Address{}) || cfg.Oracle.KeyHash == (common.Hash{}) {
			return nil, errors.New("ORACLE_ENDPOINT, ORACLE_ADDRESS and ORACLE_KEY_HASH are required when ORACLE_MODE=remote")
		}
	case OracleModeNone:
	default:
		return nil, fmt.Errorf("unknown ORACLE_MODE %q", cfg.Oracle.Mode)
	}

	switch cfg.ResolvePolicy {
	case ResolveOracle, ResolveDirect, ResolveManual:
	default:
		return nil, fmt.Errorf("unknown RESOLVE_POLICY %q", cfg.ResolvePolicy)
	}
	if cfg.ResolvePolicy == ResolveOracle && cfg.Oracle.Mode == OracleModeNone {
		return nil, errors.New("RESOLVE_POLICY=oracle needs an oracle")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getAddress(key string, required bool) (common.Address, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		if required {
			return common.Address{}, fmt.Errorf("%s is required", key)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s is not a valid address", key)
	}
	return common.HexToAddress(raw), nil
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return time.Duration(v) * time.Second
	}
	return def
}

func resolveEnvPath() string {
	if path := os.Getenv("ENV_FILE_PATH"); path != "" {
		return path
	}
	candidates := []string{".env", "local-only/.env"}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
