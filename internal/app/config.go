package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config carries every tunable the service reads from the environment.
// Values are resolved once at startup and treated as immutable; runtime
// tuning happens through the rate-limit settings stored in the database.
type Config struct {
	Environment string // development or production
	HTTPPort    int
	LogLevel    string
	CORSOrigins []string

	// Legacy master key accepted on the faucet endpoint. Empty disables it.
	MasterAPIKey string

	// Admin surface.
	JWTSecret          string
	JWTSecretGenerated bool // set when a development secret was minted at load
	AdminUsername      string
	AdminPassword      string

	// Chain access.
	Network     string // testnet, devnet or mainnet
	RPCURL      string
	FaucetURL   string // upstream faucet endpoint for sdk mode
	ExplorerURL string // prefix for transaction links
	PrivateKey  string // ed25519 seed, hex or base64; enables wallet mode

	// Amounts in base-units (1 SUI = 1e9).
	DefaultAmount    int64
	MaxAmount        int64
	MinWalletBalance int64

	// Rate limiting bootstrap values. The settings table can change these
	// at runtime; env values seed the defaults.
	RateWindowMs int
	MaxPerWallet int
	MaxPerIP     int
	MaxPerGlobal int

	// Stores.
	CacheURL       string // empty selects the in-memory cache
	CacheKeyPrefix string
	DBURL          string // empty selects the degraded no-op store

	RPCTimeoutSecs int

	// Tracing.
	OTelEnabled  bool
	OTelEndpoint string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		HTTPPort:    getEnvInt("HTTP_PORT", 3001),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSOrigins: getEnvStringSlice("CORS_ORIGIN", nil),

		MasterAPIKey: getEnv("API_KEY", ""),

		JWTSecret:     getEnv("JWT_SECRET", ""),
		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		Network:     getEnv("NETWORK", "testnet"),
		RPCURL:      getEnv("RPC_URL", ""),
		FaucetURL:   getEnv("FAUCET_URL", ""),
		ExplorerURL: getEnv("EXPLORER_URL", ""),
		PrivateKey:  getEnv("PRIVATE_KEY", ""),

		DefaultAmount:    getEnvInt64("DEFAULT_AMOUNT", 1_000_000_000),
		MaxAmount:        getEnvInt64("MAX_AMOUNT", 10_000_000_000),
		MinWalletBalance: getEnvInt64("MIN_WALLET_BALANCE", 1_000_000_000),

		RateWindowMs: getEnvInt("RATE_WINDOW_MS", 3_600_000),
		MaxPerWallet: getEnvInt("MAX_PER_WALLET", 1),
		MaxPerIP:     getEnvInt("MAX_PER_IP", 10),
		MaxPerGlobal: getEnvInt("MAX_PER_GLOBAL", 1_000),

		CacheURL:       getEnv("CACHE_URL", ""),
		CacheKeyPrefix: getEnv("CACHE_KEY_PREFIX", "suifx:"),
		DBURL:          getEnv("DB_URL", ""),

		RPCTimeoutSecs: getEnvInt("RPC_TIMEOUT_SECS", 10),

		OTelEnabled:  getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint: getEnv("OTEL_ENDPOINT", "localhost:4318"),
	}

	if cfg.RPCURL == "" {
		cfg.RPCURL = fmt.Sprintf("https://fullnode.%s.sui.io:443", cfg.Network)
	}
	if cfg.FaucetURL == "" {
		cfg.FaucetURL = fmt.Sprintf("https://faucet.%s.sui.io/gas", cfg.Network)
	}
	if cfg.ExplorerURL == "" {
		cfg.ExplorerURL = fmt.Sprintf("https://suiscan.xyz/%s/tx", cfg.Network)
	}

	// Development installs keep working without a configured secret; the
	// minted value only lives for the process lifetime, so sessions do not
	// survive a restart.
	if cfg.JWTSecret == "" && !cfg.IsProduction() {
		cfg.JWTSecret = randomSecret()
		cfg.JWTSecretGenerated = true
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate collects every problem it finds so operators fix misconfiguration
// in one pass instead of replaying the boot loop.
func (c Config) Validate() error {
	var problems []string

	switch c.Network {
	case "testnet", "devnet", "mainnet":
	default:
		problems = append(problems, fmt.Sprintf("NETWORK must be testnet, devnet or mainnet, got %q", c.Network))
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		problems = append(problems, fmt.Sprintf("HTTP_PORT must be in (0, 65535], got %d", c.HTTPPort))
	}
	if c.DefaultAmount <= 0 {
		problems = append(problems, fmt.Sprintf("DEFAULT_AMOUNT must be > 0, got %d", c.DefaultAmount))
	}
	if c.MaxAmount <= 0 {
		problems = append(problems, fmt.Sprintf("MAX_AMOUNT must be > 0, got %d", c.MaxAmount))
	}
	if c.MaxAmount < c.DefaultAmount {
		problems = append(problems, fmt.Sprintf("MAX_AMOUNT (%d) must be >= DEFAULT_AMOUNT (%d)", c.MaxAmount, c.DefaultAmount))
	}
	if c.MinWalletBalance < 0 {
		problems = append(problems, fmt.Sprintf("MIN_WALLET_BALANCE must be >= 0, got %d", c.MinWalletBalance))
	}
	if c.RateWindowMs <= 0 {
		problems = append(problems, fmt.Sprintf("RATE_WINDOW_MS must be > 0, got %d", c.RateWindowMs))
	}
	if c.MaxPerWallet <= 0 {
		problems = append(problems, fmt.Sprintf("MAX_PER_WALLET must be > 0, got %d", c.MaxPerWallet))
	}
	if c.MaxPerIP <= 0 {
		problems = append(problems, fmt.Sprintf("MAX_PER_IP must be > 0, got %d", c.MaxPerIP))
	}
	if c.MaxPerGlobal <= 0 {
		problems = append(problems, fmt.Sprintf("MAX_PER_GLOBAL must be > 0, got %d", c.MaxPerGlobal))
	}
	if c.RPCTimeoutSecs <= 0 {
		problems = append(problems, fmt.Sprintf("RPC_TIMEOUT_SECS must be > 0, got %d", c.RPCTimeoutSecs))
	}

	if c.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required outside development")
	} else if len(c.JWTSecret) < 32 {
		problems = append(problems, fmt.Sprintf("JWT_SECRET must be at least 32 bytes, got %d", len(c.JWTSecret)))
	}
	if c.IsProduction() && c.AdminPassword == "" {
		problems = append(problems, "ADMIN_PASSWORD is required in production")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func (c Config) IsProduction() bool { return c.Environment == "production" }

// WalletModeConfigured reports whether a signing key is present. The actual
// dispatch mode additionally consults the faucet_mode setting.
func (c Config) WalletModeConfigured() bool { return c.PrivateKey != "" }

// ExplorerTxURL renders the public explorer link for a transaction digest.
func (c Config) ExplorerTxURL(digest string) string {
	return strings.TrimRight(c.ExplorerURL, "/") + "/" + digest
}

// ListenAddr renders the HTTP bind address.
func (c Config) ListenAddr() string { return fmt.Sprintf(":%d", c.HTTPPort) }

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
