// Package config loads process settings from the environment, an optional
// .env file and an optional YAML overlay named by CONFIG_FILE.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tv-executor/internal/domain"
	"tv-executor/pkg/logger"
	"tv-executor/pkg/secrets"
)

// Credentials is one exchange's API access.
type Credentials struct {
	APIKey   string
	Secret   string
	Password string
}

// Config holds every setting of the executor.
type Config struct {
	Env      string
	Host     string
	Port     string
	GRPCAddr string

	// Webhook
	Passphrase string

	// Exchanges; only complete credential sets are present. IncompleteExchanges
	// names the first missing key of every partially configured set.
	Exchanges           map[domain.ExchangeID]Credentials
	IncompleteExchanges map[domain.ExchangeID]string
	Testnet             bool
	DryRun              bool
	Slippage            float64
	PaperFeeRate        float64
	MaxRetries          int
	OrderTimeout        time.Duration
	StopLossOffset      float64
	LimitOrderOffset    float64
	StopLossTimeout     time.Duration

	// Notifications
	TelegramToken     string
	TelegramChatID    string
	DiscordWebhookURL string
	KafkaBrokers      []string
	KafkaTopic        string
	NotifyTimeout     time.Duration

	// API
	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int
	ReplayWindow   time.Duration
	RedisAddr      string

	Log logger.Config
}

// Lookup reads one key. os.LookupEnv satisfies it.
type Lookup func(key string) (string, bool)

// Load reads .env (if present), then the environment, then CONFIG_FILE.
// Environment variables win over the file.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()
	return Parse(os.LookupEnv)
}

// Parse builds a Config from lookup.
func Parse(lookup Lookup) (*Config, error) {
	src := source{lookup: lookup}
	if path := src.str("CONFIG_FILE", ""); path != "" {
		overlay, err := readOverlay(path)
		if err != nil {
			return nil, err
		}
		src.overlay = overlay
	}

	passphrase := src.str("WEBHOOK_PASSPHRASE", "")
	if passphrase == "" {
		return nil, domain.NewConfigurationError("Missing required environment variable: WEBHOOK_PASSPHRASE", "WEBHOOK_PASSPHRASE")
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = src.str("LOG_LEVEL", logCfg.Level)
	logCfg.Format = src.str("LOG_FORMAT", logCfg.Format)
	logCfg.Output = src.str("LOG_OUTPUT", logCfg.Output)
	logCfg.FilePath = src.str("LOG_FILE", logCfg.FilePath)

	cfg := &Config{
		Env:               src.str("APP_ENV", "production"),
		Host:              src.str("HOST", "0.0.0.0"),
		Port:              src.str("PORT", "3000"),
		GRPCAddr:          src.str("GRPC_ADDR", ""),
		Passphrase:        passphrase,
		Testnet:           src.boolean("EXCHANGE_TESTNET", false),
		DryRun:            src.boolean("DRY_RUN", false),
		Slippage:          src.float("DEFAULT_SLIPPAGE", 0.001),
		PaperFeeRate:      src.float("PAPER_FEE_RATE", 0.001),
		MaxRetries:        src.integer("MAX_RETRY_ATTEMPTS", 3),
		OrderTimeout:      src.millis("ORDER_TIMEOUT_MS", 30000),
		StopLossOffset:    src.float("STOP_LOSS_OFFSET", 0),
		LimitOrderOffset:  src.float("LIMIT_ORDER_OFFSET", 0.001),
		StopLossTimeout:   src.millis("STOP_LOSS_TIMEOUT_MS", 10000),
		TelegramToken:     src.str("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:    src.str("TELEGRAM_CHAT_ID", ""),
		DiscordWebhookURL: src.str("DISCORD_WEBHOOK_URL", ""),
		KafkaBrokers:      splitAndTrim(src.str("KAFKA_BROKERS", "")),
		KafkaTopic:        src.str("KAFKA_TOPIC", "trade-executions"),
		NotifyTimeout:     src.millis("NOTIFY_TIMEOUT_MS", 5000),
		JWTSecret:         src.str("JWT_SECRET", ""),
		RateLimitRPS:      src.float("RATE_LIMIT_RPS", 5),
		RateLimitBurst:    src.integer("RATE_LIMIT_BURST", 10),
		ReplayWindow:      src.millis("REPLAY_WINDOW_MS", 0),
		RedisAddr:         src.str("REDIS_ADDR", ""),
		Log:               logCfg,
	}

	exchanges, incomplete, err := src.exchanges()
	if err != nil {
		return nil, err
	}
	cfg.Exchanges = exchanges
	cfg.IncompleteExchanges = incomplete
	return cfg, nil
}

// TelegramEnabled reports whether both Telegram settings are present.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool { return c.Env == "production" }

// Addr is the HTTP listen address.
func (c *Config) Addr() string { return c.Host + ":" + c.Port }

type source struct {
	lookup  Lookup
	overlay map[string]string
}

func (s source) str(key, def string) string {
	if v, ok := s.lookup(key); ok && v != "" {
		return v
	}
	if v, ok := s.overlay[key]; ok && v != "" {
		return v
	}
	return def
}

func (s source) boolean(key string, def bool) bool {
	if b, err := strconv.ParseBool(s.str(key, "")); err == nil {
		return b
	}
	return def
}

func (s source) float(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(s.str(key, ""), 64); err == nil {
		return f
	}
	return def
}

func (s source) integer(key string, def int) int {
	if i, err := strconv.Atoi(s.str(key, "")); err == nil {
		return i
	}
	return def
}

func (s source) millis(key string, def int) time.Duration {
	return time.Duration(s.integer(key, def)) * time.Millisecond
}

// exchanges collects complete credential sets and opens sealed values.
// OKX requires a password; Bitget accepts one. Sets with some but not all
// required keys are reported by their first missing key.
func (s source) exchanges() (map[domain.ExchangeID]Credentials, map[domain.ExchangeID]string, error) {
	var sealer *secrets.Sealer
	if key := s.str("CREDENTIALS_KEY", ""); key != "" {
		var err error
		if sealer, err = secrets.FromBase64(key); err != nil {
			return nil, nil, domain.NewConfigurationError("Invalid CREDENTIALS_KEY: "+err.Error(), "CREDENTIALS_KEY")
		}
	}
	open := func(key string) (string, error) {
		v := s.str(key, "")
		if !secrets.IsSealed(v) {
			return v, nil
		}
		if sealer == nil {
			return "", domain.NewConfigurationError(key+" is sealed but CREDENTIALS_KEY is not set", "CREDENTIALS_KEY")
		}
		plain, err := sealer.Open(v)
		if err != nil {
			return "", domain.NewConfigurationError(fmt.Sprintf("Cannot open %s: %v", key, err), key)
		}
		return plain, nil
	}

	out := make(map[domain.ExchangeID]Credentials)
	incomplete := make(map[domain.ExchangeID]string)
	for _, ex := range domain.Exchanges {
		prefix := strings.ToUpper(string(ex))
		var creds Credentials
		var err error
		if creds.APIKey, err = open(prefix + "_API_KEY"); err != nil {
			return nil, nil, err
		}
		if creds.Secret, err = open(prefix + "_SECRET"); err != nil {
			return nil, nil, err
		}
		if creds.Password, err = open(prefix + "_PASSWORD"); err != nil {
			return nil, nil, err
		}

		required := []struct{ key, value string }{
			{prefix + "_API_KEY", creds.APIKey},
			{prefix + "_SECRET", creds.Secret},
		}
		if ex == domain.ExchangeOKX {
			required = append(required, struct{ key, value string }{prefix + "_PASSWORD", creds.Password})
		}
		missing, present := "", false
		for _, r := range required {
			if r.value == "" && missing == "" {
				missing = r.key
			}
			present = present || r.value != ""
		}
		switch {
		case missing == "":
			out[ex] = creds
		case present:
			incomplete[ex] = missing
		}
	}
	return out, incomplete, nil
}

// readOverlay parses a flat YAML mapping of the same keys as the environment.
func readOverlay(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewConfigurationError(fmt.Sprintf("Cannot read config file %s: %v", path, err), "CONFIG_FILE")
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, domain.NewConfigurationError(fmt.Sprintf("Invalid config file %s: %v", path, err), "CONFIG_FILE")
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
