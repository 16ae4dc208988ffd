package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tradegovernor/internal/domain"
)

// Config holds all application configuration. It is constructed once by the
// orchestrator and handed into every component's constructor; components
// never read environment variables themselves.
type Config struct {
	// Account
	InitialEquity float64
	Mode          domain.TradeMode

	// Risk limits
	MaxConsecutiveLosses int     // Kill-switch after N straight losing closes
	DailyLossLimit       float64 // Fraction of start-of-day equity (e.g., 0.03)
	MaxTradesPerDay      int
	RiskPerTrade         float64 // Fraction of equity risked per trade
	MaxRiskPerSymbol     float64 // Max symbol value as a fraction of equity
	MaxPortfolioHeat     float64 // Max total risk / equity

	// Liquidity
	CashBufferPct     float64 // Tolerated negative-cash buffer (fraction of equity)
	ReserveExpiryDays int     // Cash-reserve lifetime after a forced sale
	TargetCash        float64 // Manual cash floor; 0 disables

	// Reconciliation
	StaleOrderAge     time.Duration
	ReconcileInterval time.Duration

	// Broker
	BrokerTimeout  time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration

	// Persistence paths
	DBPath      string
	IntentsPath string
	ReservePath string

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

// Limits is the YAML shape of an optional limits file that overrides the
// risk and liquidity limits loaded from the environment. Zero values are
// treated as "not set".
type Limits struct {
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
	DailyLossLimit       float64 `yaml:"daily_loss_limit"`
	MaxTradesPerDay      int     `yaml:"max_trades_per_day"`
	RiskPerTrade         float64 `yaml:"risk_per_trade"`
	MaxRiskPerSymbol     float64 `yaml:"max_risk_per_symbol"`
	MaxPortfolioHeat     float64 `yaml:"max_portfolio_heat"`
	CashBufferPct        float64 `yaml:"cash_buffer_pct"`
	ReserveExpiryDays    int     `yaml:"reserve_expiry_days"`
	TargetCash           float64 `yaml:"target_cash"`
}

// Load loads configuration from environment variables (.env file), then
// applies the YAML limits file named by GOVERNOR_LIMITS_FILE, if any.
func Load() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	// Account
	cfg.InitialEquity, err = getEnvAsFloatRequired("INITIAL_EQUITY", 100000.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_EQUITY: %v", err))
	} else if cfg.InitialEquity <= 0 {
		errs = append(errs, "INITIAL_EQUITY must be positive")
	}

	modeStr := getEnv("TRADE_MODE", string(domain.ModeSwing))
	switch domain.TradeMode(modeStr) {
	case domain.ModeSwing, domain.ModeDay:
		cfg.Mode = domain.TradeMode(modeStr)
	default:
		errs = append(errs, fmt.Sprintf("TRADE_MODE must be %q or %q, got %q", domain.ModeSwing, domain.ModeDay, modeStr))
	}

	// Risk limits
	cfg.MaxConsecutiveLosses = getEnvAsInt("MAX_CONSECUTIVE_LOSSES", 3)
	if cfg.MaxConsecutiveLosses <= 0 {
		errs = append(errs, "MAX_CONSECUTIVE_LOSSES must be positive")
	}

	cfg.DailyLossLimit, err = getEnvAsFloatRequired("DAILY_LOSS_LIMIT", 0.03)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DAILY_LOSS_LIMIT: %v", err))
	} else if cfg.DailyLossLimit <= 0 || cfg.DailyLossLimit >= 1.0 {
		errs = append(errs, "DAILY_LOSS_LIMIT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.MaxTradesPerDay = getEnvAsInt("MAX_TRADES_PER_DAY", 5)
	if cfg.MaxTradesPerDay <= 0 {
		errs = append(errs, "MAX_TRADES_PER_DAY must be positive")
	}

	cfg.RiskPerTrade, err = getEnvAsFloatRequired("RISK_PER_TRADE", 0.02)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RISK_PER_TRADE: %v", err))
	} else if cfg.RiskPerTrade <= 0 || cfg.RiskPerTrade >= 1.0 {
		errs = append(errs, "RISK_PER_TRADE must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.MaxRiskPerSymbol, err = getEnvAsFloatRequired("MAX_RISK_PER_SYMBOL", 0.20)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_RISK_PER_SYMBOL: %v", err))
	} else if cfg.MaxRiskPerSymbol <= 0 || cfg.MaxRiskPerSymbol > 1.0 {
		errs = append(errs, "MAX_RISK_PER_SYMBOL must be between 0.0 and 1.0")
	}

	cfg.MaxPortfolioHeat, err = getEnvAsFloatRequired("MAX_PORTFOLIO_HEAT", 0.10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_PORTFOLIO_HEAT: %v", err))
	} else if cfg.MaxPortfolioHeat <= 0 || cfg.MaxPortfolioHeat > 1.0 {
		errs = append(errs, "MAX_PORTFOLIO_HEAT must be between 0.0 and 1.0")
	}

	// Liquidity
	cfg.CashBufferPct = getEnvAsFloat("CASH_BUFFER_PCT", 0.01)
	if cfg.CashBufferPct < 0 {
		errs = append(errs, "CASH_BUFFER_PCT cannot be negative")
	}
	cfg.ReserveExpiryDays = getEnvAsInt("RESERVE_EXPIRY_DAYS", 3)
	if cfg.ReserveExpiryDays <= 0 {
		errs = append(errs, "RESERVE_EXPIRY_DAYS must be positive")
	}
	cfg.TargetCash = getEnvAsFloat("TARGET_CASH", 0)
	if cfg.TargetCash < 0 {
		errs = append(errs, "TARGET_CASH cannot be negative")
	}

	// Reconciliation
	staleMinutes := getEnvAsInt("STALE_ORDER_MINUTES", 60)
	if staleMinutes <= 0 {
		errs = append(errs, "STALE_ORDER_MINUTES must be positive")
	}
	cfg.StaleOrderAge = time.Duration(staleMinutes) * time.Minute

	reconcileMinutes := getEnvAsInt("RECONCILE_INTERVAL_MINUTES", 30)
	if reconcileMinutes <= 0 {
		errs = append(errs, "RECONCILE_INTERVAL_MINUTES must be positive")
	}
	cfg.ReconcileInterval = time.Duration(reconcileMinutes) * time.Minute

	// Broker
	timeoutSeconds := getEnvAsInt("BROKER_TIMEOUT_SECONDS", 10)
	if timeoutSeconds <= 0 {
		errs = append(errs, "BROKER_TIMEOUT_SECONDS must be positive")
	}
	cfg.BrokerTimeout = time.Duration(timeoutSeconds) * time.Second

	cfg.RetryAttempts = getEnvAsInt("BROKER_RETRY_ATTEMPTS", 3)
	if cfg.RetryAttempts <= 0 {
		errs = append(errs, "BROKER_RETRY_ATTEMPTS must be positive")
	}

	retryBaseMs := getEnvAsInt("BROKER_RETRY_BASE_MS", 500)
	if retryBaseMs <= 0 {
		errs = append(errs, "BROKER_RETRY_BASE_MS must be positive")
	}
	cfg.RetryBaseDelay = time.Duration(retryBaseMs) * time.Millisecond

	// Persistence paths
	cfg.DBPath = getEnv("DB_PATH", "./data/governor.db")
	cfg.IntentsPath = getEnv("INTENTS_PATH", "./data/exit_intents.json")
	cfg.ReservePath = getEnv("RESERVE_PATH", "./data/cash_reserve.json")
	if cfg.DBPath == "" || cfg.IntentsPath == "" || cfg.ReservePath == "" {
		errs = append(errs, "DB_PATH, INTENTS_PATH and RESERVE_PATH must be set")
	}

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFile = getEnv("LOG_FILE", "./logs/governor.log")
	cfg.LogMaxSizeMB = getEnvAsInt("LOG_MAX_SIZE_MB", 50)
	cfg.LogMaxBackups = getEnvAsInt("LOG_MAX_BACKUPS", 5)
	cfg.LogMaxAgeDays = getEnvAsInt("LOG_MAX_AGE_DAYS", 30)
	cfg.LogCompress = getEnvAsBool("LOG_COMPRESS", true)

	// Optional YAML overrides for the limits block
	if limitsPath := getEnv("GOVERNOR_LIMITS_FILE", ""); limitsPath != "" {
		if err := cfg.applyLimitsFile(limitsPath); err != nil {
			errs = append(errs, fmt.Sprintf("limits file: %v", err))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// applyLimitsFile overlays non-zero values from a YAML limits file.
func (c *Config) applyLimitsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	var lim Limits
	if err := yaml.Unmarshal(data, &lim); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if lim.MaxConsecutiveLosses > 0 {
		c.MaxConsecutiveLosses = lim.MaxConsecutiveLosses
	}
	if lim.DailyLossLimit > 0 {
		c.DailyLossLimit = lim.DailyLossLimit
	}
	if lim.MaxTradesPerDay > 0 {
		c.MaxTradesPerDay = lim.MaxTradesPerDay
	}
	if lim.RiskPerTrade > 0 {
		c.RiskPerTrade = lim.RiskPerTrade
	}
	if lim.MaxRiskPerSymbol > 0 {
		c.MaxRiskPerSymbol = lim.MaxRiskPerSymbol
	}
	if lim.MaxPortfolioHeat > 0 {
		c.MaxPortfolioHeat = lim.MaxPortfolioHeat
	}
	if lim.CashBufferPct > 0 {
		c.CashBufferPct = lim.CashBufferPct
	}
	if lim.ReserveExpiryDays > 0 {
		c.ReserveExpiryDays = lim.ReserveExpiryDays
	}
	if lim.TargetCash > 0 {
		c.TargetCash = lim.TargetCash
	}
	return nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
