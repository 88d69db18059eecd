package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
	envPrefix         = "NEXUS"
)

// ExchangeConfig — доступ и лимиты одной биржи.
type ExchangeConfig struct {
	Enabled    bool          `yaml:"enabled"`
	APIKey     string        `yaml:"api_key"`
	APISecret  string        `yaml:"api_secret"`
	Passphrase string        `yaml:"passphrase"`
	Testnet    bool          `yaml:"testnet"`
	BaseURL    string        `yaml:"base_url"`
	RateLimit  float64       `yaml:"rate_limit"` // запросов в секунду
	Burst      int           `yaml:"burst"`
	Timeout    time.Duration `yaml:"timeout"`
	Retries    int           `yaml:"retries"`
}

// Credentials — ключи пользователя для одной биржи.
type Credentials struct {
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	Passphrase string `yaml:"passphrase"`
}

// UserSeed — пользователь, которого поднимаем при старте.
type UserSeed struct {
	ID              int64    `yaml:"id"`
	Name            string   `yaml:"name"`
	Mode            string   `yaml:"mode"`
	PrimaryExchange string   `yaml:"primary_exchange"`
	Exchanges       []string `yaml:"exchanges"`
	Strategies      []string `yaml:"strategies"`
	Preset          string   `yaml:"preset"`
	// биржа -> ключи этого пользователя
	Keys map[string]Credentials `yaml:"keys"`
}

// Config ...
type Config struct {
	Telegram struct {
		Token       string `yaml:"token"`
		AdminChatID int64  `yaml:"admin_chat_id"`
	} `yaml:"telegram"`
	DB        string `yaml:"db_dsn"`
	UsersFile string `yaml:"users_file"` // без БД настройки живут здесь
	Redis     struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Service struct {
		Name       string `yaml:"name"`
		HealthAddr string `yaml:"health_addr"`
		LogLevel   string `yaml:"log_level"`
	} `yaml:"service"`
	Tracing struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"tracing"`

	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`
	Users     []UserSeed                `yaml:"users"`
	Watchlist []string                  `yaml:"watchlist"` // прогрев при старте

	// Дефолты риска
	DefaultLeverage           int     `yaml:"leverage"`
	DefaultMaxLeverage        int     `yaml:"max_leverage"`
	DefaultCapitalFraction    float64 `yaml:"capital_fraction"`     // 0.1 => 10% доступного баланса в маржу
	DefaultMaxCapitalFraction float64 `yaml:"max_capital_fraction"` // потолок для юзера
	DefaultRiskFraction       float64 `yaml:"risk_fraction"`        // 0.01 => 1% equity по стопу
	DefaultTakeProfitRatio    float64 `yaml:"take_profit_ratio"`    // TP = ratio * stop distance
	DefaultAtrMultiplier      float64 `yaml:"atr_multiplier"`
	DefaultMaxStopPct         float64 `yaml:"max_stop_pct"`      // 3.0 => стоп не дальше 3%
	DefaultFallbackStopPct    float64 `yaml:"fallback_stop_pct"` // без ATR
	DefaultMinBalance         float64 `yaml:"min_balance"`
	DefaultTrailingEnabled    bool    `yaml:"trailing_enabled"`
	DefaultTrailingCallback   float64 `yaml:"trailing_callback_pct"`
	CircuitBreakerLosses      int     `yaml:"circuit_breaker_losses"`
	DefaultBreakevenROI       float64 `yaml:"breakeven_roi"` // 0.1 => SL в безубыток при +10% на маржу
	MaxCorrelation            float64 `yaml:"max_correlation"`
	CorrelationWindow         int     `yaml:"correlation_window"` // минутных точек

	// Исполнение
	DefaultCooldownPerSymbol time.Duration `yaml:"cooldown_per_symbol"`
	DefaultConfirmTimeout    time.Duration `yaml:"confirm_timeout"`
	NudgeTicks               int           `yaml:"nudge_ticks"`
	AdapterTimeout           time.Duration `yaml:"adapter_timeout"`
	FlipSettleDelay          time.Duration `yaml:"flip_settle_delay"`
	QueueSize                int           `yaml:"queue_size"`
	MaxParallelSessions      int           `yaml:"max_parallel_sessions"`

	// Монитор
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	CrashDropPct    float64       `yaml:"crash_drop_pct"`
	CrashWindow     time.Duration `yaml:"crash_window"`
	CrashSymbol     string        `yaml:"crash_symbol"`
	CrashCloseAll   bool          `yaml:"crash_close_all"` // закрывать всё по обвалу
	PriceStreamURL  string        `yaml:"price_stream_url"`
	PriceTTL        time.Duration `yaml:"price_ttl"`
}

func NewConfig() (*Config, error) {
	// .env не обязателен
	_ = godotenv.Load()

	configFileName := getenvDefault(configFilePathENV, "values_local.yaml")
	dir := getenvDefault(configDirENV, "configs")

	config := Defaults()
	if err := Load(&config, dir+"/"+configFileName); err != nil {
		return nil, err
	}

	token := os.Getenv(tokenTelegramENV)
	if token != "" {
		config.Telegram.Token = token
	}

	dsn := os.Getenv(databaseDSN)
	if dsn != "" {
		config.DB = dsn
	}

	for name, ex := range config.Exchanges {
		config.Exchanges[name] = credentialsFromEnv(name, ex)
	}

	return &config, nil
}

// Defaults — значения до чтения файла, часть можно переопределить через env.
func Defaults() Config {
	cfg := Config{
		DefaultLeverage:           intFromEnv("LEVERAGE", 5),
		DefaultMaxLeverage:        intFromEnv("MAX_LEVERAGE", 20),
		DefaultCapitalFraction:    floatFromEnv("CAPITAL_FRACTION", 0.10),
		DefaultMaxCapitalFraction: floatFromEnv("MAX_CAPITAL_FRACTION", 0.30),
		DefaultRiskFraction:       floatFromEnv("RISK_FRACTION", 0.01),
		DefaultTakeProfitRatio:    floatFromEnv("TAKE_PROFIT_RATIO", 1.5),
		DefaultAtrMultiplier:      floatFromEnv("ATR_MULTIPLIER", 2.0),
		DefaultMaxStopPct:         floatFromEnv("MAX_STOP_PCT", 3.0),
		DefaultFallbackStopPct:    floatFromEnv("FALLBACK_STOP_PCT", 2.0),
		DefaultMinBalance:         floatFromEnv("MIN_BALANCE", 5.0),
		DefaultTrailingEnabled:    boolFromEnv("TRAILING_ENABLED", false),
		DefaultTrailingCallback:   floatFromEnv("TRAILING_CALLBACK_PCT", 1.0),
		CircuitBreakerLosses:      intFromEnv("CIRCUIT_BREAKER_LOSSES", 5),
		DefaultBreakevenROI:       floatFromEnv("BREAKEVEN_ROI", 0.10),
		MaxCorrelation:            floatFromEnv("MAX_CORRELATION", 0.85),
		CorrelationWindow:         intFromEnv("CORRELATION_WINDOW", 50),

		DefaultCooldownPerSymbol: durationFromEnv("COOLDOWN_PER_SYMBOL", "300s"),
		DefaultConfirmTimeout:    durationFromEnv("CONFIRM_TIMEOUT", "60s"),
		NudgeTicks:               intFromEnv("NUDGE_TICKS", 1),
		AdapterTimeout:           durationFromEnv("ADAPTER_TIMEOUT", "8s"),
		FlipSettleDelay:          durationFromEnv("FLIP_SETTLE_DELAY", "3s"),
		QueueSize:                intFromEnv("QUEUE_SIZE", 32),
		MaxParallelSessions:      intFromEnv("MAX_PARALLEL_SESSIONS", 4),

		MonitorInterval: durationFromEnv("MONITOR_INTERVAL", "30s"),
		CrashDropPct:    floatFromEnv("CRASH_DROP_PCT", 3.0),
		CrashWindow:     durationFromEnv("CRASH_WINDOW", "5m"),
		CrashSymbol:     getenvDefault("CRASH_SYMBOL", "BTCUSDT"),
		CrashCloseAll:   boolFromEnv("CRASH_CLOSE_ALL", false),
		PriceStreamURL:  getenvDefault("PRICE_STREAM_URL", "wss://fstream.binance.com/ws/!markPrice@arr@1s"),
		PriceTTL:        durationFromEnv("PRICE_TTL", "5s"),
	}
	cfg.UsersFile = getenvDefault("USERS_FILE", "data/users.json")
	cfg.Watchlist = []string{"BTCUSDT", "ETHUSDT"}
	cfg.Service.Name = getenvDefault("SERVICE_NAME", "nexus_bot")
	cfg.Service.HealthAddr = getenvDefault("HEALTH_ADDR", ":8080")
	cfg.Service.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.Tracing.Host = getenvDefault("JAEGER_HOST", "localhost")
	cfg.Tracing.Port = intFromEnv("JAEGER_PORT", 6831)
	return cfg
}

// Load читает yaml через viper (env NEXUS_* перекрывает ключи файла)
// и раскладывает в cfg поверх дефолтов.
func Load(cfg *Config, path string) error {
	engine := viper.New()
	engine.SetConfigFile(path)
	engine.SetConfigType("yaml")
	engine.SetEnvPrefix(envPrefix)
	engine.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	engine.AutomaticEnv()

	if err := engine.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}

	bs, err := yaml.Marshal(engine.AllSettings())
	if err != nil {
		return errors.Wrap(err, "marshal settings to yaml")
	}
	if err := yaml.Unmarshal(bs, cfg); err != nil {
		return errors.Wrap(err, "decode config")
	}
	return nil
}

// Exchange возвращает настройки биржи по имени (регистр не важен).
func (c *Config) Exchange(name string) (ExchangeConfig, bool) {
	for k, v := range c.Exchanges {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return ExchangeConfig{}, false
}

// ключи бирж из env: BINANCE_API_KEY, BYBIT_API_SECRET, OKX_PASSPHRASE ...
func credentialsFromEnv(name string, ex ExchangeConfig) ExchangeConfig {
	prefix := strings.ToUpper(name) + "_"
	ex.APIKey = getenvDefault(prefix+"API_KEY", ex.APIKey)
	ex.APISecret = getenvDefault(prefix+"API_SECRET", ex.APISecret)
	ex.Passphrase = getenvDefault(prefix+"PASSPHRASE", ex.Passphrase)
	if ex.Timeout <= 0 {
		ex.Timeout = 10 * time.Second
	}
	if ex.Retries <= 0 {
		ex.Retries = 3
	}
	if ex.RateLimit <= 0 {
		ex.RateLimit = 10
	}
	if ex.Burst <= 0 {
		ex.Burst = 5
	}
	return ex
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
