package models

import (
	"time"

	"nexus_bot/internal/modules/config"
)

// UserConfig — торговые настройки пользователя.
type UserConfig struct {
	UserID int64    `json:"user_id"` // Telegram chat/user ID
	Name   string   `json:"name"`
	Mode   ExecMode `json:"mode"`

	Leverage                  int     `json:"leverage"`
	MaxLeverageAllowed        int     `json:"max_leverage_allowed"`
	CapitalFraction           float64 `json:"capital_fraction"`
	MaxCapitalFractionAllowed float64 `json:"max_capital_fraction_allowed"`
	RiskFraction              float64 `json:"risk_fraction"`
	TakeProfitRatio           float64 `json:"take_profit_ratio"`

	// стоп: ATR * AtrMultiplier, но не дальше MaxStopPct%; без ATR — FallbackStopPct%
	AtrMultiplier   float64 `json:"atr_multiplier"`
	MaxStopPct      float64 `json:"max_stop_pct"`
	FallbackStopPct float64 `json:"fallback_stop_pct"`

	MinBalance float64 `json:"min_balance"`

	PrimaryExchange  Exchange                `json:"primary_exchange"`
	AssetPrimary     map[AssetClass]Exchange `json:"asset_primary"`
	EnabledExchanges map[Exchange]bool       `json:"enabled_exchanges"`
	// пусто — разрешены все стратегии
	EnabledStrategies map[string]bool     `json:"enabled_strategies"`
	DisabledGroups    map[AssetClass]bool `json:"disabled_groups"`
	// чёрный список символов
	DisabledAssets map[string]bool `json:"disabled_assets,omitempty"`

	// ключи пользователя по биржам; без ключей биржа для него не подключается
	Credentials map[Exchange]APICredentials `json:"credentials,omitempty"`

	CooldownPerSymbol   time.Duration `json:"cooldown_per_symbol"`
	ConfirmTimeout      time.Duration `json:"confirm_timeout"`
	TrailingEnabled     bool          `json:"trailing_enabled"`
	TrailingCallbackPct float64       `json:"trailing_callback_pct"`

	// SL в безубыток, когда доход на маржу достиг порога (0.1 = 10%); 0 — выключено
	BreakevenROI float64 `json:"breakeven_roi"`
	// не входить в символ, сильно коррелирующий с открытыми позициями
	CorrelationGuard bool `json:"correlation_guard"`
}

// APICredentials — ключи одной биржи.
type APICredentials struct {
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	Passphrase string `json:"passphrase,omitempty"`
}

func (c APICredentials) Empty() bool {
	return c.APIKey == "" || c.APISecret == ""
}

// Masked — для показа в настройках.
func (c APICredentials) Masked() string {
	if c.Empty() {
		return "—"
	}
	if len(c.APIKey) <= 6 {
		return "***"
	}
	return c.APIKey[:3] + "***" + c.APIKey[len(c.APIKey)-3:]
}

// PrimaryFor — основная биржа для класса актива.
func (u *UserConfig) PrimaryFor(class AssetClass) Exchange {
	if ex, ok := u.AssetPrimary[class]; ok && ex != "" {
		return ex
	}
	return u.PrimaryExchange
}

func (u *UserConfig) ExchangeEnabled(ex Exchange) bool {
	return u.EnabledExchanges[ex]
}

func (u *UserConfig) AssetDisabled(symbol string) bool {
	return u.DisabledAssets[symbol]
}

// ToggleAsset переключает символ в чёрном списке. true — теперь выключен.
func (u *UserConfig) ToggleAsset(symbol string) bool {
	if u.DisabledAssets == nil {
		u.DisabledAssets = make(map[string]bool)
	}
	if u.DisabledAssets[symbol] {
		delete(u.DisabledAssets, symbol)
		return false
	}
	u.DisabledAssets[symbol] = true
	return true
}

// SameCredentials — ключи совпадают по всем биржам.
func (u *UserConfig) SameCredentials(other *UserConfig) bool {
	if len(u.Credentials) != len(other.Credentials) {
		return false
	}
	for ex, c := range u.Credentials {
		if other.Credentials[ex] != c {
			return false
		}
	}
	return true
}

func (u *UserConfig) StrategyEnabled(name string) bool {
	if len(u.EnabledStrategies) == 0 {
		return true
	}
	return u.EnabledStrategies[name]
}

func (u *UserConfig) Clone() *UserConfig {
	c := *u
	c.AssetPrimary = make(map[AssetClass]Exchange, len(u.AssetPrimary))
	for k, v := range u.AssetPrimary {
		c.AssetPrimary[k] = v
	}
	c.EnabledExchanges = make(map[Exchange]bool, len(u.EnabledExchanges))
	for k, v := range u.EnabledExchanges {
		c.EnabledExchanges[k] = v
	}
	c.EnabledStrategies = make(map[string]bool, len(u.EnabledStrategies))
	for k, v := range u.EnabledStrategies {
		c.EnabledStrategies[k] = v
	}
	c.DisabledGroups = make(map[AssetClass]bool, len(u.DisabledGroups))
	for k, v := range u.DisabledGroups {
		c.DisabledGroups[k] = v
	}
	c.DisabledAssets = make(map[string]bool, len(u.DisabledAssets))
	for k, v := range u.DisabledAssets {
		c.DisabledAssets[k] = v
	}
	c.Credentials = make(map[Exchange]APICredentials, len(u.Credentials))
	for k, v := range u.Credentials {
		c.Credentials[k] = v
	}
	return &c
}

// NewUserConfigFromDefaults — новый пользователь: включены все биржи из
// конфига, основная — первая из них по приоритету.
func NewUserConfigFromDefaults(userID int64, cfg *config.Config) *UserConfig {
	enabled := map[Exchange]bool{}
	primary := ExchangeBinance
	for i := len(ExchangePriority) - 1; i >= 0; i-- {
		ex := ExchangePriority[i]
		if ec, ok := cfg.Exchange(string(ex)); ok && ec.Enabled {
			enabled[ex] = true
			primary = ex
		}
	}
	return &UserConfig{
		UserID: userID,
		Mode:   ModeCopilot,

		Leverage:                  cfg.DefaultLeverage,
		MaxLeverageAllowed:        cfg.DefaultMaxLeverage,
		CapitalFraction:           cfg.DefaultCapitalFraction,
		MaxCapitalFractionAllowed: cfg.DefaultMaxCapitalFraction,
		RiskFraction:              cfg.DefaultRiskFraction,
		TakeProfitRatio:           cfg.DefaultTakeProfitRatio,

		AtrMultiplier:   cfg.DefaultAtrMultiplier,
		MaxStopPct:      cfg.DefaultMaxStopPct,
		FallbackStopPct: cfg.DefaultFallbackStopPct,
		MinBalance:      cfg.DefaultMinBalance,

		PrimaryExchange:   primary,
		AssetPrimary:      map[AssetClass]Exchange{},
		EnabledExchanges:  enabled,
		EnabledStrategies: map[string]bool{},
		DisabledGroups:    map[AssetClass]bool{},
		DisabledAssets:    map[string]bool{},
		Credentials:       map[Exchange]APICredentials{},

		CooldownPerSymbol:   cfg.DefaultCooldownPerSymbol,
		ConfirmTimeout:      cfg.DefaultConfirmTimeout,
		TrailingEnabled:     cfg.DefaultTrailingEnabled,
		TrailingCallbackPct: cfg.DefaultTrailingCallback,

		BreakevenROI:     cfg.DefaultBreakevenROI,
		CorrelationGuard: cfg.MaxCorrelation > 0,
	}
}

// NewUserConfigFromSeed — пользователь из секции users конфига.
func NewUserConfigFromSeed(seed config.UserSeed, cfg *config.Config) *UserConfig {
	u := NewUserConfigFromDefaults(seed.ID, cfg)
	u.Name = seed.Name
	if m, ok := ParseMode(seed.Mode); ok {
		u.Mode = m
	}
	if ex, ok := ParseExchange(seed.PrimaryExchange); ok {
		u.PrimaryExchange = ex
	}
	if len(seed.Exchanges) > 0 {
		u.EnabledExchanges = map[Exchange]bool{}
	}
	for _, raw := range seed.Exchanges {
		if ex, ok := ParseExchange(raw); ok {
			u.EnabledExchanges[ex] = true
		}
	}
	for raw, k := range seed.Keys {
		if ex, ok := ParseExchange(raw); ok {
			u.Credentials[ex] = APICredentials{APIKey: k.APIKey, APISecret: k.APISecret, Passphrase: k.Passphrase}
		}
	}
	for _, s := range seed.Strategies {
		u.EnabledStrategies[s] = true
	}
	if p, ok := Presets[seed.Preset]; ok {
		p.Apply(u)
	}
	return u
}
