package models

type Preset struct {
	Name        string
	Description string
	Apply       func(u *UserConfig)
}

var Presets = map[string]Preset{
	"safe": {
		Name:        "🟢 Консервативный",
		Description: "Минимальный риск, подходит новичкам",
		Apply: func(u *UserConfig) {
			u.Leverage = 3
			u.CapitalFraction = 0.05
			u.RiskFraction = 0.005
			u.TakeProfitRatio = 2.0
			u.MaxStopPct = 2.0
			u.FallbackStopPct = 1.2
			u.TrailingEnabled = false
		},
	},
	"mid": {
		Name:        "🟡 Средний",
		Description: "Баланс риска и доходности",
		Apply: func(u *UserConfig) {
			u.Leverage = 5
			u.CapitalFraction = 0.10
			u.RiskFraction = 0.01
			u.TakeProfitRatio = 1.5
			u.MaxStopPct = 3.0
			u.FallbackStopPct = 2.0
		},
	},
	"aggr": {
		Name:        "🔴 Агрессивный",
		Description: "Высокий риск, только для опытных",
		Apply: func(u *UserConfig) {
			u.Leverage = 10
			u.CapitalFraction = 0.20
			u.RiskFraction = 0.02
			u.TakeProfitRatio = 2.5
			u.MaxStopPct = 4.0
			u.FallbackStopPct = 2.5
			u.TrailingEnabled = true
			u.TrailingCallbackPct = 1.5
		},
	},
}
