package runner

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"nexus_bot/internal/bridge"
	"nexus_bot/internal/cooldown"
	"nexus_bot/internal/journal"
	"nexus_bot/internal/ledger"
	"nexus_bot/internal/market"
	"nexus_bot/internal/modules/config"
	"nexus_bot/internal/monitor"
	"nexus_bot/internal/notify"
	"nexus_bot/internal/protection"
	"nexus_bot/internal/risk"
	"nexus_bot/internal/runner/router"
	"nexus_bot/internal/runner/sessions"
	"nexus_bot/internal/users"
)

type depsIn struct {
	fx.In

	Config   *config.Config
	Ledger   *ledger.Ledger
	Cooldown *cooldown.Manager
	Breaker  *risk.CircuitBreaker
	Notifier notify.Notifier
	Journal  journal.Recorder
	History  *market.History
	Log      *zap.Logger
}

func NewDeps(in depsIn) sessions.Deps {
	parallel := in.Config.MaxParallelSessions
	if parallel <= 0 {
		parallel = 4
	}
	return sessions.Deps{
		Ledger:   in.Ledger,
		Cooldown: in.Cooldown,
		Risk:     risk.NewEngine(),
		Planner:  protection.New(in.Config.NudgeTicks),
		Breaker:  in.Breaker,
		// один на всех: история цен общая, позиции берутся из учёта сессии
		Correlation: risk.NewCorrelationGuard(in.Config.MaxCorrelation, in.Config.CorrelationWindow, in.History),
		Notifier:    in.Notifier,
		Journal:     in.Journal,
		Gate:        semaphore.NewWeighted(int64(parallel)),
		Log:         in.Log,
		Options: sessions.Options{
			AdapterTimeout:  in.Config.AdapterTimeout,
			FlipSettleDelay: in.Config.FlipSettleDelay,
			QueueSize:       in.Config.QueueSize,
		},
	}
}

type cooldownIn struct {
	fx.In

	Redis *redis.Client `optional:"true"`
	Log   *zap.Logger
}

// NewCooldown — локальный кулдаун, плюс redis если он поднят.
func NewCooldown(in cooldownIn) *cooldown.Manager {
	opts := []cooldown.Option{cooldown.WithLogger(in.Log), cooldown.WithDynamic()}
	if in.Redis != nil {
		opts = append(opts, cooldown.WithShared(cooldown.NewRedisStore(in.Redis, "nexus:")))
	}
	return cooldown.NewManager(opts...)
}

func NewBreaker(cfg *config.Config) *risk.CircuitBreaker {
	return risk.NewCircuitBreaker(cfg.CircuitBreakerLosses)
}

func NewMonitor(cfg *config.Config, r *router.Router, prices *market.PriceCache, cd *cooldown.Manager, log *zap.Logger) *monitor.Monitor {
	return monitor.New(monitor.Config{
		Interval:     cfg.MonitorInterval,
		CrashSymbol:  cfg.CrashSymbol,
		CrashWindow:  cfg.CrashWindow,
		CrashDropPct: cfg.CrashDropPct,
	}, r, prices, cd, log)
}

func newManager(cfg *config.Config, r *router.Router, store users.Store, mon *monitor.Monitor, prices *market.PriceCache, breaker *risk.CircuitBreaker, log *zap.Logger) *Manager {
	m := NewManager(cfg, r, store, mon, prices, breaker, log)
	if cfg.CrashCloseAll {
		mon.OnCrash = func(ctx context.Context, _ monitor.CrashEvent) { m.CloseAllUsers(ctx) }
	}
	return m
}

func newRouter(bridges bridge.Factory, deps sessions.Deps) *router.Router {
	return router.NewRouter(bridges, deps)
}

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			ledger.New,
			NewCooldown,
			NewBreaker,
			NewDeps,
			newRouter,
			NewMonitor,
			newManager,
		),
		fx.Invoke(func(lc fx.Lifecycle, m *Manager) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					// ctx хука живёт только на время старта
					return m.Start(context.Background())
				},
				OnStop: func(context.Context) error {
					m.Stop()
					return nil
				},
			})
		}),
	)
}
