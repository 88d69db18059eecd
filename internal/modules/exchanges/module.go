package exchanges

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"nexus_bot/internal/bridge"
	"nexus_bot/internal/exchange"
	"nexus_bot/internal/exchange/binance"
	"nexus_bot/internal/exchange/bybit"
	"nexus_bot/internal/exchange/okx"
	"nexus_bot/internal/market"
	"nexus_bot/internal/models"
	"nexus_bot/internal/modules/config"
)

type constructor func(cfg config.ExchangeConfig, log *zap.Logger) exchange.Adapter

var constructors = map[models.Exchange]constructor{
	models.ExchangeBinance: func(c config.ExchangeConfig, l *zap.Logger) exchange.Adapter { return binance.New(c, l) },
	models.ExchangeBybit:   func(c config.ExchangeConfig, l *zap.Logger) exchange.Adapter { return bybit.New(c, l) },
	models.ExchangeOKX:     func(c config.ExchangeConfig, l *zap.Logger) exchange.Adapter { return okx.New(c, l) },
}

// NewHistory — минутные точки для проверки корреляции.
func NewHistory(cfg *config.Config) *market.History {
	return market.NewHistory(time.Minute, cfg.CorrelationWindow)
}

func NewPriceCache(cfg *config.Config, h *market.History) *market.PriceCache {
	c := market.NewPriceCache(cfg.PriceTTL)
	c.Track(h)
	return c
}

// NewBridge — биржи на ключах из конфига. Нужна для рыночных данных
// (прогрев символов); торговые сессии получают свои через UserBridges.
func NewBridge(cfg *config.Config, cache *market.PriceCache, log *zap.Logger) (*bridge.Bridge, error) {
	b := bridge.New()
	for _, ex := range models.ExchangePriority {
		ec, ok := cfg.Exchange(string(ex))
		if !ok || !ec.Enabled {
			continue
		}
		b.Add(market.WithCache(constructors[ex](ec, log), cache))
		log.Info("exchange enabled", zap.String("exchange", string(ex)), zap.Bool("testnet", ec.Testnet))
	}
	if len(b.Available()) == 0 {
		return nil, fmt.Errorf("no exchanges enabled in config")
	}
	return b, nil
}

// UserBridges строит адаптеры на ключах пользователя. Ключи из конфига
// достаются только админу, если своих он не задал.
type UserBridges struct {
	cfg   *config.Config
	cache *market.PriceCache
	log   *zap.Logger
}

func NewUserBridges(cfg *config.Config, cache *market.PriceCache, log *zap.Logger) *UserBridges {
	return &UserBridges{cfg: cfg, cache: cache, log: log}
}

func (u *UserBridges) ForUser(uc *models.UserConfig) (*bridge.Bridge, error) {
	b := bridge.New()
	for _, ex := range models.ExchangePriority {
		ec, ok := u.cfg.Exchange(string(ex))
		if !ok || !ec.Enabled {
			continue
		}
		creds, own := uc.Credentials[ex]
		switch {
		case own && !creds.Empty():
			ec.APIKey, ec.APISecret, ec.Passphrase = creds.APIKey, creds.APISecret, creds.Passphrase
		case u.cfg.Telegram.AdminChatID != 0 && uc.UserID == u.cfg.Telegram.AdminChatID && ec.APIKey != "":
			// админ торгует на ключах сервиса
		default:
			continue
		}
		b.Add(market.WithCache(constructors[ex](ec, u.log.With(zap.Int64("owner", uc.UserID))), u.cache))
	}
	if len(b.Available()) == 0 {
		return nil, fmt.Errorf("user %d: no exchange keys: %w", uc.UserID, models.ErrAuth)
	}
	return b, nil
}

func NewStream(cfg *config.Config, cache *market.PriceCache, status market.Status, log *zap.Logger) *market.Stream {
	return market.NewStream(cfg.PriceStreamURL, cache, status, log)
}

func RunStream(lc fx.Lifecycle, cfg *config.Config, s *market.Stream) {
	if cfg.PriceStreamURL == "" {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func Module() fx.Option {
	return fx.Module("exchanges",
		fx.Provide(
			NewHistory,
			NewPriceCache,
			NewBridge,
			NewUserBridges,
			func(u *UserBridges) bridge.Factory { return u },
			NewStream,
		),
		fx.Invoke(RunStream),
	)
}
