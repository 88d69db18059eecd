// probe — проверка доступа к бирже из конфига: цена, спецификация,
// баланс, позиции и открытые ордера по символу. Ничего не размещает.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"nexus_bot/internal/exchange"
	"nexus_bot/internal/exchange/binance"
	"nexus_bot/internal/exchange/bybit"
	"nexus_bot/internal/exchange/okx"
	"nexus_bot/internal/models"
	"nexus_bot/internal/modules/config"
	"nexus_bot/internal/notify"
	"nexus_bot/internal/symbols"
	"nexus_bot/pkg/logger"
)

func main() {
	exName := flag.String("exchange", "BYBIT", "BINANCE | BYBIT | OKX")
	symbol := flag.String("symbol", "BTCUSDT", "символ")
	flag.Parse()

	log, err := logger.Init("info")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}
	ex, ok := models.ParseExchange(*exName)
	if !ok {
		log.Fatal("unknown exchange", zap.String("exchange", *exName))
	}
	ec, ok := cfg.Exchange(string(ex))
	if !ok {
		log.Fatal("exchange is not configured", zap.String("exchange", string(ex)))
	}

	var a exchange.Adapter
	switch ex {
	case models.ExchangeBinance:
		a = binance.New(ec, log)
	case models.ExchangeBybit:
		a = bybit.New(ec, log)
	case models.ExchangeOKX:
		a = okx.New(ec, log)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := probe(ctx, a, symbols.Normalize(*symbol)); err != nil {
		log.Fatal("probe failed", zap.String("exchange", string(ex)), zap.Error(err))
	}
}

func probe(ctx context.Context, a exchange.Adapter, sym string) error {
	px, err := a.GetLastPrice(ctx, sym)
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}
	info, err := a.GetSymbolInfo(ctx, sym)
	if err != nil {
		return fmt.Errorf("symbol info: %w", err)
	}
	fmt.Printf("%s %s: last=%v tick=%v step=%v minQty=%v minNotional=%v\n",
		a.Name(), sym, px, info.TickSize, info.StepSize, info.MinQty, info.MinNotional)

	bal, err := a.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	fmt.Printf("balance: %+v\n", bal)

	positions, err := a.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("positions: %w", err)
	}
	fmt.Println(notify.FormatPositions(positions))

	orders, err := a.GetOpenOrders(ctx, sym)
	if err != nil {
		return fmt.Errorf("open orders: %w", err)
	}
	for _, o := range orders {
		fmt.Printf("order %s %s %s qty=%v trigger=%v reduceOnly=%v\n", o.ID, o.Type, o.Side, o.Quantity, o.TriggerPrice, o.ReduceOnly)
	}
	return nil
}
