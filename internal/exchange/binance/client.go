// Package binance — адаптер USDT-M фьючерсов Binance поверх go-binance.
package binance

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"

	"nexus_bot/internal/exchange"
	"nexus_bot/internal/helper"
	"nexus_bot/internal/models"
	"nexus_bot/internal/modules/config"
	"nexus_bot/internal/symbols"
	"nexus_bot/pkg/logger"
)

const (
	name = models.ExchangeBinance

	minCallbackRate = 0.1
	maxCallbackRate = 5.0
)

type Client struct {
	api     *futures.Client
	cat     *symbols.Catalog
	cache   *exchange.SymbolCache
	limiter *exchange.Limiter
	retry   exchange.RetryPolicy
	timeout time.Duration
	log     *zap.Logger
}

var _ exchange.Adapter = (*Client)(nil)

func New(cfg config.ExchangeConfig, log *zap.Logger) *Client {
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	api := futures.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		api.BaseURL = cfg.BaseURL
	}
	api.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	if log == nil {
		log = logger.L()
	}
	retry := exchange.DefaultRetry()
	if cfg.Retries > 0 {
		retry.Attempts = cfg.Retries
	}

	c := &Client{
		api:     api,
		cat:     symbols.Default(),
		limiter: exchange.NewLimiter(cfg.RateLimit, cfg.Burst),
		retry:   retry,
		timeout: cfg.Timeout,
		log:     log.With(zap.String("exchange", string(name))),
	}
	c.cache = exchange.NewSymbolCache(c.fetchSymbolInfo)
	return c
}

func (c *Client) Name() models.Exchange { return name }

// call — лимитер + таймаут на один запрос.
func (c *Client) call(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return ctx, func() {}, err
	}
	if c.timeout <= 0 {
		return ctx, func() {}, nil
	}
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	return cctx, cancel, nil
}

func (c *Client) GetLastPrice(ctx context.Context, symbol string) (px float64, err error) {
	ctx, done := exchange.Trace(ctx, name, "last_price", symbol)
	defer func() { done(err) }()

	wire := c.cat.ToExchange(name, symbol)
	return exchange.Retry(ctx, c.retry, func(ctx context.Context) (float64, error) {
		ctx, cancel, err := c.call(ctx)
		defer cancel()
		if err != nil {
			return 0, err
		}
		prices, err := c.api.NewListPricesService().Symbol(wire).Do(ctx)
		if err != nil {
			return 0, mapError("last_price", err)
		}
		for _, p := range prices {
			if p.Symbol != wire {
				continue
			}
			v, _ := strconv.ParseFloat(p.Price, 64)
			if v > 0 {
				return v, nil
			}
		}
		return 0, &models.ExchangeError{Exchange: name, Op: "last_price", Msg: wire, Kind: models.ErrMarketDataUnavailable}
	})
}

func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	return c.cache.Get(ctx, symbols.Normalize(symbol))
}

// fetchSymbolInfo грузит exchangeInfo целиком и раскладывает всё в кеш.
func (c *Client) fetchSymbolInfo(ctx context.Context, symbol string) (info models.SymbolInfo, err error) {
	ctx, done := exchange.Trace(ctx, name, "symbol_info", symbol)
	defer func() { done(err) }()

	ei, err := exchange.Retry(ctx, c.retry, func(ctx context.Context) (*futures.ExchangeInfo, error) {
		ctx, cancel, err := c.call(ctx)
		defer cancel()
		if err != nil {
			return nil, err
		}
		res, err := c.api.NewExchangeInfoService().Do(ctx)
		return res, mapError("symbol_info", err)
	})
	if err != nil {
		return models.SymbolInfo{}, err
	}

	found := false
	for _, s := range ei.Symbols {
		si := parseSymbol(c.cat.FromExchange(name, s.Symbol), s)
		if si.Symbol == symbol {
			info, found = si, true
			continue
		}
		c.cache.Put(si)
	}
	if !found {
		return models.SymbolInfo{}, &models.ExchangeError{Exchange: name, Op: "symbol_info", Msg: symbol, Kind: models.ErrInvalidSymbol}
	}
	return info, nil
}

func parseSymbol(canon string, s futures.Symbol) models.SymbolInfo {
	info := models.SymbolInfo{
		Symbol:            canon,
		QuantityPrecision: s.QuantityPrecision,
		PricePrecision:    s.PricePrecision,
		ContractValue:     1,
	}
	for _, f := range s.Filters {
		switch f["filterType"] {
		case "PRICE_FILTER":
			info.TickSize = filterFloat(f, "tickSize")
		case "LOT_SIZE":
			info.StepSize = filterFloat(f, "stepSize")
			info.MinQty = filterFloat(f, "minQty")
		case "MIN_NOTIONAL":
			info.MinNotional = filterFloat(f, "notional")
		}
	}
	return info
}

func filterFloat(f map[string]interface{}, key string) float64 {
	s, _ := f[key].(string)
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) (err error) {
	ctx, done := exchange.Trace(ctx, name, "leverage", symbol)
	defer func() { done(err) }()

	wire := c.cat.ToExchange(name, symbol)
	err = exchange.Do(ctx, c.retry, func(ctx context.Context) error {
		ctx, cancel, err := c.call(ctx)
		defer cancel()
		if err != nil {
			return err
		}
		_, err = c.api.NewChangeLeverageService().Symbol(wire).Leverage(leverage).Do(ctx)
		return mapError("leverage", err)
	})
	return exchange.IgnoreLeverageNotModified(err)
}

func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (res models.OrderResult, err error) {
	ctx, done := exchange.Trace(ctx, name, "place_"+strings.ToLower(string(req.Type)), req.Symbol)
	defer func() { done(err) }()

	if err := validate(req); err != nil {
		return models.OrderResult{}, err
	}

	res, err = exchange.PlaceWithSymbolRetry(ctx, c.cat.Candidates(name, req.Symbol), req, c.place)
	if err == nil || !isPrecision(err) {
		return res, err
	}

	// точность поменялась на бирже: перечитываем метаданные и пробуем ещё раз
	c.log.Warn("precision rejected, refreshing symbol info", zap.String("symbol", req.Symbol), zap.Error(err))
	if _, rerr := c.cache.Refresh(ctx, req.Symbol); rerr != nil {
		return res, err
	}
	return exchange.PlaceWithSymbolRetry(ctx, c.cat.Candidates(name, req.Symbol), req, c.place)
}

func (c *Client) place(ctx context.Context, wire string, req models.OrderRequest) (models.OrderResult, error) {
	info, err := c.cache.Get(ctx, req.Symbol)
	if err != nil {
		return models.OrderResult{}, err
	}

	qty := helper.FloorToStep(req.Quantity, info.StepSize, info.QuantityPrecision)
	if qty <= 0 {
		return models.OrderResult{}, &models.ExchangeError{Exchange: name, Op: "place", Msg: "quantity below step", Kind: models.ErrInvalidPrecision}
	}

	svc := c.api.NewCreateOrderService().
		Symbol(wire).
		Side(futures.SideType(req.Side)).
		Quantity(helper.FormatByStep(qty, info.StepSize)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if req.ClientID != "" {
		svc = svc.NewClientOrderID(req.ClientID)
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	switch req.Type {
	case models.OrderMarket:
		svc = svc.Type(futures.OrderTypeMarket)
	case models.OrderLimit:
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(formatPrice(req.Price, info.TickSize))
	case models.OrderStop:
		svc = svc.Type(futures.OrderTypeStopMarket).
			StopPrice(formatPrice(req.Params.TriggerPrice, info.TickSize)).
			WorkingType(workingType(req.Params.WorkingType))
	case models.OrderTakeProfit:
		svc = svc.Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(formatPrice(req.Params.TriggerPrice, info.TickSize)).
			WorkingType(workingType(req.Params.WorkingType))
	case models.OrderTrailingStop:
		svc = svc.Type(futures.OrderTypeTrailingStopMarket).
			ActivationPrice(formatPrice(req.Params.ActivationPrice, info.TickSize)).
			CallbackRate(strconv.FormatFloat(CallbackRate(req.Params.CallbackPct), 'f', 1, 64)).
			WorkingType(workingType(req.Params.WorkingType))
	}

	resp, err := exchange.RetryIf(ctx, c.retry, exchange.IsRateLimited, func(ctx context.Context) (*futures.CreateOrderResponse, error) {
		ctx, cancel, err := c.call(ctx)
		defer cancel()
		if err != nil {
			return nil, err
		}
		r, err := svc.Do(ctx)
		return r, mapError("place", err)
	})
	if err != nil {
		return models.OrderResult{}, err
	}

	avg, _ := strconv.ParseFloat(resp.AvgPrice, 64)
	filled, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	return models.OrderResult{
		OrderID:   strconv.FormatInt(resp.OrderID, 10),
		ClientID:  resp.ClientOrderID,
		FillPrice: avg,
		FilledQty: filled,
		Status:    string(resp.Status),
	}, nil
}

// validate — защитный ордер без триггера на биржу не уходит.
func validate(req models.OrderRequest) error {
	if req.Quantity <= 0 {
		return &models.ExchangeError{Exchange: name, Op: "place", Msg: "quantity <= 0", Kind: models.ErrInvalidOrder}
	}
	switch req.Type {
	case models.OrderStop, models.OrderTakeProfit:
		if req.Params.TriggerPrice <= 0 {
			return &models.ExchangeError{Exchange: name, Op: "place", Msg: "empty trigger price", Kind: models.ErrInvalidOrder}
		}
	case models.OrderTrailingStop:
		if req.Params.ActivationPrice <= 0 || req.Params.CallbackPct <= 0 {
			return &models.ExchangeError{Exchange: name, Op: "place", Msg: "empty activation or callback", Kind: models.ErrInvalidOrder}
		}
	case models.OrderLimit:
		if req.Price <= 0 {
			return &models.ExchangeError{Exchange: name, Op: "place", Msg: "empty limit price", Kind: models.ErrInvalidOrder}
		}
	}
	return nil
}

// CallbackRate — Binance принимает 0.1..5 процента с шагом 0.1.
func CallbackRate(pct float64) float64 {
	switch {
	case pct < minCallbackRate:
		pct = minCallbackRate
	case pct > maxCallbackRate:
		pct = maxCallbackRate
	}
	return helper.RoundToTick(pct, 0.1)
}

func workingType(raw string) futures.WorkingType {
	if raw == string(futures.WorkingTypeContractPrice) {
		return futures.WorkingTypeContractPrice
	}
	return futures.WorkingTypeMarkPrice
}

func formatPrice(px, tick float64) string {
	return helper.FormatByStep(helper.RoundToTick(px, tick), tick)
}

func (c *Client) GetPositions(ctx context.Context) (out []models.Position, err error) {
	ctx, done := exchange.Trace(ctx, name, "positions", "")
	defer func() { done(err) }()

	risks, err := exchange.Retry(ctx, c.retry, func(ctx context.Context) ([]*futures.PositionRisk, error) {
		ctx, cancel, err := c.call(ctx)
		defer cancel()
		if err != nil {
			return nil, err
		}
		r, err := c.api.NewGetPositionRiskService().Do(ctx)
		return r, mapError("positions", err)
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, p := range risks {
		amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		side := models.SideLong
		if amt < 0 {
			side, amt = models.SideShort, -amt
		}
		out = append(out, models.Position{
			Exchange:   name,
			Symbol:     c.cat.FromExchange(name, p.Symbol),
			Side:       side,
			Quantity:   amt,
			EntryPrice: entry,
			UpdatedAt:  now,
		})
	}
	return out, nil
}

func (c *Client) GetOpenOrders(ctx context.Context, symbol string) (out []models.Order, err error) {
	ctx, done := exchange.Trace(ctx, name, "open_orders", symbol)
	defer func() { done(err) }()

	wire := c.cat.ToExchange(name, symbol)
	orders, err := exchange.Retry(ctx, c.retry, func(ctx context.Context) ([]*futures.Order, error) {
		ctx, cancel, err := c.call(ctx)
		defer cancel()
		if err != nil {
			return nil, err
		}
		r, err := c.api.NewListOpenOrdersService().Symbol(wire).Do(ctx)
		return r, mapError("open_orders", err)
	})
	if err != nil {
		return nil, err
	}

	for _, o := range orders {
		qty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
		trigger, _ := strconv.ParseFloat(o.StopPrice, 64)
		if o.Type == futures.OrderTypeTrailingStopMarket {
			trigger, _ = strconv.ParseFloat(o.ActivatePrice, 64)
		}
		out = append(out, models.Order{
			ID:           strconv.FormatInt(o.OrderID, 10),
			ClientID:     o.ClientOrderID,
			Symbol:       symbols.Normalize(symbol),
			Type:         orderType(o.Type),
			Side:         models.OrderSide(o.Side),
			Quantity:     qty,
			TriggerPrice: trigger,
			ReduceOnly:   o.ReduceOnly || o.ClosePosition,
		})
	}
	return out, nil
}

func orderType(t futures.OrderType) models.OrderType {
	switch t {
	case futures.OrderTypeStopMarket, futures.OrderTypeStop:
		return models.OrderStop
	case futures.OrderTypeTakeProfitMarket, futures.OrderTypeTakeProfit:
		return models.OrderTakeProfit
	case futures.OrderTypeTrailingStopMarket:
		return models.OrderTrailingStop
	case futures.OrderTypeLimit:
		return models.OrderLimit
	}
	return models.OrderMarket
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) (err error) {
	ctx, done := exchange.Trace(ctx, name, "cancel", symbol)
	defer func() { done(err) }()

	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return &models.ExchangeError{Exchange: name, Op: "cancel", Msg: "bad order id " + orderID, Kind: models.ErrInvalidOrder}
	}
	wire := c.cat.ToExchange(name, symbol)
	return exchange.Do(ctx, c.retry, func(ctx context.Context) error {
		ctx, cancel, err := c.call(ctx)
		defer cancel()
		if err != nil {
			return err
		}
		_, err = c.api.NewCancelOrderService().Symbol(wire).OrderID(id).Do(ctx)
		return mapError("cancel", err)
	})
}

func (c *Client) CancelAllOrders(ctx context.Context, symbol string) (err error) {
	ctx, done := exchange.Trace(ctx, name, "cancel_all", symbol)
	defer func() { done(err) }()

	wire := c.cat.ToExchange(name, symbol)
	return exchange.Do(ctx, c.retry, func(ctx context.Context) error {
		ctx, cancel, err := c.call(ctx)
		defer cancel()
		if err != nil {
			return err
		}
		return mapError("cancel_all", c.api.NewCancelAllOpenOrdersService().Symbol(wire).Do(ctx))
	})
}

func (c *Client) GetBalance(ctx context.Context) (b models.Balance, err error) {
	ctx, done := exchange.Trace(ctx, name, "balance", "")
	defer func() { done(err) }()

	acc, err := exchange.Retry(ctx, c.retry, func(ctx context.Context) (*futures.Account, error) {
		ctx, cancel, err := c.call(ctx)
		defer cancel()
		if err != nil {
			return nil, err
		}
		r, err := c.api.NewGetAccountService().Do(ctx)
		return r, mapError("balance", err)
	})
	if err != nil {
		return models.Balance{}, err
	}
	for _, a := range acc.Assets {
		if a.Asset != "USDT" {
			continue
		}
		total, _ := strconv.ParseFloat(a.WalletBalance, 64)
		avail, _ := strconv.ParseFloat(a.AvailableBalance, 64)
		return models.Balance{Total: total, Available: avail, UpdatedAt: time.Now()}, nil
	}
	return models.Balance{UpdatedAt: time.Now()}, nil
}
