package bybit

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"nexus_bot/internal/exchange"
	"nexus_bot/internal/helper"
	"nexus_bot/internal/models"
	"nexus_bot/internal/symbols"
)

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) (err error) {
	ctx, done := exchange.Trace(ctx, name, "leverage", symbol)
	defer func() { done(err) }()

	lev := strconv.Itoa(leverage)
	body := map[string]any{
		"category":     category,
		"symbol":       c.cat.ToExchange(name, symbol),
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}
	err = exchange.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.post(ctx, "leverage", "/v5/position/set-leverage", body, nil)
	})
	return exchange.IgnoreLeverageNotModified(err)
}

type createResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (res models.OrderResult, err error) {
	ctx, done := exchange.Trace(ctx, name, "place_"+strings.ToLower(string(req.Type)), req.Symbol)
	defer func() { done(err) }()

	if err := validate(req); err != nil {
		return models.OrderResult{}, err
	}

	res, err = exchange.PlaceWithSymbolRetry(ctx, c.cat.Candidates(name, req.Symbol), req, c.place)
	if err == nil || !errors.Is(err, models.ErrInvalidPrecision) {
		return res, err
	}
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

	if req.Type == models.OrderTrailingStop {
		return c.placeTrailing(ctx, wire, req, info)
	}

	qty := helper.FloorToStep(req.Quantity, info.StepSize, info.QuantityPrecision)
	if qty <= 0 {
		return models.OrderResult{}, &models.ExchangeError{Exchange: name, Op: "place", Msg: "quantity below step", Kind: models.ErrInvalidPrecision}
	}

	body := map[string]any{
		"category":    category,
		"symbol":      wire,
		"side":        wireSide(req.Side),
		"orderType":   "Market",
		"qty":         helper.FormatByStep(qty, info.StepSize),
		"positionIdx": 0,
	}
	if req.ClientID != "" {
		body["orderLinkId"] = req.ClientID
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}

	switch req.Type {
	case models.OrderLimit:
		body["orderType"] = "Limit"
		body["price"] = formatPrice(req.Price, info.TickSize)
		body["timeInForce"] = "GTC"
	case models.OrderStop, models.OrderTakeProfit:
		// условный маркет: без triggerDirection Bybit ордер не примет
		body["triggerPrice"] = formatPrice(req.Params.TriggerPrice, info.TickSize)
		body["triggerDirection"] = int(req.Params.TriggerDirection)
		body["triggerBy"] = triggerBy(req.Params.WorkingType)
		body["reduceOnly"] = true
		body["closeOnTrigger"] = true
	}

	r, err := exchange.RetryIf(ctx, c.retry, exchange.IsRateLimited, func(ctx context.Context) (createResult, error) {
		var r createResult
		err := c.post(ctx, "place", "/v5/order/create", body, &r)
		return r, err
	})
	if err != nil {
		return models.OrderResult{}, err
	}

	out := models.OrderResult{OrderID: r.OrderID, ClientID: r.OrderLinkID, Status: "NEW"}
	if req.Type == models.OrderMarket {
		// create не возвращает цену исполнения, добираем из истории ордера
		if o, err := c.orderState(ctx, wire, r.OrderID); err == nil {
			out.FillPrice = parseFloat(o.AvgPrice)
			out.FilledQty = parseFloat(o.CumExecQty)
			out.Status = o.OrderStatus
		} else {
			c.log.Warn("fill price lookup failed", zap.String("symbol", req.Symbol), zap.Error(err))
		}
	}
	return out, nil
}

// placeTrailing ставит трейлинг на позицию через trading-stop: trailingStop —
// абсолютная дистанция в цене, activePrice — цена активации. Если биржа
// отвергла activePrice, пробуем один раз без неё (трейлинг от текущей цены).
func (c *Client) placeTrailing(ctx context.Context, wire string, req models.OrderRequest, info models.SymbolInfo) (models.OrderResult, error) {
	dist := req.Params.TrailingDistance
	if dist < info.TickSize {
		dist = info.TickSize
	}
	body := map[string]any{
		"category":     category,
		"symbol":       wire,
		"tpslMode":     "Full",
		"positionIdx":  0,
		"trailingStop": helper.FormatByStep(helper.RoundToTick(dist, info.TickSize), info.TickSize),
		"activePrice":  formatPrice(req.Params.ActivationPrice, info.TickSize),
	}

	err := exchange.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.post(ctx, "trailing", "/v5/position/trading-stop", body, nil)
	})
	if err != nil && errors.Is(err, models.ErrInvalidOrder) {
		c.log.Warn("trailing with activation rejected, retrying without", zap.String("symbol", req.Symbol), zap.Error(err))
		delete(body, "activePrice")
		err = exchange.Do(ctx, c.retry, func(ctx context.Context) error {
			return c.post(ctx, "trailing", "/v5/position/trading-stop", body, nil)
		})
	}
	if err != nil {
		return models.OrderResult{}, err
	}
	return models.OrderResult{OrderID: "trailing:" + wire, ClientID: req.ClientID, Status: "NEW"}, nil
}

func validate(req models.OrderRequest) error {
	bad := func(msg string) error {
		return &models.ExchangeError{Exchange: name, Op: "place", Msg: msg, Kind: models.ErrInvalidOrder}
	}
	if req.Quantity <= 0 && req.Type != models.OrderTrailingStop {
		return bad("quantity <= 0")
	}
	switch req.Type {
	case models.OrderStop, models.OrderTakeProfit:
		if req.Params.TriggerPrice <= 0 {
			return bad("empty trigger price")
		}
		if req.Params.TriggerDirection == models.TriggerNone {
			return bad("empty trigger direction")
		}
	case models.OrderTrailingStop:
		if req.Params.TrailingDistance <= 0 || req.Params.ActivationPrice <= 0 {
			return bad("empty trailing distance or activation")
		}
	case models.OrderLimit:
		if req.Price <= 0 {
			return bad("empty limit price")
		}
	}
	return nil
}

func wireSide(s models.OrderSide) string {
	if s == models.OrderSell {
		return "Sell"
	}
	return "Buy"
}

func triggerBy(workingType string) string {
	if workingType == "LAST_PRICE" {
		return "LastPrice"
	}
	return "MarkPrice"
}

func formatPrice(px, tick float64) string {
	return helper.FormatByStep(helper.RoundToTick(px, tick), tick)
}

type orderRow struct {
	OrderID          string `json:"orderId"`
	OrderLinkID      string `json:"orderLinkId"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	OrderType        string `json:"orderType"`
	StopOrderType    string `json:"stopOrderType"`
	OrderStatus      string `json:"orderStatus"`
	Qty              string `json:"qty"`
	Price            string `json:"price"`
	TriggerPrice     string `json:"triggerPrice"`
	TriggerDirection int    `json:"triggerDirection"`
	ReduceOnly       bool   `json:"reduceOnly"`
	AvgPrice         string `json:"avgPrice"`
	CumExecQty       string `json:"cumExecQty"`
}

type ordersResult struct {
	List []orderRow `json:"list"`
}

func (c *Client) orderState(ctx context.Context, wire, orderID string) (orderRow, error) {
	q := url.Values{"category": {category}, "symbol": {wire}, "orderId": {orderID}}
	var r ordersResult
	if err := c.get(ctx, "order_state", "/v5/order/realtime", q, &r); err != nil {
		return orderRow{}, err
	}
	if len(r.List) == 0 {
		return orderRow{}, &models.ExchangeError{Exchange: name, Op: "order_state", Msg: orderID, Kind: models.ErrInvalidOrder}
	}
	return r.List[0], nil
}

func (c *Client) GetOpenOrders(ctx context.Context, symbol string) (out []models.Order, err error) {
	ctx, done := exchange.Trace(ctx, name, "open_orders", symbol)
	defer func() { done(err) }()

	canon := symbols.Normalize(symbol)
	q := url.Values{"category": {category}, "symbol": {c.cat.ToExchange(name, symbol)}}
	r, err := exchange.Retry(ctx, c.retry, func(ctx context.Context) (ordersResult, error) {
		var r ordersResult
		err := c.get(ctx, "open_orders", "/v5/order/realtime", q, &r)
		return r, err
	})
	if err != nil {
		return nil, err
	}

	for _, o := range r.List {
		side := models.OrderBuy
		if o.Side == "Sell" {
			side = models.OrderSell
		}
		out = append(out, models.Order{
			ID:           o.OrderID,
			ClientID:     o.OrderLinkID,
			Symbol:       canon,
			Type:         classify(o, side),
			Side:         side,
			Quantity:     parseFloat(o.Qty),
			TriggerPrice: parseFloat(o.TriggerPrice),
			ReduceOnly:   o.ReduceOnly,
		})
	}
	return out, nil
}

// classify — тип ордера по stopOrderType, а для обычного условного по
// направлению триггера: закрывающий Sell на падение — это стоп лонга.
func classify(o orderRow, side models.OrderSide) models.OrderType {
	switch o.StopOrderType {
	case "StopLoss", "PartialStopLoss":
		return models.OrderStop
	case "TakeProfit", "PartialTakeProfit":
		return models.OrderTakeProfit
	case "TrailingStop":
		return models.OrderTrailingStop
	case "Stop":
		falls := models.TriggerDirection(o.TriggerDirection) == models.TriggerFallsBelow
		if (side == models.OrderSell) == falls {
			return models.OrderStop
		}
		return models.OrderTakeProfit
	}
	if o.OrderType == "Limit" {
		return models.OrderLimit
	}
	return models.OrderMarket
}

type positionsResult struct {
	List []struct {
		Symbol   string `json:"symbol"`
		Side     string `json:"side"`
		Size     string `json:"size"`
		AvgPrice string `json:"avgPrice"`
	} `json:"list"`
}

func (c *Client) GetPositions(ctx context.Context) (out []models.Position, err error) {
	ctx, done := exchange.Trace(ctx, name, "positions", "")
	defer func() { done(err) }()

	q := url.Values{"category": {category}, "settleCoin": {"USDT"}}
	r, err := exchange.Retry(ctx, c.retry, func(ctx context.Context) (positionsResult, error) {
		var r positionsResult
		err := c.get(ctx, "positions", "/v5/position/list", q, &r)
		return r, err
	})
	if err != nil {
		return nil, err
	}

	ts := now()
	for _, p := range r.List {
		size := parseFloat(p.Size)
		if size <= 0 || p.Side == "" {
			continue
		}
		side := models.SideLong
		if p.Side == "Sell" {
			side = models.SideShort
		}
		out = append(out, models.Position{
			Exchange:   name,
			Symbol:     c.cat.FromExchange(name, p.Symbol),
			Side:       side,
			Quantity:   size,
			EntryPrice: parseFloat(p.AvgPrice),
			UpdatedAt:  ts,
		})
	}
	return out, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) (err error) {
	ctx, done := exchange.Trace(ctx, name, "cancel", symbol)
	defer func() { done(err) }()

	body := map[string]any{
		"category": category,
		"symbol":   c.cat.ToExchange(name, symbol),
		"orderId":  orderID,
	}
	return exchange.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.post(ctx, "cancel", "/v5/order/cancel", body, nil)
	})
}

func (c *Client) CancelAllOrders(ctx context.Context, symbol string) (err error) {
	ctx, done := exchange.Trace(ctx, name, "cancel_all", symbol)
	defer func() { done(err) }()

	body := map[string]any{
		"category": category,
		"symbol":   c.cat.ToExchange(name, symbol),
	}
	return exchange.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.post(ctx, "cancel_all", "/v5/order/cancel-all", body, nil)
	})
}
