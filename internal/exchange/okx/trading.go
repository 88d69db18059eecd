package okx

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"nexus_bot/internal/exchange"
	"nexus_bot/internal/helper"
	"nexus_bot/internal/models"
	"nexus_bot/internal/symbols"
)

// algo-ордера отличаем от обычных префиксом в ID
const algoPrefix = "algo:"

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) (err error) {
	ctx, done := exchange.Trace(ctx, name, "leverage", symbol)
	defer func() { done(err) }()

	body := map[string]string{
		"instId":  c.cat.ToExchange(name, symbol),
		"lever":   strconv.Itoa(leverage),
		"mgnMode": tdMode,
	}
	err = exchange.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.post(ctx, "leverage", "/api/v5/account/set-leverage", body, nil)
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
	if err == nil || !errors.Is(err, models.ErrInvalidPrecision) {
		return res, err
	}
	c.log.Warn("precision rejected, refreshing symbol info", zap.String("symbol", req.Symbol), zap.Error(err))
	if _, rerr := c.cache.Refresh(ctx, req.Symbol); rerr != nil {
		return res, err
	}
	return exchange.PlaceWithSymbolRetry(ctx, c.cat.Candidates(name, req.Symbol), req, c.place)
}

// contracts — объём в монетах -> число контрактов, кратное lotSz.
func contracts(qty float64, info models.SymbolInfo) string {
	ct := decimal.NewFromFloat(info.ContractValue)
	if ct.IsZero() {
		ct = decimal.NewFromInt(1)
	}
	n := decimal.NewFromFloat(qty).Div(ct)
	if info.StepSize > 0 {
		lot := decimal.NewFromFloat(info.StepSize).Div(ct)
		n = n.Div(lot).Floor().Mul(lot)
	}
	return n.String()
}

type orderAck struct {
	OrdID   string `json:"ordId"`
	AlgoID  string `json:"algoId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

func (c *Client) place(ctx context.Context, instID string, req models.OrderRequest) (models.OrderResult, error) {
	info, err := c.cache.Get(ctx, req.Symbol)
	if err != nil {
		return models.OrderResult{}, err
	}
	sz := contracts(req.Quantity, info)
	if d, _ := decimal.NewFromString(sz); !d.IsPositive() {
		return models.OrderResult{}, &models.ExchangeError{Exchange: name, Op: "place", Msg: "size below lot", Kind: models.ErrInvalidPrecision}
	}

	body := map[string]any{
		"instId": instID,
		"tdMode": tdMode,
		"side":   strings.ToLower(string(req.Side)),
		"sz":     sz,
	}
	if req.ReduceOnly || req.Type.Protective() {
		body["reduceOnly"] = true
	}

	path := "/api/v5/trade/order"
	switch req.Type {
	case models.OrderMarket:
		body["ordType"] = "market"
	case models.OrderLimit:
		body["ordType"] = "limit"
		body["px"] = formatPrice(req.Price, info.TickSize)
	case models.OrderStop:
		path = "/api/v5/trade/order-algo"
		body["ordType"] = "conditional"
		body["slTriggerPx"] = formatPrice(req.Params.TriggerPrice, info.TickSize)
		body["slOrdPx"] = "-1"
		body["slTriggerPxType"] = triggerPxType(req.Params.WorkingType)
	case models.OrderTakeProfit:
		path = "/api/v5/trade/order-algo"
		body["ordType"] = "conditional"
		body["tpTriggerPx"] = formatPrice(req.Params.TriggerPrice, info.TickSize)
		body["tpOrdPx"] = "-1"
		body["tpTriggerPxType"] = triggerPxType(req.Params.WorkingType)
	case models.OrderTrailingStop:
		path = "/api/v5/trade/order-algo"
		body["ordType"] = "move_order_stop"
		body["callbackRatio"] = CallbackRatio(req.Params.CallbackPct)
		body["activePx"] = formatPrice(req.Params.ActivationPrice, info.TickSize)
	}
	if req.ClientID != "" {
		if path == "/api/v5/trade/order" {
			body["clOrdId"] = req.ClientID
		} else {
			body["algoClOrdId"] = req.ClientID
		}
	}

	acks, err := exchange.RetryIf(ctx, c.retry, exchange.IsRateLimited, func(ctx context.Context) ([]orderAck, error) {
		var acks []orderAck
		err := c.post(ctx, "place", path, body, &acks)
		return acks, err
	})
	if err != nil {
		return models.OrderResult{}, err
	}
	if len(acks) == 0 {
		return models.OrderResult{}, &models.ExchangeError{Exchange: name, Op: "place", Msg: "empty ack", Kind: models.ErrTimeout}
	}

	ack := acks[0]
	if ack.AlgoID != "" {
		return models.OrderResult{OrderID: algoPrefix + ack.AlgoID, ClientID: req.ClientID, Status: "live"}, nil
	}
	out := models.OrderResult{OrderID: ack.OrdID, ClientID: ack.ClOrdID, Status: "live"}
	if req.Type == models.OrderMarket {
		if px, filled, state, err := c.fillOf(ctx, instID, ack.OrdID, info); err == nil {
			out.FillPrice, out.FilledQty, out.Status = px, filled, state
		} else {
			c.log.Warn("fill price lookup failed", zap.String("symbol", req.Symbol), zap.Error(err))
		}
	}
	return out, nil
}

func (c *Client) fillOf(ctx context.Context, instID, ordID string, info models.SymbolInfo) (float64, float64, string, error) {
	var rows []struct {
		AvgPx     string `json:"avgPx"`
		AccFillSz string `json:"accFillSz"`
		State     string `json:"state"`
	}
	q := url.Values{"instId": {instID}, "ordId": {ordID}}
	if err := c.get(ctx, "order_state", "/api/v5/trade/order", q, &rows); err != nil {
		return 0, 0, "", err
	}
	if len(rows) == 0 {
		return 0, 0, "", &models.ExchangeError{Exchange: name, Op: "order_state", Msg: ordID, Kind: models.ErrInvalidOrder}
	}
	return parseFloat(rows[0].AvgPx), parseFloat(rows[0].AccFillSz) * info.ContractValue, rows[0].State, nil
}

func validate(req models.OrderRequest) error {
	bad := func(msg string) error {
		return &models.ExchangeError{Exchange: name, Op: "place", Msg: msg, Kind: models.ErrInvalidOrder}
	}
	if req.Quantity <= 0 {
		return bad("quantity <= 0")
	}
	switch req.Type {
	case models.OrderStop, models.OrderTakeProfit:
		if req.Params.TriggerPrice <= 0 {
			return bad("empty trigger price")
		}
	case models.OrderTrailingStop:
		if req.Params.CallbackPct <= 0 || req.Params.ActivationPrice <= 0 {
			return bad("empty callback or activation")
		}
	case models.OrderLimit:
		if req.Price <= 0 {
			return bad("empty limit price")
		}
	}
	return nil
}

// CallbackRatio — OKX ждёт долю, а не проценты: 2% -> "0.02".
func CallbackRatio(pct float64) string {
	return decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100)).String()
}

func triggerPxType(workingType string) string {
	if workingType == "LAST_PRICE" {
		return "last"
	}
	return "mark"
}

func formatPrice(px, tick float64) string {
	return helper.FormatByStep(helper.RoundToTick(px, tick), tick)
}

type position struct {
	InstID  string `json:"instId"`
	Pos     string `json:"pos"`
	PosSide string `json:"posSide"`
	AvgPx   string `json:"avgPx"`
}

func (c *Client) GetPositions(ctx context.Context) (out []models.Position, err error) {
	ctx, done := exchange.Trace(ctx, name, "positions", "")
	defer func() { done(err) }()

	q := url.Values{"instType": {"SWAP"}}
	rows, err := exchange.Retry(ctx, c.retry, func(ctx context.Context) ([]position, error) {
		var rows []position
		err := c.get(ctx, "positions", "/api/v5/account/positions", q, &rows)
		return rows, err
	})
	if err != nil {
		return nil, err
	}

	ts := now()
	for _, p := range rows {
		n := parseFloat(p.Pos)
		if n == 0 {
			continue
		}
		canon := c.cat.FromExchange(name, p.InstID)
		info, err := c.cache.Get(ctx, canon)
		if err != nil {
			return nil, err
		}
		side := models.SideLong
		switch {
		case p.PosSide == "short":
			side = models.SideShort
		case p.PosSide == "net" && n < 0:
			side = models.SideShort
		}
		if n < 0 {
			n = -n
		}
		out = append(out, models.Position{
			Exchange:   name,
			Symbol:     canon,
			Side:       side,
			Quantity:   n * info.ContractValue,
			EntryPrice: parseFloat(p.AvgPx),
			UpdatedAt:  ts,
		})
	}
	return out, nil
}

type pendingAlgo struct {
	AlgoID      string `json:"algoId"`
	AlgoClOrdID string `json:"algoClOrdId"`
	InstID      string `json:"instId"`
	OrdType     string `json:"ordType"`
	Side        string `json:"side"`
	Sz          string `json:"sz"`
	SlTriggerPx string `json:"slTriggerPx"`
	TpTriggerPx string `json:"tpTriggerPx"`
	ActivePx    string `json:"activePx"`
	ReduceOnly  string `json:"reduceOnly"`
}

type pendingOrder struct {
	OrdID      string `json:"ordId"`
	ClOrdID    string `json:"clOrdId"`
	OrdType    string `json:"ordType"`
	Side       string `json:"side"`
	Sz         string `json:"sz"`
	ReduceOnly string `json:"reduceOnly"`
}

func (c *Client) GetOpenOrders(ctx context.Context, symbol string) (out []models.Order, err error) {
	ctx, done := exchange.Trace(ctx, name, "open_orders", symbol)
	defer func() { done(err) }()

	canon := symbols.Normalize(symbol)
	instID := c.cat.ToExchange(name, symbol)
	info, err := c.cache.Get(ctx, canon)
	if err != nil {
		return nil, err
	}

	for _, ordType := range []string{"conditional", "move_order_stop"} {
		q := url.Values{"instType": {"SWAP"}, "instId": {instID}, "ordType": {ordType}}
		rows, err := exchange.Retry(ctx, c.retry, func(ctx context.Context) ([]pendingAlgo, error) {
			var rows []pendingAlgo
			err := c.get(ctx, "open_orders", "/api/v5/trade/orders-algo-pending", q, &rows)
			return rows, err
		})
		if err != nil {
			return nil, err
		}
		for _, a := range rows {
			o := models.Order{
				ID:         algoPrefix + a.AlgoID,
				ClientID:   a.AlgoClOrdID,
				Symbol:     canon,
				Side:       models.OrderSide(strings.ToUpper(a.Side)),
				Quantity:   parseFloat(a.Sz) * info.ContractValue,
				ReduceOnly: a.ReduceOnly == "true",
			}
			switch {
			case a.OrdType == "move_order_stop":
				o.Type, o.TriggerPrice = models.OrderTrailingStop, parseFloat(a.ActivePx)
			case a.SlTriggerPx != "":
				o.Type, o.TriggerPrice = models.OrderStop, parseFloat(a.SlTriggerPx)
			default:
				o.Type, o.TriggerPrice = models.OrderTakeProfit, parseFloat(a.TpTriggerPx)
			}
			out = append(out, o)
		}
	}

	q := url.Values{"instType": {"SWAP"}, "instId": {instID}}
	rows, err := exchange.Retry(ctx, c.retry, func(ctx context.Context) ([]pendingOrder, error) {
		var rows []pendingOrder
		err := c.get(ctx, "open_orders", "/api/v5/trade/orders-pending", q, &rows)
		return rows, err
	})
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		typ := models.OrderMarket
		if r.OrdType == "limit" || r.OrdType == "post_only" {
			typ = models.OrderLimit
		}
		out = append(out, models.Order{
			ID:         r.OrdID,
			ClientID:   r.ClOrdID,
			Symbol:     canon,
			Type:       typ,
			Side:       models.OrderSide(strings.ToUpper(r.Side)),
			Quantity:   parseFloat(r.Sz) * info.ContractValue,
			ReduceOnly: r.ReduceOnly == "true",
		})
	}
	return out, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) (err error) {
	ctx, done := exchange.Trace(ctx, name, "cancel", symbol)
	defer func() { done(err) }()
	return c.cancel(ctx, c.cat.ToExchange(name, symbol), orderID)
}

func (c *Client) cancel(ctx context.Context, instID, orderID string) error {
	if algoID, ok := strings.CutPrefix(orderID, algoPrefix); ok {
		body := []map[string]string{{"instId": instID, "algoId": algoID}}
		return exchange.Do(ctx, c.retry, func(ctx context.Context) error {
			return c.post(ctx, "cancel", "/api/v5/trade/cancel-algos", body, nil)
		})
	}
	body := map[string]string{"instId": instID, "ordId": orderID}
	return exchange.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.post(ctx, "cancel", "/api/v5/trade/cancel-order", body, nil)
	})
}

// CancelAllOrders: у OKX нет массовой отмены для свопов, снимаем по одному.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) (err error) {
	ctx, done := exchange.Trace(ctx, name, "cancel_all", symbol)
	defer func() { done(err) }()

	orders, err := c.GetOpenOrders(ctx, symbol)
	if err != nil {
		return err
	}
	instID := c.cat.ToExchange(name, symbol)
	var errs []error
	for _, o := range orders {
		if err := c.cancel(ctx, instID, o.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
