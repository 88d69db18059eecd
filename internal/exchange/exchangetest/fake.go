// Package exchangetest — in-memory биржа для тестов исполнения.
package exchangetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nexus_bot/internal/exchange"
	"nexus_bot/internal/models"
)

// PlaceHook может подменить результат размещения. Вернуть handled=false,
// чтобы фейк обработал запрос сам.
type PlaceHook func(req models.OrderRequest, attempt int) (res models.OrderResult, err error, handled bool)

type Fake struct {
	mu sync.Mutex

	name      models.Exchange
	prices    map[string]float64
	infos     map[string]models.SymbolInfo
	positions map[string]models.Position
	orders    map[string][]models.Order
	balance   models.Balance
	leverage  map[string]int

	nextID   int
	calls    int
	placed   []models.OrderRequest
	attempts map[models.OrderType]int
	canceled []string

	OnPlace PlaceHook
	// OnOpenOrders видит каждый вызов GetOpenOrders (call с 1) и может
	// подменить ответ, например изобразить задержку биржи
	OnOpenOrders func(call int, orders []models.Order) []models.Order
	openCalls    int
	// ордера, которые биржа "приняла", но не показывает в open orders
	HideOrders map[models.OrderType]bool
	// ордер исполняется, но ответ теряется по таймауту (один раз на тип)
	LoseResponse map[models.OrderType]bool
}

var _ exchange.Adapter = (*Fake)(nil)

func New(name models.Exchange) *Fake {
	return &Fake{
		name:         name,
		prices:       make(map[string]float64),
		infos:        make(map[string]models.SymbolInfo),
		positions:    make(map[string]models.Position),
		orders:       make(map[string][]models.Order),
		leverage:     make(map[string]int),
		attempts:     make(map[models.OrderType]int),
		HideOrders:   make(map[models.OrderType]bool),
		LoseResponse: make(map[models.OrderType]bool),
	}
}

func (f *Fake) Name() models.Exchange { return f.name }

func (f *Fake) SetPrice(symbol string, px float64) {
	f.mu.Lock()
	f.prices[symbol] = px
	f.mu.Unlock()
}

func (f *Fake) SetInfo(info models.SymbolInfo) {
	f.mu.Lock()
	f.infos[info.Symbol] = info
	f.mu.Unlock()
}

func (f *Fake) SetBalance(total, available float64) {
	f.mu.Lock()
	f.balance = models.Balance{Total: total, Available: available, UpdatedAt: time.Now()}
	f.mu.Unlock()
}

func (f *Fake) SetPosition(p models.Position) {
	f.mu.Lock()
	p.Exchange = f.name
	f.positions[p.Symbol] = p
	f.mu.Unlock()
}

func (f *Fake) AddOpenOrder(o models.Order) {
	f.mu.Lock()
	f.nextID++
	if o.ID == "" {
		o.ID = fmt.Sprintf("%s-%d", f.name, f.nextID)
	}
	f.orders[o.Symbol] = append(f.orders[o.Symbol], o)
	f.mu.Unlock()
}

// Calls — сколько раз дёрнули биржу.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) Placed() []models.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.OrderRequest, len(f.placed))
	copy(out, f.placed)
	return out
}

func (f *Fake) Canceled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.canceled...)
}

func (f *Fake) Position(symbol string) (models.Position, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[symbol]
	return p, ok
}

func (f *Fake) GetLastPrice(_ context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	px, ok := f.prices[symbol]
	if !ok || px <= 0 {
		return 0, models.ErrMarketDataUnavailable
	}
	return px, nil
}

func (f *Fake) GetSymbolInfo(_ context.Context, symbol string) (models.SymbolInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	info, ok := f.infos[symbol]
	if !ok {
		return models.SymbolInfo{}, &models.ExchangeError{Exchange: f.name, Op: "info", Kind: models.ErrInvalidSymbol}
	}
	return info, nil
}

func (f *Fake) SetLeverage(_ context.Context, symbol string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.leverage[symbol] == leverage {
		return &models.ExchangeError{Exchange: f.name, Op: "leverage", Code: "110043", Kind: models.ErrLeverageNotModified}
	}
	f.leverage[symbol] = leverage
	return nil
}

func (f *Fake) PlaceOrder(_ context.Context, req models.OrderRequest) (models.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.attempts[req.Type]++
	if f.OnPlace != nil {
		if res, err, handled := f.OnPlace(req, f.attempts[req.Type]); handled {
			if err == nil {
				f.placed = append(f.placed, req)
			}
			return res, err
		}
	}
	if req.Exchange != "" && req.Exchange != f.name {
		return models.OrderResult{}, fmt.Errorf("fake %s got request for %s", f.name, req.Exchange)
	}
	f.placed = append(f.placed, req)
	f.nextID++
	id := fmt.Sprintf("%s-%d", f.name, f.nextID)

	if req.Type == models.OrderMarket {
		px := f.prices[req.Symbol]
		f.fill(req, px)
		if f.lost(req.Type) {
			return models.OrderResult{}, f.timeout("place")
		}
		return models.OrderResult{OrderID: id, ClientID: req.ClientID, FillPrice: px, FilledQty: req.Quantity, Status: "FILLED"}, nil
	}

	if !f.HideOrders[req.Type] {
		trigger := req.Params.TriggerPrice
		if req.Type == models.OrderTrailingStop {
			trigger = req.Params.ActivationPrice
		}
		f.orders[req.Symbol] = append(f.orders[req.Symbol], models.Order{
			ID:           id,
			ClientID:     req.ClientID,
			Symbol:       req.Symbol,
			Type:         req.Type,
			Side:         req.Side,
			Quantity:     req.Quantity,
			TriggerPrice: trigger,
			ReduceOnly:   req.ReduceOnly,
		})
	}
	if f.lost(req.Type) {
		return models.OrderResult{}, f.timeout("place")
	}
	return models.OrderResult{OrderID: id, ClientID: req.ClientID, Status: "NEW"}, nil
}

func (f *Fake) lost(t models.OrderType) bool {
	if !f.LoseResponse[t] {
		return false
	}
	delete(f.LoseResponse, t)
	return true
}

func (f *Fake) timeout(op string) error {
	return &models.ExchangeError{Exchange: f.name, Op: op, Kind: models.ErrTimeout}
}

// fill применяет маркет к позиции: reduce-only уменьшает, иначе открывает/доливает.
func (f *Fake) fill(req models.OrderRequest, px float64) {
	p, ok := f.positions[req.Symbol]
	if req.ReduceOnly {
		if !ok {
			return
		}
		p.Quantity -= req.Quantity
		if p.Quantity <= 1e-12 {
			delete(f.positions, req.Symbol)
			return
		}
		f.positions[req.Symbol] = p
		return
	}
	side := models.SideLong
	if req.Side == models.OrderSell {
		side = models.SideShort
	}
	if ok && p.Side == side {
		total := p.Quantity + req.Quantity
		p.EntryPrice = (p.EntryPrice*p.Quantity + px*req.Quantity) / total
		p.Quantity = total
		f.positions[req.Symbol] = p
		return
	}
	f.positions[req.Symbol] = models.Position{
		Exchange:   f.name,
		Symbol:     req.Symbol,
		Side:       side,
		Quantity:   req.Quantity,
		EntryPrice: px,
		OpenedAt:   time.Now(),
	}
}

func (f *Fake) GetPositions(context.Context) ([]models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make([]models.Position, 0, len(f.positions))
	for _, p := range f.positions {
		out = append(out, p)
	}
	return out, nil
}

func (f *Fake) GetOpenOrders(_ context.Context, symbol string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.openCalls++
	out := append([]models.Order(nil), f.orders[symbol]...)
	if f.OnOpenOrders != nil {
		out = f.OnOpenOrders(f.openCalls, out)
	}
	return out, nil
}

func (f *Fake) CancelOrder(_ context.Context, symbol, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	list := f.orders[symbol]
	for i, o := range list {
		if o.ID == orderID {
			f.orders[symbol] = append(list[:i], list[i+1:]...)
			f.canceled = append(f.canceled, orderID)
			return nil
		}
	}
	return &models.ExchangeError{Exchange: f.name, Op: "cancel", Kind: models.ErrInvalidOrder}
}

func (f *Fake) CancelAllOrders(_ context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for _, o := range f.orders[symbol] {
		f.canceled = append(f.canceled, o.ID)
	}
	delete(f.orders, symbol)
	return nil
}

func (f *Fake) GetBalance(context.Context) (models.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.balance, nil
}
