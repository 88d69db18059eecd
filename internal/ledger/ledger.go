// Package ledger — теневой учёт балансов и позиций, строго по владельцу.
package ledger

import (
	"sort"
	"sync"
	"time"

	"nexus_bot/internal/helper"
	"nexus_bot/internal/models"
)

// book — записи одного владельца. Свой мьютекс, чтобы сессии разных
// пользователей не ждали друг друга.
type book struct {
	mu        sync.RWMutex
	balances  map[models.Exchange]models.Balance
	positions map[string]models.Position // helper.PosKey(exchange, symbol)
}

type Ledger struct {
	mu    sync.RWMutex
	books map[int64]*book
}

func New() *Ledger {
	return &Ledger{books: make(map[int64]*book)}
}

func (l *Ledger) book(owner int64) *book {
	l.mu.RLock()
	b, ok := l.books[owner]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.books[owner]; ok {
		return b
	}
	b = &book{
		balances:  make(map[models.Exchange]models.Balance),
		positions: make(map[string]models.Position),
	}
	l.books[owner] = b
	return b
}

func (l *Ledger) GetBalance(owner int64, ex models.Exchange) (models.Balance, bool) {
	b := l.book(owner)
	b.mu.RLock()
	defer b.mu.RUnlock()
	bal, ok := b.balances[ex]
	return bal, ok
}

// UpdateBalance: доступное не может превышать общее.
func (l *Ledger) UpdateBalance(owner int64, ex models.Exchange, bal models.Balance) {
	if bal.Available > bal.Total {
		bal.Available = bal.Total
	}
	if bal.UpdatedAt.IsZero() {
		bal.UpdatedAt = time.Now()
	}
	b := l.book(owner)
	b.mu.Lock()
	b.balances[ex] = bal
	b.mu.Unlock()
}

func (l *Ledger) GetPosition(owner int64, ex models.Exchange, symbol string) (models.Position, bool) {
	b := l.book(owner)
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[helper.PosKey(string(ex), symbol)]
	return clonePosition(p), ok
}

// UpdatePosition сохраняет копию; нулевой объём удаляет запись.
func (l *Ledger) UpdatePosition(owner int64, p models.Position) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.Owner = owner
	p.UpdatedAt = time.Now()

	key := helper.PosKey(string(p.Exchange), p.Symbol)
	b := l.book(owner)
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.Quantity == 0 {
		delete(b.positions, key)
		return nil
	}
	if old, ok := b.positions[key]; ok && p.OpenedAt.IsZero() {
		p.OpenedAt = old.OpenedAt
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = p.UpdatedAt
	}
	b.positions[key] = clonePosition(p)
	return nil
}

func (l *Ledger) RemovePosition(owner int64, ex models.Exchange, symbol string) {
	b := l.book(owner)
	b.mu.Lock()
	delete(b.positions, helper.PosKey(string(ex), symbol))
	b.mu.Unlock()
}

// Positions — все позиции владельца, отсортированы по ключу.
func (l *Ledger) Positions(owner int64) []models.Position {
	b := l.book(owner)
	b.mu.RLock()
	keys := make([]string, 0, len(b.positions))
	for k := range b.positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]models.Position, 0, len(keys))
	for _, k := range keys {
		out = append(out, clonePosition(b.positions[k]))
	}
	b.mu.RUnlock()
	return out
}

// Owners — владельцы, у которых есть хоть одна запись.
func (l *Ledger) Owners() []int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]int64, 0, len(l.books))
	for id := range l.books {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// указатели внутри Position не должны утекать наружу
func clonePosition(p models.Position) models.Position {
	if p.StopLoss != nil {
		p.StopLoss = models.Float(*p.StopLoss)
	}
	if p.TakeProfit != nil {
		p.TakeProfit = models.Float(*p.TakeProfit)
	}
	if p.Trailing != nil {
		t := *p.Trailing
		p.Trailing = &t
	}
	if p.ATR != nil {
		p.ATR = models.Float(*p.ATR)
	}
	return p
}
