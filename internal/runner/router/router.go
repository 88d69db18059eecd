// Package router — реестр активных сессий и раздача сигналов.
package router

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"nexus_bot/internal/bridge"
	"nexus_bot/internal/models"
	"nexus_bot/internal/runner/sessions"
	"nexus_bot/pkg/logger"
)

type entry struct {
	sess   *sessions.UserSession
	cancel context.CancelFunc
}

// Router хранит активных юзеров и раздаёт сигналы.
type Router struct {
	bridges bridge.Factory
	deps    sessions.Deps
	log     *zap.Logger

	mu    sync.RWMutex
	users map[int64]*entry // userID -> сессия
}

func NewRouter(bridges bridge.Factory, deps sessions.Deps) *Router {
	log := deps.Log
	if log == nil {
		log = logger.L()
	}
	return &Router{
		bridges: bridges,
		deps:    deps,
		log:     log.Named("router"),
		users:   make(map[int64]*entry),
	}
}

// OnSignal кладёт сигнал в очередь каждой активной сессии. Возвращает,
// скольким сессиям сигнал доставлен.
func (r *Router) OnSignal(_ context.Context, sig models.Signal) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for _, e := range r.users {
		if e.sess.Enqueue(sig) {
			delivered++
		}
	}
	r.log.Debug("signal routed",
		zap.String("symbol", sig.Symbol),
		zap.String("side", string(sig.Side)),
		zap.String("strategy", sig.Strategy),
		zap.Int("sessions", delivered))
	return delivered
}

func (r *Router) GetSession(userID int64) (*sessions.UserSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.users[userID]
	if !ok {
		return nil, false
	}
	return e.sess, true
}

// Sessions — активные сессии по возрастанию userID.
func (r *Router) Sessions() []*sessions.UserSession {
	r.mu.RLock()
	out := make([]*sessions.UserSession, 0, len(r.users))
	for _, e := range r.users {
		out = append(out, e.sess)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
