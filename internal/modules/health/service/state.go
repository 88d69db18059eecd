package service

import (
	"sync/atomic"
	"time"
)

// State — готовность сервиса, поток цен и приём сигналов.
type State struct {
	ready     atomic.Bool
	startedAt time.Time

	wsConnected  atomic.Bool
	lastTickUnix atomic.Int64 // unix seconds

	signalsAccepted atomic.Int64
	signalsRejected atomic.Int64
	lastSignalUnix  atomic.Int64
}

func NewState() *State {
	return &State{startedAt: time.Now()}
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetWSConnected(v bool) { s.wsConnected.Store(v) }
func (s *State) WSConnected() bool     { return s.wsConnected.Load() }

func (s *State) TouchTick(t time.Time) { s.lastTickUnix.Store(t.Unix()) }
func (s *State) LastTick() time.Time   { return fromUnix(s.lastTickUnix.Load()) }

// MarkSignal учитывает сигнал, пришедший по HTTP.
func (s *State) MarkSignal(accepted bool, at time.Time) {
	if accepted {
		s.signalsAccepted.Add(1)
		s.lastSignalUnix.Store(at.Unix())
		return
	}
	s.signalsRejected.Add(1)
}

func (s *State) Signals() (accepted, rejected int64) {
	return s.signalsAccepted.Load(), s.signalsRejected.Load()
}

func (s *State) LastSignal() time.Time { return fromUnix(s.lastSignalUnix.Load()) }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

func fromUnix(u int64) time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}
