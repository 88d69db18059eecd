package models

import "time"

type ExecStatus string

const (
	StatusSuccess ExecStatus = "success"
	StatusPartial ExecStatus = "partial"
	StatusFailed  ExecStatus = "failed"
	// сигнал отброшен до любых сетевых вызовов, уведомление не шлём
	StatusSkipped ExecStatus = "skipped"
)

// ExecutionResult — итог одной попытки исполнения, он же исходящее уведомление.
type ExecutionResult struct {
	Owner      int64
	Status     ExecStatus
	Symbol     string
	Side       Side
	Quantity   float64
	EntryPrice float64
	SLPrice    *float64
	TPPrice    *float64
	Exchange   Exchange
	Warnings   []string

	Strategy    string
	Flipped     bool
	RefreshOnly bool
	OrderIDs    []string
	Trace       []string // пройденные состояния
	Err         error
	FinishedAt  time.Time
}

func (r *ExecutionResult) Warn(msg string) { r.Warnings = append(r.Warnings, msg) }
