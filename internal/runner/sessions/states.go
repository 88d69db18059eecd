package sessions

// State — шаг исполнения сигнала. Пройденные состояния пишутся в
// ExecutionResult.Trace.
type State int

const (
	StateIdle State = iota
	StateCheckingLiquidity
	StateSizing
	StateEntering
	StateProtecting
	StateVerifying
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCheckingLiquidity:
		return "CHECKING_LIQUIDITY"
	case StateSizing:
		return "SIZING"
	case StateEntering:
		return "ENTERING"
	case StateProtecting:
		return "PROTECTING"
	case StateVerifying:
		return "VERIFYING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}
