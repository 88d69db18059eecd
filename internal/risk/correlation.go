package risk

import (
	"fmt"
	"math"

	"nexus_bot/internal/models"
)

// Closes — история цен символа, от старых к новым.
type Closes interface {
	Closes(symbol string) []float64
}

// CorrelationGuard не пускает вход в символ, который ходит вместе с уже
// открытой позицией: корреляция лог-доходностей выше Max.
type CorrelationGuard struct {
	Max    float64
	Window int
	hist   Closes
}

func NewCorrelationGuard(max float64, window int, hist Closes) *CorrelationGuard {
	if window <= 0 {
		window = 50
	}
	return &CorrelationGuard{Max: max, Window: window, hist: hist}
}

// minReturns — меньше точек корреляцию не считаем.
const minReturns = 10

// Check: nil — вход разрешён. Нехватка истории входу не мешает.
func (g *CorrelationGuard) Check(candidate string, open []string) error {
	if g == nil || g.hist == nil || g.Max <= 0 || len(open) == 0 {
		return nil
	}
	cand := tail(g.hist.Closes(candidate), g.Window)
	if float64(len(cand)) < float64(g.Window)*0.8 {
		return nil
	}
	for _, sym := range open {
		if sym == candidate {
			continue
		}
		other := tail(g.hist.Closes(sym), g.Window)
		corr, ok := Correlation(cand, other)
		if ok && corr > g.Max {
			return fmt.Errorf("%s ~ %s corr=%.2f: %w", candidate, sym, corr, models.ErrCorrelationLimit)
		}
	}
	return nil
}

// Correlation — Пирсон по лог-доходностям общего хвоста двух рядов.
func Correlation(a, b []float64) (float64, bool) {
	n := min(len(a), len(b))
	ra, rb := logReturns(a[len(a)-n:]), logReturns(b[len(b)-n:])
	if len(ra) < minReturns || len(ra) != len(rb) {
		return 0, false
	}
	ma, mb := mean(ra), mean(rb)
	var cov, va, vb float64
	for i := range ra {
		da, db := ra[i]-ma, rb[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0, false
	}
	return cov / math.Sqrt(va*vb), true
}

func logReturns(px []float64) []float64 {
	if len(px) < 2 {
		return nil
	}
	out := make([]float64, 0, len(px)-1)
	for i := 1; i < len(px); i++ {
		if px[i-1] <= 0 || px[i] <= 0 {
			return nil
		}
		out = append(out, math.Log(px[i]/px[i-1]))
	}
	return out
}

func mean(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func tail(xs []float64, n int) []float64 {
	if len(xs) > n {
		return xs[len(xs)-n:]
	}
	return xs
}
