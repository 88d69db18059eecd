package risk

import "testing"

func TestCircuitBreakerTripsAfterLimit(t *testing.T) {
	b := NewCircuitBreaker(3)
	for i := 0; i < 2; i++ {
		if b.RecordClose(1, -5) {
			t.Fatalf("tripped too early at loss %d", i+1)
		}
	}
	if !b.RecordClose(1, -1) {
		t.Fatalf("third loss must trip")
	}
	if !b.Tripped(1) {
		t.Fatalf("owner 1 should be tripped")
	}
	if b.Tripped(2) {
		t.Fatalf("owner 2 must not be affected")
	}

	// дальнейшие убытки не "выбивают" повторно
	if b.RecordClose(1, -1) {
		t.Fatalf("already tripped")
	}

	b.Reset(1)
	if b.Tripped(1) || b.Losses(1) != 0 {
		t.Fatalf("reset did not clear state")
	}
}

func TestCircuitBreakerWinResetsStreak(t *testing.T) {
	b := NewCircuitBreaker(2)
	b.RecordClose(7, -1)
	b.RecordClose(7, 3)
	if b.RecordClose(7, -1) {
		t.Fatalf("streak should restart after a win")
	}
}
