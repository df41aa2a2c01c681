package rate

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLimiter(t *testing.T) {
	burst := 1

	interval := 10 * time.Millisecond
	lim := Every(interval)
	r := NewLimiter(burst, 100*time.Minute, lim)
	defer r.Stop()

	tooshort := 1 * time.Millisecond

	client := "203.0.113.7"
	expected := []bool{true, false, true, true, false, false}
	waits := []time.Duration{tooshort, interval, interval, tooshort, tooshort, tooshort}
	for i, exp := range expected {
		if got := r.Check(client); got != exp {
			t.Fatalf("iteration %d: expected %v, but got %v", i, exp, got)
		}
		time.Sleep(waits[i])
	}
}

func TestLimiterWithBurst(t *testing.T) {
	client := "203.0.113.7"
	burst := 10

	interval := 100 * time.Millisecond
	lim := Every(interval)

	tooshort := 10 * time.Millisecond

	shortest := 1 * time.Millisecond

	expected := []bool{true, true, true, true, true, true, true, true, true, true}
	waits := []time.Duration{0, 0, 0, 0, 0, 0, 0, 0, 0, 0}

	expected = append(expected, false, true, true, false, false, false)
	waits = append(waits, interval, interval, tooshort, tooshort, shortest, shortest)

	rr := NewLimiter(burst, 100*time.Minute, lim)
	defer rr.Stop()
	for i, exp := range expected {
		if got := rr.Check(client); got != exp {
			t.Fatalf("iteration %d: expected %v, but got %v", i, exp, got)
		}
		time.Sleep(waits[i])
	}
}

func TestLimiterClientsAreIndependent(t *testing.T) {
	r := NewLimiter(1, time.Minute, Every(time.Hour))
	defer r.Stop()

	if !r.Check("a") {
		t.Fatal("first request of a refused")
	}
	if r.Check("a") {
		t.Fatal("second request of a allowed")
	}
	if !r.Check("b") {
		t.Fatal("b limited by a")
	}
}

func TestPruneForgetsIdleClients(t *testing.T) {
	r := NewLimiter(1, time.Millisecond, Every(time.Hour))
	defer r.Stop()

	r.Check("a")
	time.Sleep(5 * time.Millisecond)
	r.prune()

	r.mu.Lock()
	n := len(r.clients)
	r.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected idle client to be pruned, %d left", n)
	}
	if !r.Check("a") {
		t.Fatal("pruned client should start with a full bucket")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	r := NewLimiter(1, time.Minute, Every(time.Second))
	r.Stop()
	r.Stop()
}
