package timeleft

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var base = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func TestCompute(t *testing.T) {
	tests := []struct {
		name string
		left time.Duration
		exp  Remaining
	}{
		{"one second past", -time.Second, Remaining{Expired: true}},
		{"exactly now", 0, Remaining{Expired: true}},
		{"sub second", 999 * time.Millisecond, Remaining{}},
		{"mixed units", 26*time.Hour + 3*time.Minute + 4*time.Second + 900*time.Millisecond, Remaining{Days: 1, Hours: 2, Minutes: 3, Seconds: 4}},
		{"two days", 48 * time.Hour, Remaining{Days: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(base.Add(tt.left), base)
			if diff := cmp.Diff(tt.exp, got); diff != "" {
				t.Fatalf("unexpected remaining (-want +got):\n%s", diff)
			}
		})
	}
}

func TestComputeMonotonic(t *testing.T) {
	expiresAt := base.Add(5 * time.Hour)

	prev := Compute(expiresAt, base).Duration()
	for now := base; !now.After(expiresAt.Add(2 * time.Second)); now = now.Add(7 * time.Minute) {
		r := Compute(expiresAt, now)
		if r.Days < 0 || r.Hours < 0 || r.Minutes < 0 || r.Seconds < 0 {
			t.Fatalf("negative units at %s: %+v", now, r)
		}
		if d := r.Duration(); d > prev {
			t.Fatalf("remaining grew at %s: %s > %s", now, d, prev)
		}
		prev = r.Duration()
	}

	if r := Compute(expiresAt, expiresAt); !r.Expired {
		t.Fatal("expected expiry exactly at expiresAt")
	}
}

func TestClassifyBoundaries(t *testing.T) {
	tests := []struct {
		left time.Duration
		exp  Urgency
	}{
		{0, Critical},
		{time.Hour, Critical},
		{4 * time.Hour, Critical},
		{4*time.Hour + time.Second, Warning},
		{24 * time.Hour, Warning},
		{24*time.Hour + time.Second, Normal},
		{72 * time.Hour, Normal},
	}

	for _, tt := range tests {
		r := Compute(base.Add(tt.left), base)
		if got := Classify(r); got != tt.exp {
			t.Errorf("%s: expected %s, got %s", tt.left, tt.exp, got)
		}
	}
}

func TestMessage(t *testing.T) {
	tests := []struct {
		left time.Duration
		exp  string
	}{
		{-time.Minute, "¡Tiempo Agotado!"},
		{30 * time.Minute, "¡Última hora!"},
		{3 * time.Hour, "¡Menos de 4 horas restantes!"},
		{10 * time.Hour, "Menos de 1 día restante"},
		{30 * time.Hour, "Tiempo suficiente"},
	}

	for _, tt := range tests {
		if got := Message(Compute(base.Add(tt.left), base)); got != tt.exp {
			t.Errorf("%s: expected %q, got %q", tt.left, tt.exp, got)
		}
	}
}

func TestProgress(t *testing.T) {
	if got := Progress(Compute(base.Add(24*time.Hour), base), 0); got != 50 {
		t.Fatalf("expected 50%% of default window, got %v", got)
	}
	if got := Progress(Compute(base.Add(72*time.Hour), base), 48*time.Hour); got != 100 {
		t.Fatalf("expected progress clamped to 100, got %v", got)
	}
	if got := Progress(Remaining{Expired: true}, time.Hour); got != 0 {
		t.Fatalf("expected 0 when expired, got %v", got)
	}
}

func TestClock(t *testing.T) {
	if got := (Remaining{Days: 1, Hours: 2, Minutes: 3, Seconds: 4}).Clock(); got != "1d 02:03:04" {
		t.Fatalf("unexpected clock %q", got)
	}
	if got := (Remaining{Hours: 11, Minutes: 0, Seconds: 9}).Clock(); got != "11:00:09" {
		t.Fatalf("unexpected clock %q", got)
	}
}
