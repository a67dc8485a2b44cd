package ratelimit

import (
	"math/rand"
	"sync"
	"testing"
	"time"
)

type fixedJitter int

func (f fixedJitter) Intn(int) int { return int(f) }

func TestParseResetDuration(t *testing.T) {
	base := 24*time.Hour + 2*time.Hour + 30*time.Minute

	tests := []struct {
		name   string
		in     string
		jitter fixedJitter
		want   time.Duration
	}{
		{"empty is exact default", "", 1, DefaultWait},
		{"whitespace is exact default", "  ", 0, DefaultWait},
		{"days hours minutes low jitter", "1d2h30m", 0, base + 2*time.Second},
		{"days hours minutes high jitter", "1d2h30m", 1, base + 3*time.Second},
		{"minutes seconds", "6m0s", 0, 6*time.Minute + 2*time.Second},
		{"decimal seconds", "1.5s", 0, 1500*time.Millisecond + 2*time.Second},
		{"milliseconds", "250ms", 0, 250*time.Millisecond + 2*time.Second},
		{"garbage", "soon", 0, DefaultWait + 2*time.Second},
		{"trailing junk", "5s later", 1, DefaultWait + 3*time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseResetDuration(tt.in, tt.jitter); got != tt.want {
				t.Errorf("ParseResetDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseResetDuration_JitterBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	lo := 24*time.Hour + 2*time.Hour + 30*time.Minute + 2*time.Second
	hi := lo + time.Second
	for i := 0; i < 200; i++ {
		d := ParseResetDuration("1d2h30m", rng)
		if d < lo || d > hi {
			t.Fatalf("duration %v outside [%v, %v]", d, lo, hi)
		}
	}
}

func TestState_BackoffOnlyExtends(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var persisted []time.Time
	s := NewState(time.Time{}, func(t time.Time) { persisted = append(persisted, t) })

	if s.Active(now) {
		t.Fatal("zero state should not be active")
	}

	first := s.Backoff(now, time.Minute)
	if !first.Equal(now.Add(time.Minute)) {
		t.Fatalf("Backoff = %v", first)
	}
	if !s.Active(now.Add(30 * time.Second)) {
		t.Error("should be active inside the window")
	}
	if s.Active(now.Add(time.Minute)) {
		t.Error("should not be active at the reset instant")
	}

	// A shorter backoff must not shorten the window.
	if got := s.Backoff(now, time.Second); !got.Equal(first) {
		t.Errorf("shorter backoff moved reset to %v", got)
	}
	if len(persisted) != 1 {
		t.Errorf("persisted %d times, want 1", len(persisted))
	}
}

func TestState_ConcurrentBackoffKeepsMax(t *testing.T) {
	now := time.Now()
	s := NewState(time.Time{}, nil)
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Backoff(now, time.Duration(i)*time.Second)
		}(i)
	}
	wg.Wait()
	if want := now.Add(50 * time.Second); !s.ResetAt().Equal(want.UTC()) {
		t.Errorf("ResetAt = %v, want %v", s.ResetAt(), want)
	}
}

func TestFormatParseReset(t *testing.T) {
	ts, err := ParseReset(DefaultReset)
	if err != nil {
		t.Fatal(err)
	}
	if ts.Year() != 1990 || ts.Minute() != 1 {
		t.Errorf("ParseReset(%q) = %v", DefaultReset, ts)
	}
	if got := FormatReset(ts); got != DefaultReset {
		t.Errorf("FormatReset = %q, want %q", got, DefaultReset)
	}
	if _, err := ParseReset("yesterday"); err == nil {
		t.Error("expected error for malformed timestamp")
	}
}
