package channels

import (
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestCooldown_Allow(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewCooldown(30*time.Second, 5*time.Second)
	now := base
	c.now = func() time.Time { return now }

	steps := []struct {
		name   string
		at     time.Duration
		user   string
		want   bool
		minRet time.Duration
	}{
		{"first use", 0, "a", true, 0},
		{"same user blocked", time.Second, "a", false, 29 * time.Second},
		{"other user hits global limit", 2 * time.Second, "b", false, 2 * time.Second},
		{"other user after global interval", 6 * time.Second, "b", true, 0},
		{"first user still cooling down", 20 * time.Second, "a", false, 10 * time.Second},
		{"first user after cooldown", 31 * time.Second, "a", true, 0},
	}
	for _, s := range steps {
		now = base.Add(s.at)
		ok, retry := c.Allow(s.user)
		if ok != s.want {
			t.Fatalf("%s: ok = %v, want %v", s.name, ok, s.want)
		}
		if !ok && retry < s.minRet {
			t.Errorf("%s: retry = %v, want >= %v", s.name, retry, s.minRet)
		}
	}
}

func TestCooldown_Defaults(t *testing.T) {
	c := NewCooldown(0, -1)
	if c.per != DefaultUserCooldown {
		t.Errorf("per = %v", c.per)
	}
	if got := c.global.Limit(); got != rate.Every(DefaultGlobalInterval) {
		t.Errorf("global limit = %v", got)
	}
}

func TestCooldown_BoundedTable(t *testing.T) {
	c := NewCooldown(time.Hour, time.Nanosecond)
	now := time.Now()
	c.now = func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	}
	for i := 0; i < maxTrackedUsers+10; i++ {
		c.Allow(string(rune('a'+i%26)) + time.Duration(i).String())
	}
	if len(c.lastUse) > maxTrackedUsers {
		t.Errorf("tracked = %d, cap %d", len(c.lastUse), maxTrackedUsers)
	}
}
