package limiter

import (
	"testing"
	"time"
)

func TestAllowUpToLimit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(3, time.Minute).WithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if !l.Allow("user-a") {
			t.Fatalf("request %d: want allowed", i+1)
		}
	}
	if l.Allow("user-a") {
		t.Fatalf("request 4: want rejected")
	}
}

func TestWindowResets(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(2, time.Minute).WithClock(func() time.Time { return now })

	if !l.Allow("user-a") || !l.Allow("user-a") {
		t.Fatalf("first window: want both allowed")
	}
	if l.Allow("user-a") {
		t.Fatalf("over limit: want rejected")
	}

	now = now.Add(time.Minute)
	if !l.Allow("user-a") {
		t.Fatalf("after window elapsed: want allowed")
	}
}

func TestUsersAreIndependent(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(1, time.Minute).WithClock(func() time.Time { return now })

	if !l.Allow("user-a") {
		t.Fatalf("user a: want allowed")
	}
	if !l.Allow("user-b") {
		t.Fatalf("user b: want allowed despite a's usage")
	}
	if l.Allow("user-a") {
		t.Fatalf("user a second: want rejected")
	}
}

func TestRemaining(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(3, time.Minute).WithClock(func() time.Time { return now })

	if got := l.Remaining("user-a"); got != 3 {
		t.Fatalf("fresh remaining: want=3 got=%d", got)
	}
	l.Allow("user-a")
	l.Allow("user-a")
	if got := l.Remaining("user-a"); got != 1 {
		t.Fatalf("remaining: want=1 got=%d", got)
	}
	now = now.Add(2 * time.Minute)
	if got := l.Remaining("user-a"); got != 3 {
		t.Fatalf("remaining after reset: want=3 got=%d", got)
	}
}
