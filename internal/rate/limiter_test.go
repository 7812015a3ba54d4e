package rate

import (
	"testing"
	"time"
)

func TestAllowWithinLimit(t *testing.T) {
	l := NewMemory(map[Op]Limit{OpSubmit: {Count: 3, Window: time.Hour}})

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow(1, OpSubmit)
		if !ok {
			t.Fatalf("request %d denied under limit", i+1)
		}
	}
	ok, wait := l.Allow(1, OpSubmit)
	if ok {
		t.Fatal("fourth request allowed over limit")
	}
	if wait <= 0 || wait > time.Hour {
		t.Fatalf("retry hint out of range: %v", wait)
	}
}

func TestUsersCountedSeparately(t *testing.T) {
	l := NewMemory(map[Op]Limit{OpVote: {Count: 1, Window: time.Hour}})

	if ok, _ := l.Allow(1, OpVote); !ok {
		t.Fatal("user 1 denied first vote")
	}
	if ok, _ := l.Allow(2, OpVote); !ok {
		t.Fatal("user 2 throttled by user 1's votes")
	}
	if ok, _ := l.Allow(1, OpVote); ok {
		t.Fatal("user 1 allowed over limit")
	}
}

func TestOpsCountedSeparately(t *testing.T) {
	l := NewMemory(map[Op]Limit{
		OpSubmit:  {Count: 1, Window: time.Hour},
		OpComment: {Count: 1, Window: time.Hour},
	})

	l.Allow(1, OpSubmit)
	if ok, _ := l.Allow(1, OpComment); !ok {
		t.Fatal("comment throttled by submit usage")
	}
}

func TestWindowResets(t *testing.T) {
	l := NewMemory(map[Op]Limit{OpComment: {Count: 1, Window: 20 * time.Millisecond}})

	l.Allow(1, OpComment)
	if ok, _ := l.Allow(1, OpComment); ok {
		t.Fatal("second request allowed inside window")
	}
	time.Sleep(30 * time.Millisecond)
	if ok, _ := l.Allow(1, OpComment); !ok {
		t.Fatal("request denied after window reset")
	}
}

func TestUnconfiguredOpUnlimited(t *testing.T) {
	l := NewMemory(map[Op]Limit{OpSubmit: {Count: 0, Window: time.Hour}})

	for i := 0; i < 100; i++ {
		if ok, _ := l.Allow(1, OpSubmit); !ok {
			t.Fatal("zero count should disable the limit")
		}
		if ok, _ := l.Allow(1, OpVote); !ok {
			t.Fatal("unconfigured op should be unlimited")
		}
	}
}
