// Package rate throttles per-user actions with fixed windows. This is
// local spam control, separate from the pacing of outbound sends.
package rate

import (
	"sync"
	"time"
)

// Op names a rate-limited user action.
type Op string

const (
	OpSubmit  Op = "submit"
	OpComment Op = "comment"
	OpVote    Op = "vote"
)

// Limit allows Count actions per Window. A zero Count disables the
// limit for that op.
type Limit struct {
	Count  int
	Window time.Duration
}

type Limiter interface {
	Allow(userID int64, op Op) (bool, time.Duration)
}

type MemoryLimiter struct {
	limits map[Op]Limit

	mu    sync.Mutex
	store map[userKey]*window
}

type userKey struct {
	user int64
	op   Op
}

type window struct {
	count   int
	resetAt time.Time
}

func NewMemory(limits map[Op]Limit) *MemoryLimiter {
	return &MemoryLimiter{limits: limits, store: make(map[userKey]*window)}
}

// Allow reports whether userID may perform op now, and if not, how long
// until the window resets.
func (m *MemoryLimiter) Allow(userID int64, op Op) (bool, time.Duration) {
	lim, ok := m.limits[op]
	if !ok || lim.Count <= 0 {
		return true, 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	key := userKey{user: userID, op: op}
	w, ok := m.store[key]
	if !ok || now.After(w.resetAt) {
		w = &window{count: 0, resetAt: now.Add(lim.Window)}
		m.store[key] = w
	}

	if w.count >= lim.Count {
		return false, time.Until(w.resetAt)
	}

	w.count++
	return true, 0
}
