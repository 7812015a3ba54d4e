// Package session holds ephemeral per-user interaction state. Nothing
// here is persisted: a restart drops everyone back to idle, which is
// the intended UX.
package session

import "sync"

type mode int

const (
	idle mode = iota
	awaitingComment
	awaitingFeedback
)

// RouteKind says which downstream operation free text should feed.
type RouteKind int

const (
	// RouteSubmission: no active mode, the text is a new confession.
	RouteSubmission RouteKind = iota
	RouteComment
	RouteFeedback
)

// Route is the decoded destination for one consumed text message.
type Route struct {
	Kind         RouteKind
	ConfessionID int64
	Text         string
}

type state struct {
	mode         mode
	confessionID int64
}

// Manager tracks one state entry per active user. Users never interact;
// a single mutex over the map is all the isolation required.
type Manager struct {
	mu    sync.Mutex
	users map[int64]state
}

func NewManager() *Manager {
	return &Manager{users: make(map[int64]state)}
}

// BeginComment puts the user into awaiting-comment for a confession.
func (m *Manager) BeginComment(userID, confessionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = state{mode: awaitingComment, confessionID: confessionID}
}

// BeginFeedback puts the user into awaiting-feedback.
func (m *Manager) BeginFeedback(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = state{mode: awaitingFeedback}
}

// ConsumeText routes text by the user's current mode and clears the
// mode in the same call, so a second message can never re-consume a
// stale state.
func (m *Manager) ConsumeText(userID int64, text string) Route {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.users[userID]
	delete(m.users, userID)

	switch st.mode {
	case awaitingComment:
		return Route{Kind: RouteComment, ConfessionID: st.confessionID, Text: text}
	case awaitingFeedback:
		return Route{Kind: RouteFeedback, Text: text}
	default:
		return Route{Kind: RouteSubmission, Text: text}
	}
}

// Cancel clears any active mode and reports whether one was set.
func (m *Manager) Cancel(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.users[userID]
	delete(m.users, userID)
	return ok && st.mode != idle
}
