package store

import (
	"context"
	"errors"

	"github.com/kalthreti/mytelegram-confession-bot/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyHandled  = errors.New("already handled")
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrPersistence means the in-memory mutation was applied but the
	// durable write failed. Callers treat the operation as best-effort
	// committed and may retry a later write.
	ErrPersistence = errors.New("persistence failed")
)

// DefaultAlias is what a user without a profile reads as.
const DefaultAlias = "Anonymous"

// Store owns all durable entities: the identity counter, pending and
// posted confessions, comments with their votes, and user profiles.
// All mutating methods are safe for concurrent use and serialize
// internally; each one persists before returning (wrapping failures in
// ErrPersistence).
type Store interface {
	CounterStore
	PendingStore
	PostedStore
	CommentStore
	ProfileStore

	Stats(ctx context.Context, topN int) (model.SiteStats, error)

	// Reset discards every entity and restarts the identity counter.
	Reset(ctx context.Context) error

	Close() error
}

type CounterStore interface {
	// AllocateID hands out the next identity from the shared
	// confession/comment namespace. Strictly increasing.
	AllocateID(ctx context.Context) (int64, error)

	// ReleaseID undoes an allocation iff id is still the most recently
	// allocated identity; otherwise it is a no-op (the identity stays
	// burned rather than risking reuse).
	ReleaseID(ctx context.Context, id int64) error
}

type PendingStore interface {
	CreatePending(ctx context.Context, p model.Pending) error

	// TakePending atomically checks for and removes the pending entry
	// under key. A missing key yields ErrAlreadyHandled: when two
	// moderators race on the same entry exactly one wins.
	TakePending(ctx context.Context, key string) (model.Pending, error)

	// ListPending returns pending confessions oldest first (ascending
	// ID, which equals submission order).
	ListPending(ctx context.Context) ([]model.Pending, error)
}

type PostedStore interface {
	CreatePosted(ctx context.Context, c model.Confession) error
	GetPosted(ctx context.Context, id int64) (model.Confession, error)
	ListPosted(ctx context.Context) ([]model.Confession, error)
	RemovePosted(ctx context.Context, id int64) (model.Confession, error)
	SetChannelMessage(ctx context.Context, id int64, messageID int) error
}

type CommentStore interface {
	AppendComment(ctx context.Context, confessionID int64, c model.Comment) error

	// SetVote records or overwrites the single vote voterID holds on
	// commentID. ErrNotFound if the confession or comment is absent.
	SetVote(ctx context.Context, confessionID, commentID, voterID int64, kind model.VoteKind) error

	// RemoveComment deletes by 1-based display position. Later comments
	// shift position but keep their IDs.
	RemoveComment(ctx context.Context, confessionID int64, index int) (model.Comment, error)
}

type ProfileStore interface {
	SetAlias(ctx context.Context, userID int64, alias string) error

	// Alias returns the user's alias, or DefaultAlias if no profile
	// exists. Never an error for a missing profile.
	Alias(ctx context.Context, userID int64) (string, error)
}
