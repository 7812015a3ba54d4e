package model

import (
	"fmt"
	"time"
)

// VoteKind is the single allowed reaction per voter on a comment.
type VoteKind string

const (
	VoteLike    VoteKind = "like"
	VoteDislike VoteKind = "dislike"
)

func (k VoteKind) Valid() bool {
	return k == VoteLike || k == VoteDislike
}

// VoteOutcome reports what a vote call actually did.
type VoteOutcome int

const (
	// VoteCounted: first vote by this voter on this comment.
	VoteCounted VoteOutcome = iota
	// VoteChanged: voter switched kinds; old kind's count drops, new rises.
	VoteChanged
	// VoteUnchanged: re-cast of the same kind, observably a no-op.
	VoteUnchanged
)

// PendingKey is the synthetic key a pending confession is stored under.
// Distinct from the numeric confession ID so the pending and posted
// namespaces never collide.
func PendingKey(id int64) string {
	return fmt.Sprintf("p%d", id)
}

// Pending is a submitted confession awaiting moderation.
type Pending struct {
	ID        int64
	Text      string
	FromUser  int64
	UserAlias string
}

func (p Pending) Key() string {
	return PendingKey(p.ID)
}

// Confession is an approved, published submission. ChannelMessageID is
// nil until the external post is confirmed.
type Confession struct {
	ID               int64
	Text             string
	UserAlias        string
	PostedAt         time.Time
	ChannelMessageID *int
	Comments         []Comment
}

// Comment is an auto-approved reply on a posted confession. Voters maps
// voter ID to the single kind that voter currently holds; like/dislike
// totals are always derived from it, never stored.
type Comment struct {
	ID         int64
	Text       string
	UserAlias  string
	ApprovedAt time.Time
	Voters     map[int64]VoteKind
}

func (c Comment) Likes() int    { return c.countVotes(VoteLike) }
func (c Comment) Dislikes() int { return c.countVotes(VoteDislike) }

func (c Comment) countVotes(kind VoteKind) int {
	n := 0
	for _, k := range c.Voters {
		if k == kind {
			n++
		}
	}
	return n
}

// BatchReport summarizes one batch approval run.
type BatchReport struct {
	Approved  int
	Failed    int
	Remaining int
}

// DeletionReport distinguishes "local store cleaned" from "external
// removal failed" so the caller can warn an operator without re-running
// the data mutation.
type DeletionReport struct {
	Confession      Confession
	ExternalRemoved bool
	ExternalErr     error
}

// SiteStats are aggregate counts plus the most-discussed confessions.
type SiteStats struct {
	Pending       int
	Posted        int
	Comments      int
	Profiles      int
	MostDiscussed []Confession
}
