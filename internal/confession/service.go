// Package confession implements the moderation core: the submission
// lifecycle, comments with votes, and batch approval. It mutates the
// entity store and talks to the outside world only through Publisher.
//
// Not-found and moderation races surface as store.ErrNotFound and
// store.ErrAlreadyHandled; publisher failures as ErrPublish after local
// rollback.
package confession

import (
	"context"
	"errors"
	"log"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/kalthreti/mytelegram-confession-bot/internal/model"
	"github.com/kalthreti/mytelegram-confession-bot/internal/store"
)

// AdminAlias signs moderator-authored replies.
const AdminAlias = "Admin"

// MaxBatchApproval caps one approveBatch run.
const MaxBatchApproval = 15

const (
	aliasMinLen = 3
	aliasMaxLen = 20
)

// Publisher is the external chat transport seen from the core: post a
// confession, take one down, notify the moderators. Calls may be slow
// and may fail; the core blocks on them so store transitions happen
// strictly after the outcome is known.
type Publisher interface {
	NotifyModerators(ctx context.Context, p model.Pending) error
	Publish(ctx context.Context, c model.Confession) (messageID int, err error)
	Unpublish(ctx context.Context, messageID int) error
}

type Service struct {
	store store.Store
	pub   Publisher

	// batchPause spaces out publish calls inside one batch. A policy
	// knob for external rate constraints, not a correctness matter.
	batchPause time.Duration
	now        func() time.Time
}

func NewService(st store.Store, pub Publisher, batchPause time.Duration) *Service {
	return &Service{
		store:      st,
		pub:        pub,
		batchPause: batchPause,
		now:        time.Now,
	}
}

// Submit stores a new pending confession under the submitter's current
// alias and notifies the moderators. A failed notify rolls the whole
// submission back: no orphaned pending entry, no burned identity.
func (s *Service) Submit(ctx context.Context, userID int64, text string) (model.Pending, error) {
	alias, err := s.store.Alias(ctx, userID)
	if err != nil {
		return model.Pending{}, err
	}

	id, err := s.store.AllocateID(ctx)
	if err := persistWarn("allocate id", err); err != nil {
		return model.Pending{}, err
	}

	p := model.Pending{ID: id, Text: text, FromUser: userID, UserAlias: alias}
	if err := persistWarn("create pending", s.store.CreatePending(ctx, p)); err != nil {
		return model.Pending{}, err
	}

	if err := s.pub.NotifyModerators(ctx, p); err != nil {
		if _, terr := s.store.TakePending(ctx, p.Key()); terr != nil && !errors.Is(terr, store.ErrPersistence) {
			log.Printf("confession: rollback of pending %s: %v", p.Key(), terr)
		}
		if rerr := persistWarn("release id", s.store.ReleaseID(ctx, id)); rerr != nil {
			log.Printf("confession: release id %d: %v", id, rerr)
		}
		return model.Pending{}, &PublishError{Op: "notify", Err: err}
	}
	return p, nil
}

// Approve promotes a pending confession to posted and publishes it.
// The pending removal is atomic: when two moderators race, one gets the
// confession and the other store.ErrAlreadyHandled. A publish failure
// puts the item back in pending with its identity intact.
func (s *Service) Approve(ctx context.Context, pendingKey string) (model.Confession, error) {
	p, err := s.store.TakePending(ctx, pendingKey)
	if err != nil && !errors.Is(err, store.ErrPersistence) {
		return model.Confession{}, err
	}

	c := model.Confession{
		ID:        p.ID,
		Text:      p.Text,
		UserAlias: p.UserAlias,
		PostedAt:  s.now(),
		Comments:  []model.Comment{},
	}
	if err := persistWarn("create posted", s.store.CreatePosted(ctx, c)); err != nil {
		return model.Confession{}, err
	}

	messageID, err := s.pub.Publish(ctx, c)
	if err != nil {
		// Not "never existed": the item returns as still pending, so
		// its identity is preserved for the retry.
		if _, rerr := s.store.RemovePosted(ctx, c.ID); rerr != nil && !errors.Is(rerr, store.ErrPersistence) {
			log.Printf("confession: rollback of posted #%d: %v", c.ID, rerr)
		}
		if rerr := persistWarn("restore pending", s.store.CreatePending(ctx, p)); rerr != nil {
			log.Printf("confession: restore pending %s: %v", p.Key(), rerr)
		}
		return model.Confession{}, &PublishError{Op: "post", Err: err}
	}

	if err := persistWarn("record channel message", s.store.SetChannelMessage(ctx, c.ID, messageID)); err != nil {
		return model.Confession{}, err
	}
	c.ChannelMessageID = &messageID
	return c, nil
}

// Reject discards a pending confession. Same atomicity rule as Approve.
func (s *Service) Reject(ctx context.Context, pendingKey string) error {
	_, err := s.store.TakePending(ctx, pendingKey)
	return persistWarn("reject pending", err)
}

// ApproveBatch promotes up to maxCount pending confessions, oldest
// first, pausing between publishes. It stops at the first publish
// failure so a systemic outage is not masked behind many discrete
// errors; the report covers what actually happened either way. The
// returned error is that first publish failure, nil when none.
func (s *Service) ApproveBatch(ctx context.Context, maxCount int) (model.BatchReport, error) {
	if maxCount <= 0 || maxCount > MaxBatchApproval {
		maxCount = MaxBatchApproval
	}

	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return model.BatchReport{}, err
	}
	report := model.BatchReport{Remaining: len(pending)}

	if len(pending) > maxCount {
		pending = pending[:maxCount]
	}

	var firstErr error
	for i, p := range pending {
		if i > 0 {
			if err := s.pause(ctx); err != nil {
				firstErr = err
				break
			}
		}
		_, err := s.Approve(ctx, p.Key())
		if err != nil {
			if errors.Is(err, store.ErrAlreadyHandled) {
				// Another moderator got there first; nothing to count.
				continue
			}
			report.Failed++
			firstErr = err
			break
		}
		report.Approved++
	}

	report.Remaining -= report.Approved
	return report, firstErr
}

func (s *Service) pause(ctx context.Context) error {
	if s.batchPause <= 0 {
		return nil
	}
	t := time.NewTimer(s.batchPause)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Delete removes a posted confession locally and then asks the
// publisher to take down the external post. External failure never
// blocks the local deletion; the report says which half succeeded.
func (s *Service) Delete(ctx context.Context, confessionID int64) (model.DeletionReport, error) {
	c, err := s.store.RemovePosted(ctx, confessionID)
	if err != nil && !errors.Is(err, store.ErrPersistence) {
		return model.DeletionReport{}, err
	}

	report := model.DeletionReport{Confession: c, ExternalRemoved: true}
	if c.ChannelMessageID != nil {
		if err := s.pub.Unpublish(ctx, *c.ChannelMessageID); err != nil {
			report.ExternalRemoved = false
			report.ExternalErr = err
		}
	}
	return report, nil
}

// AddComment appends an auto-approved comment under the commenter's
// current alias. Comments skip moderation on purpose: they cost less
// trust than top-level submissions.
func (s *Service) AddComment(ctx context.Context, confessionID, userID int64, text string) (model.Comment, error) {
	alias, err := s.store.Alias(ctx, userID)
	if err != nil {
		return model.Comment{}, err
	}
	return s.appendComment(ctx, confessionID, alias, text)
}

// Reply appends a moderator-authored comment signed with AdminAlias.
func (s *Service) Reply(ctx context.Context, confessionID int64, text string) (model.Comment, error) {
	return s.appendComment(ctx, confessionID, AdminAlias, text)
}

func (s *Service) appendComment(ctx context.Context, confessionID int64, alias, text string) (model.Comment, error) {
	if _, err := s.store.GetPosted(ctx, confessionID); err != nil {
		return model.Comment{}, err
	}

	id, err := s.store.AllocateID(ctx)
	if err := persistWarn("allocate id", err); err != nil {
		return model.Comment{}, err
	}

	cm := model.Comment{
		ID:         id,
		Text:       text,
		UserAlias:  alias,
		ApprovedAt: s.now(),
		Voters:     map[int64]model.VoteKind{},
	}
	if err := s.store.AppendComment(ctx, confessionID, cm); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = s.store.ReleaseID(ctx, id)
			return model.Comment{}, err
		}
		if err := persistWarn("append comment", err); err != nil {
			return model.Comment{}, err
		}
	}
	return cm, nil
}

// Vote records voterID's reaction on a comment. Re-casting the same
// kind is observably idempotent: no write happens and the outcome is
// VoteUnchanged. Counts are always derived from the voter map, so a
// kind switch moves both tallies atomically from the voter's view.
func (s *Service) Vote(ctx context.Context, confessionID, commentID, voterID int64, kind model.VoteKind) (model.VoteOutcome, error) {
	if !kind.Valid() {
		return 0, ErrValidation
	}

	c, err := s.store.GetPosted(ctx, confessionID)
	if err != nil {
		return 0, err
	}
	var target *model.Comment
	for i := range c.Comments {
		if c.Comments[i].ID == commentID {
			target = &c.Comments[i]
			break
		}
	}
	if target == nil {
		return 0, store.ErrNotFound
	}

	prev, voted := target.Voters[voterID]
	if voted && prev == kind {
		return model.VoteUnchanged, nil
	}

	if err := persistWarn("set vote", s.store.SetVote(ctx, confessionID, commentID, voterID, kind)); err != nil {
		return 0, err
	}
	if voted {
		return model.VoteChanged, nil
	}
	return model.VoteCounted, nil
}

// DeleteComment removes a comment by 1-based display position. Later
// comments shift position by one but keep their identities.
func (s *Service) DeleteComment(ctx context.Context, confessionID int64, index int) (model.Comment, error) {
	cm, err := s.store.RemoveComment(ctx, confessionID, index)
	if err := persistWarn("delete comment", err); err != nil {
		return model.Comment{}, err
	}
	return cm, nil
}

// SetAlias validates and stores the user's alias: 3-20 characters,
// letters, digits and spaces only.
func (s *Service) SetAlias(ctx context.Context, userID int64, alias string) error {
	if err := validateAlias(alias); err != nil {
		return err
	}
	return persistWarn("set alias", s.store.SetAlias(ctx, userID, alias))
}

// Alias returns the user's current alias, defaulting to "Anonymous".
func (s *Service) Alias(ctx context.Context, userID int64) (string, error) {
	return s.store.Alias(ctx, userID)
}

// Pending lists pending confessions oldest first.
func (s *Service) Pending(ctx context.Context) ([]model.Pending, error) {
	return s.store.ListPending(ctx)
}

// Confession fetches a posted confession with its comments.
func (s *Service) Confession(ctx context.Context, id int64) (model.Confession, error) {
	return s.store.GetPosted(ctx, id)
}

// Stats returns aggregate counts and the topN most-discussed posts.
func (s *Service) Stats(ctx context.Context, topN int) (model.SiteStats, error) {
	return s.store.Stats(ctx, topN)
}

// Reset wipes every entity and restarts the counter. The confirmation
// step lives with the caller; this is unconditional.
func (s *Service) Reset(ctx context.Context) error {
	return persistWarn("reset", s.store.Reset(ctx))
}

func validateAlias(alias string) error {
	n := utf8.RuneCountInString(alias)
	if n < aliasMinLen || n > aliasMaxLen {
		return &aliasError{alias, "must be 3-20 characters"}
	}
	for _, r := range alias {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ' ' {
			return &aliasError{alias, "letters, digits and spaces only"}
		}
	}
	return nil
}

type aliasError struct {
	alias  string
	reason string
}

func (e *aliasError) Error() string {
	return "invalid alias " + e.alias + ": " + e.reason
}

func (e *aliasError) Is(target error) bool { return target == ErrValidation }

// persistWarn downgrades best-effort durability failures: the
// in-memory mutation stands, the caller just loses the write. Anything
// else passes through.
func persistWarn(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrPersistence) {
		log.Printf("confession: %s: %v", op, err)
		return nil
	}
	return err
}
