// Package jsonfile persists the whole entity store as a single JSON
// snapshot document, rewritten atomically after every mutation.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kalthreti/mytelegram-confession-bot/internal/model"
	"github.com/kalthreti/mytelegram-confession-bot/internal/store"
)

type Store struct {
	path string

	mu       sync.Mutex
	nextID   int64
	pending  map[string]model.Pending
	posted   map[int64]model.Confession
	profiles map[int64]string
}

// Open reads the snapshot at path. A missing or corrupt snapshot is
// recoverable: Open logs a warning and starts from a fresh store, it
// never fails hard on bad data.
func Open(path string) (*Store, error) {
	s := &Store{
		path:     path,
		nextID:   1,
		pending:  make(map[string]model.Pending),
		posted:   make(map[int64]model.Confession),
		profiles: make(map[int64]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return s, nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Printf("jsonfile: corrupt snapshot %s (%v), starting fresh", path, err)
		return s, nil
	}

	snap.repair()
	s.nextID = snap.NextID

	for key, rec := range snap.Pending {
		s.pending[key] = model.Pending{
			ID:        rec.ID,
			Text:      rec.Text,
			FromUser:  rec.FromUser,
			UserAlias: rec.UserAlias,
		}
	}
	for key, rec := range snap.Posted {
		var id int64
		if _, err := fmt.Sscanf(key, "%d", &id); err != nil {
			log.Printf("jsonfile: dropping posted entry with bad key %q", key)
			continue
		}
		s.posted[id] = rec.toConfession(id)
	}
	for key, alias := range snap.UserProfiles {
		var uid int64
		if _, err := fmt.Sscanf(key, "%d", &uid); err != nil {
			continue
		}
		s.profiles[uid] = alias
	}

	return s, nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) AllocateID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	return id, s.saveLocked()
}

func (s *Store) ReleaseID(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Only the most recent allocation can be taken back; anything older
	// stays burned rather than risking reuse.
	if s.nextID != id+1 {
		return nil
	}
	s.nextID = id
	return s.saveLocked()
}

func (s *Store) CreatePending(ctx context.Context, p model.Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[p.Key()] = p
	return s.saveLocked()
}

func (s *Store) TakePending(ctx context.Context, key string) (model.Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[key]
	if !ok {
		return model.Pending{}, store.ErrAlreadyHandled
	}
	delete(s.pending, key)
	return p, s.saveLocked()
}

func (s *Store) ListPending(ctx context.Context) ([]model.Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Pending, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	// IDs are allocated monotonically, so ascending ID is submission
	// order and survives snapshot reloads.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreatePosted(ctx context.Context, c model.Confession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Comments == nil {
		c.Comments = []model.Comment{}
	}
	s.posted[c.ID] = c
	return s.saveLocked()
}

func (s *Store) GetPosted(ctx context.Context, id int64) (model.Confession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.posted[id]
	if !ok {
		return model.Confession{}, store.ErrNotFound
	}
	return cloneConfession(c), nil
}

func (s *Store) ListPosted(ctx context.Context) ([]model.Confession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Confession, 0, len(s.posted))
	for _, c := range s.posted {
		out = append(out, cloneConfession(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) RemovePosted(ctx context.Context, id int64) (model.Confession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.posted[id]
	if !ok {
		return model.Confession{}, store.ErrNotFound
	}
	delete(s.posted, id)
	return c, s.saveLocked()
}

func (s *Store) SetChannelMessage(ctx context.Context, id int64, messageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.posted[id]
	if !ok {
		return store.ErrNotFound
	}
	c.ChannelMessageID = &messageID
	s.posted[id] = c
	return s.saveLocked()
}

func (s *Store) AppendComment(ctx context.Context, confessionID int64, cm model.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.posted[confessionID]
	if !ok {
		return store.ErrNotFound
	}
	if cm.Voters == nil {
		cm.Voters = make(map[int64]model.VoteKind)
	}
	c.Comments = append(c.Comments, cm)
	s.posted[confessionID] = c
	return s.saveLocked()
}

func (s *Store) SetVote(ctx context.Context, confessionID, commentID, voterID int64, kind model.VoteKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.posted[confessionID]
	if !ok {
		return store.ErrNotFound
	}
	for i := range c.Comments {
		if c.Comments[i].ID != commentID {
			continue
		}
		if c.Comments[i].Voters == nil {
			c.Comments[i].Voters = make(map[int64]model.VoteKind)
		}
		c.Comments[i].Voters[voterID] = kind
		s.posted[confessionID] = c
		return s.saveLocked()
	}
	return store.ErrNotFound
}

func (s *Store) RemoveComment(ctx context.Context, confessionID int64, index int) (model.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.posted[confessionID]
	if !ok {
		return model.Comment{}, store.ErrNotFound
	}
	if index < 1 || index > len(c.Comments) {
		return model.Comment{}, store.ErrIndexOutOfRange
	}
	removed := c.Comments[index-1]
	c.Comments = append(c.Comments[:index-1], c.Comments[index:]...)
	s.posted[confessionID] = c
	return removed, s.saveLocked()
}

func (s *Store) SetAlias(ctx context.Context, userID int64, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = alias
	return s.saveLocked()
}

func (s *Store) Alias(ctx context.Context, userID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if alias, ok := s.profiles[userID]; ok && alias != "" {
		return alias, nil
	}
	return store.DefaultAlias, nil
}

func (s *Store) Stats(ctx context.Context, topN int) (model.SiteStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := model.SiteStats{
		Pending:  len(s.pending),
		Posted:   len(s.posted),
		Profiles: len(s.profiles),
	}

	ranked := make([]model.Confession, 0, len(s.posted))
	for _, c := range s.posted {
		stats.Comments += len(c.Comments)
		if len(c.Comments) > 0 {
			ranked = append(ranked, cloneConfession(c))
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if len(ranked[i].Comments) != len(ranked[j].Comments) {
			return len(ranked[i].Comments) > len(ranked[j].Comments)
		}
		return ranked[i].ID < ranked[j].ID
	})
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	stats.MostDiscussed = ranked
	return stats, nil
}

func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = 1
	s.pending = make(map[string]model.Pending)
	s.posted = make(map[int64]model.Confession)
	s.profiles = make(map[int64]string)
	return s.saveLocked()
}

// saveLocked rewrites the snapshot with write-new-then-replace so a
// failed write can never truncate the previous durable copy. The
// in-memory mutation stands even when the write fails; callers see
// store.ErrPersistence and may retry later.
func (s *Store) saveLocked() error {
	snap := s.toSnapshotLocked()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode snapshot: %v", store.ErrPersistence, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	tmp, err := os.CreateTemp(dir, ".confessions-*.json")
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", store.ErrPersistence, err)
	}
	return nil
}

func (s *Store) toSnapshotLocked() snapshot {
	snap := snapshot{
		NextID:       s.nextID,
		Pending:      make(map[string]pendingRec, len(s.pending)),
		Posted:       make(map[string]postedRec, len(s.posted)),
		UserProfiles: make(map[string]string, len(s.profiles)),
	}
	for key, p := range s.pending {
		snap.Pending[key] = pendingRec{
			ID:        p.ID,
			Text:      p.Text,
			FromUser:  p.FromUser,
			UserAlias: p.UserAlias,
		}
	}
	for id, c := range s.posted {
		snap.Posted[fmt.Sprintf("%d", id)] = toPostedRec(c)
	}
	for uid, alias := range s.profiles {
		snap.UserProfiles[fmt.Sprintf("%d", uid)] = alias
	}
	return snap
}

func cloneConfession(c model.Confession) model.Confession {
	out := c
	out.Comments = make([]model.Comment, len(c.Comments))
	for i, cm := range c.Comments {
		voters := make(map[int64]model.VoteKind, len(cm.Voters))
		for uid, kind := range cm.Voters {
			voters[uid] = kind
		}
		cm.Voters = voters
		out.Comments[i] = cm
	}
	if c.ChannelMessageID != nil {
		ref := *c.ChannelMessageID
		out.ChannelMessageID = &ref
	}
	return out
}

var _ store.Store = (*Store)(nil)

const timeLayout = time.RFC3339

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
