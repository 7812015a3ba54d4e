// Package sqlite is an alternative durable backend for deployments that
// outgrow the JSON snapshot file. Selected with CONFESSD_DB.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kalthreti/mytelegram-confession-bot/internal/model"
	"github.com/kalthreti/mytelegram-confession-bot/internal/store"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrations is an ordered list of SQL migrations.
// Each migration runs exactly once, tracked by schema_version table.
var migrations = []string{
	// Migration 1: Initial schema
	`
CREATE TABLE IF NOT EXISTS counter (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	next_id INTEGER NOT NULL
);
INSERT OR IGNORE INTO counter (id, next_id) VALUES (1, 1);

CREATE TABLE IF NOT EXISTS pending (
	key TEXT PRIMARY KEY,
	id INTEGER NOT NULL,
	text TEXT NOT NULL,
	from_user INTEGER NOT NULL,
	user_alias TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_id ON pending(id);

CREATE TABLE IF NOT EXISTS posted (
	id INTEGER PRIMARY KEY,
	text TEXT NOT NULL,
	user_alias TEXT NOT NULL,
	post_time INTEGER NOT NULL,
	channel_message_id INTEGER
);

CREATE TABLE IF NOT EXISTS comments (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id INTEGER NOT NULL,
	confession_id INTEGER NOT NULL,
	text TEXT NOT NULL,
	user_alias TEXT NOT NULL,
	approved_time INTEGER NOT NULL,
	FOREIGN KEY(confession_id) REFERENCES posted(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_comments_confession ON comments(confession_id);

CREATE TABLE IF NOT EXISTS votes (
	confession_id INTEGER NOT NULL,
	comment_id INTEGER NOT NULL,
	voter_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	PRIMARY KEY (comment_id, voter_id)
);

CREATE TABLE IF NOT EXISTS profiles (
	user_id INTEGER PRIMARY KEY,
	alias TEXT NOT NULL
);
`,
	// Future migrations go here:
	// Migration 2: `ALTER TABLE ...`,
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) AllocateID(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT next_id FROM counter WHERE id = 1`).Scan(&id); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE counter SET next_id = next_id + 1 WHERE id = 1`); err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

func (s *Store) ReleaseID(ctx context.Context, id int64) error {
	// Conditional: only unwinds the most recent allocation.
	_, err := s.db.ExecContext(ctx, `UPDATE counter SET next_id = ? WHERE id = 1 AND next_id = ?`, id, id+1)
	return err
}

func (s *Store) CreatePending(ctx context.Context, p model.Pending) error {
	_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO pending (key, id, text, from_user, user_alias)
VALUES (?, ?, ?, ?, ?)
`, p.Key(), p.ID, p.Text, p.FromUser, p.UserAlias)
	return err
}

func (s *Store) TakePending(ctx context.Context, key string) (model.Pending, error) {
	row := s.db.QueryRowContext(ctx, `
DELETE FROM pending WHERE key = ?
RETURNING id, text, from_user, user_alias
`, key)
	var p model.Pending
	if err := row.Scan(&p.ID, &p.Text, &p.FromUser, &p.UserAlias); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Pending{}, store.ErrAlreadyHandled
		}
		return model.Pending{}, err
	}
	return p, nil
}

func (s *Store) ListPending(ctx context.Context) ([]model.Pending, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, text, from_user, user_alias FROM pending ORDER BY id ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Pending
	for rows.Next() {
		var p model.Pending
		if err := rows.Scan(&p.ID, &p.Text, &p.FromUser, &p.UserAlias); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreatePosted(ctx context.Context, c model.Confession) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO posted (id, text, user_alias, post_time, channel_message_id)
VALUES (?, ?, ?, ?, ?)
`, c.ID, c.Text, c.UserAlias, c.PostedAt.Unix(), nullableInt(c.ChannelMessageID)); err != nil {
		return err
	}
	for _, cm := range c.Comments {
		if err := insertComment(ctx, tx, c.ID, cm); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetPosted(ctx context.Context, id int64) (model.Confession, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, text, user_alias, post_time, channel_message_id FROM posted WHERE id = ?
`, id)
	c, err := scanConfession(row)
	if err != nil {
		return model.Confession{}, err
	}
	c.Comments, err = s.loadComments(ctx, id)
	if err != nil {
		return model.Confession{}, err
	}
	return c, nil
}

func (s *Store) ListPosted(ctx context.Context) ([]model.Confession, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, text, user_alias, post_time, channel_message_id FROM posted ORDER BY id ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Confession
	for rows.Next() {
		c, err := scanConfession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Comments, err = s.loadComments(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) RemovePosted(ctx context.Context, id int64) (model.Confession, error) {
	c, err := s.GetPosted(ctx, id)
	if err != nil {
		return model.Confession{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Confession{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM votes WHERE confession_id = ?`, id); err != nil {
		return model.Confession{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE confession_id = ?`, id); err != nil {
		return model.Confession{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM posted WHERE id = ?`, id); err != nil {
		return model.Confession{}, err
	}
	return c, tx.Commit()
}

func (s *Store) SetChannelMessage(ctx context.Context, id int64, messageID int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE posted SET channel_message_id = ? WHERE id = ?`, messageID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AppendComment(ctx context.Context, confessionID int64, cm model.Comment) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM posted WHERE id = ?`, confessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := insertComment(ctx, tx, confessionID, cm); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) SetVote(ctx context.Context, confessionID, commentID, voterID int64, kind model.VoteKind) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `
SELECT 1 FROM comments WHERE confession_id = ? AND id = ?
`, confessionID, commentID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO votes (confession_id, comment_id, voter_id, kind)
VALUES (?, ?, ?, ?)
ON CONFLICT(comment_id, voter_id) DO UPDATE SET kind = excluded.kind
`, confessionID, commentID, voterID, string(kind))
	return err
}

func (s *Store) RemoveComment(ctx context.Context, confessionID int64, index int) (model.Comment, error) {
	if index < 1 {
		return model.Comment{}, store.ErrIndexOutOfRange
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Comment{}, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM posted WHERE id = ?`, confessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Comment{}, store.ErrNotFound
	}
	if err != nil {
		return model.Comment{}, err
	}

	row := tx.QueryRowContext(ctx, `
SELECT seq, id, text, user_alias, approved_time
FROM comments WHERE confession_id = ?
ORDER BY seq ASC LIMIT 1 OFFSET ?
`, confessionID, index-1)
	var seq, approved int64
	var cm model.Comment
	if err := row.Scan(&seq, &cm.ID, &cm.Text, &cm.UserAlias, &approved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Comment{}, store.ErrIndexOutOfRange
		}
		return model.Comment{}, err
	}
	cm.ApprovedAt = time.Unix(approved, 0)

	cm.Voters, err = loadVotersTx(ctx, tx, cm.ID)
	if err != nil {
		return model.Comment{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM votes WHERE comment_id = ?`, cm.ID); err != nil {
		return model.Comment{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE seq = ?`, seq); err != nil {
		return model.Comment{}, err
	}
	return cm, tx.Commit()
}

func (s *Store) SetAlias(ctx context.Context, userID int64, alias string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO profiles (user_id, alias) VALUES (?, ?)
ON CONFLICT(user_id) DO UPDATE SET alias = excluded.alias
`, userID, alias)
	return err
}

func (s *Store) Alias(ctx context.Context, userID int64) (string, error) {
	var alias string
	err := s.db.QueryRowContext(ctx, `SELECT alias FROM profiles WHERE user_id = ?`, userID).Scan(&alias)
	if errors.Is(err, sql.ErrNoRows) || alias == "" {
		return store.DefaultAlias, nil
	}
	if err != nil {
		return "", err
	}
	return alias, nil
}

func (s *Store) Stats(ctx context.Context, topN int) (model.SiteStats, error) {
	var stats model.SiteStats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending`).Scan(&stats.Pending); err != nil {
		return stats, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posted`).Scan(&stats.Posted); err != nil {
		return stats, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments`).Scan(&stats.Comments); err != nil {
		return stats, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&stats.Profiles); err != nil {
		return stats, err
	}

	if topN > 0 {
		rows, err := s.db.QueryContext(ctx, `
SELECT confession_id FROM comments
GROUP BY confession_id
ORDER BY COUNT(*) DESC, confession_id ASC
LIMIT ?
`, topN)
		if err != nil {
			return stats, err
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return stats, err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return stats, err
		}
		for _, id := range ids {
			c, err := s.GetPosted(ctx, id)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return stats, err
			}
			stats.MostDiscussed = append(stats.MostDiscussed, c)
		}
	}
	return stats, nil
}

func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		`DELETE FROM votes`,
		`DELETE FROM comments`,
		`DELETE FROM posted`,
		`DELETE FROM pending`,
		`DELETE FROM profiles`,
		`UPDATE counter SET next_id = 1 WHERE id = 1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) loadComments(ctx context.Context, confessionID int64) ([]model.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, text, user_alias, approved_time
FROM comments WHERE confession_id = ?
ORDER BY seq ASC
`, confessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments := []model.Comment{}
	for rows.Next() {
		var cm model.Comment
		var approved int64
		if err := rows.Scan(&cm.ID, &cm.Text, &cm.UserAlias, &approved); err != nil {
			return nil, err
		}
		cm.ApprovedAt = time.Unix(approved, 0)
		comments = append(comments, cm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range comments {
		comments[i].Voters, err = s.loadVoters(ctx, comments[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return comments, nil
}

func (s *Store) loadVoters(ctx context.Context, commentID int64) (map[int64]model.VoteKind, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT voter_id, kind FROM votes WHERE comment_id = ?`, commentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVoters(rows)
}

func loadVotersTx(ctx context.Context, tx *sql.Tx, commentID int64) (map[int64]model.VoteKind, error) {
	rows, err := tx.QueryContext(ctx, `SELECT voter_id, kind FROM votes WHERE comment_id = ?`, commentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVoters(rows)
}

func scanVoters(rows *sql.Rows) (map[int64]model.VoteKind, error) {
	voters := make(map[int64]model.VoteKind)
	for rows.Next() {
		var voter int64
		var kind string
		if err := rows.Scan(&voter, &kind); err != nil {
			return nil, err
		}
		voters[voter] = model.VoteKind(kind)
	}
	return voters, rows.Err()
}

func insertComment(ctx context.Context, tx *sql.Tx, confessionID int64, cm model.Comment) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO comments (id, confession_id, text, user_alias, approved_time)
VALUES (?, ?, ?, ?, ?)
`, cm.ID, confessionID, cm.Text, cm.UserAlias, cm.ApprovedAt.Unix()); err != nil {
		return err
	}
	for voter, kind := range cm.Voters {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO votes (confession_id, comment_id, voter_id, kind) VALUES (?, ?, ?, ?)
`, confessionID, cm.ID, voter, string(kind)); err != nil {
			return err
		}
	}
	return nil
}

func scanConfession(scanner interface{ Scan(dest ...any) error }) (model.Confession, error) {
	var c model.Confession
	var posted int64
	var channelMsg sql.NullInt64
	if err := scanner.Scan(&c.ID, &c.Text, &c.UserAlias, &posted, &channelMsg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Confession{}, store.ErrNotFound
		}
		return model.Confession{}, err
	}
	c.PostedAt = time.Unix(posted, 0)
	if channelMsg.Valid {
		ref := int(channelMsg.Int64)
		c.ChannelMessageID = &ref
	}
	return c, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

var _ store.Store = (*Store)(nil)
