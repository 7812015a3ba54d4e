package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	BotToken     string
	ChannelID    string // channel username ("@...") or numeric chat id
	AdminGroupID int64
	DataPath     string // directory holding the JSON snapshot
	DBPath       string // non-empty selects the sqlite backend instead
	BatchPause   time.Duration
	RateLimits   RateLimits
}

type RateLimits struct {
	SubmitPerHour    int
	CommentPerMinute int
	VotePerMinute    int
}

// SnapshotPath is the JSON snapshot file under DataPath.
func (c Config) SnapshotPath() string {
	return filepath.Join(c.DataPath, "confessions_store.json")
}

func Load() Config {
	return Config{
		BotToken:     envString("BOT_TOKEN", ""),
		ChannelID:    envString("CHANNEL_ID", "@weirdo_confessions"),
		AdminGroupID: envInt64("ADMIN_GROUP_ID", -100),
		DataPath:     envString("DATA_PATH", "/data"),
		DBPath:       envString("CONFESSD_DB", ""),
		BatchPause:   envDuration("CONFESSD_BATCH_PAUSE", time.Second),
		RateLimits: RateLimits{
			SubmitPerHour:    envInt("CONFESSD_RL_SUBMIT_PER_HOUR", 10),
			CommentPerMinute: envInt("CONFESSD_RL_COMMENT_PER_MIN", 6),
			VotePerMinute:    envInt("CONFESSD_RL_VOTE_PER_MIN", 30),
		},
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
