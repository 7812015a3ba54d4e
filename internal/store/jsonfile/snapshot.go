package jsonfile

import (
	"fmt"

	"github.com/kalthreti/mytelegram-confession-bot/internal/model"
	"github.com/kalthreti/mytelegram-confession-bot/internal/store"
)

// snapshot is the on-disk document. The field names match data files
// written by earlier revisions of the bot, so old stores load as-is.
type snapshot struct {
	NextID       int64                `json:"next_id"`
	Pending      map[string]pendingRec `json:"pending"`
	Posted       map[string]postedRec  `json:"posted"`
	UserProfiles map[string]string     `json:"user_profiles"`
}

type pendingRec struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	FromUser  int64  `json:"from_user"`
	UserAlias string `json:"user_alias"`
}

type postedRec struct {
	Text             string     `json:"text"`
	UserAlias        string     `json:"user_alias"`
	PostTime         string     `json:"post_time"`
	ChannelMessageID *int       `json:"channel_message_id"`
	Replies          []replyRec `json:"replies"`
}

type replyRec struct {
	ReplyID      int64             `json:"reply_id"`
	Text         string            `json:"text"`
	UserAlias    string            `json:"user_alias"`
	ApprovedTime string            `json:"approved_time"`
	Voters       map[string]string `json:"voters"`
}

// repair normalizes legacy data in place: missing reply lists, reply
// IDs, voter maps, and aliases are filled in, and the counter is bumped
// past every identity already on disk. Running repair twice yields the
// same document as running it once.
func (s *snapshot) repair() {
	if s.Pending == nil {
		s.Pending = make(map[string]pendingRec)
	}
	if s.Posted == nil {
		s.Posted = make(map[string]postedRec)
	}
	if s.UserProfiles == nil {
		s.UserProfiles = make(map[string]string)
	}

	maxID := int64(0)

	for key, p := range s.Pending {
		if p.UserAlias == "" {
			p.UserAlias = store.DefaultAlias
		}
		if p.ID > maxID {
			maxID = p.ID
		}
		s.Pending[key] = p
	}

	for key, c := range s.Posted {
		var id int64
		fmt.Sscanf(key, "%d", &id)
		if id > maxID {
			maxID = id
		}
		if c.UserAlias == "" {
			c.UserAlias = store.DefaultAlias
		}
		if c.Replies == nil {
			c.Replies = []replyRec{}
		}
		for i := range c.Replies {
			r := &c.Replies[i]
			if r.ReplyID == 0 {
				// Legacy comments predate per-comment identities; the
				// 1-based position is the only deterministic stand-in.
				r.ReplyID = int64(i + 1)
			}
			if r.UserAlias == "" {
				r.UserAlias = store.DefaultAlias
			}
			if r.Voters == nil {
				r.Voters = map[string]string{}
			}
			for voter, kind := range r.Voters {
				if !model.VoteKind(kind).Valid() {
					delete(r.Voters, voter)
				}
			}
			if r.ReplyID > maxID {
				maxID = r.ReplyID
			}
		}
		s.Posted[key] = c
	}

	if s.NextID <= maxID {
		s.NextID = maxID + 1
	}
	if s.NextID < 1 {
		s.NextID = 1
	}
}

func (r postedRec) toConfession(id int64) model.Confession {
	c := model.Confession{
		ID:               id,
		Text:             r.Text,
		UserAlias:        r.UserAlias,
		PostedAt:         parseTime(r.PostTime),
		ChannelMessageID: r.ChannelMessageID,
		Comments:         make([]model.Comment, 0, len(r.Replies)),
	}
	for _, reply := range r.Replies {
		cm := model.Comment{
			ID:         reply.ReplyID,
			Text:       reply.Text,
			UserAlias:  reply.UserAlias,
			ApprovedAt: parseTime(reply.ApprovedTime),
			Voters:     make(map[int64]model.VoteKind, len(reply.Voters)),
		}
		for voter, kind := range reply.Voters {
			var uid int64
			if _, err := fmt.Sscanf(voter, "%d", &uid); err != nil {
				continue
			}
			cm.Voters[uid] = model.VoteKind(kind)
		}
		c.Comments = append(c.Comments, cm)
	}
	return c
}

func toPostedRec(c model.Confession) postedRec {
	rec := postedRec{
		Text:             c.Text,
		UserAlias:        c.UserAlias,
		PostTime:         formatTime(c.PostedAt),
		ChannelMessageID: c.ChannelMessageID,
		Replies:          make([]replyRec, 0, len(c.Comments)),
	}
	for _, cm := range c.Comments {
		r := replyRec{
			ReplyID:      cm.ID,
			Text:         cm.Text,
			UserAlias:    cm.UserAlias,
			ApprovedTime: formatTime(cm.ApprovedAt),
			Voters:       make(map[string]string, len(cm.Voters)),
		}
		for uid, kind := range cm.Voters {
			r.Voters[fmt.Sprintf("%d", uid)] = string(kind)
		}
		rec.Replies = append(rec.Replies, r)
	}
	return rec
}
