package telegram

import (
	"strconv"
	"strings"

	"github.com/kalthreti/mytelegram-confession-bot/internal/model"
)

// Callback data rides inside inline buttons as "<verb>|<args...>". It
// is decoded here, once, into a closed set of actions; nothing past
// this point branches on raw strings.
type callbackKind int

const (
	cbApprove callbackKind = iota
	cbReject
	cbAddComment
	cbBrowseComments
	cbVote
	cbResetConfirm
	cbResetCancel
)

type callback struct {
	kind         callbackKind
	pendingKey   string
	confessionID int64
	commentID    int64
	vote         model.VoteKind
}

func decodeCallback(data string) (callback, bool) {
	parts := strings.Split(data, "|")
	switch parts[0] {
	case "approve", "reject":
		if len(parts) != 2 {
			return callback{}, false
		}
		kind := cbApprove
		if parts[0] == "reject" {
			kind = cbReject
		}
		return callback{kind: kind, pendingKey: parts[1]}, true

	case "add_comment", "browse_comments":
		if len(parts) != 2 {
			return callback{}, false
		}
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return callback{}, false
		}
		kind := cbAddComment
		if parts[0] == "browse_comments" {
			kind = cbBrowseComments
		}
		return callback{kind: kind, confessionID: id}, true

	case "vote":
		if len(parts) != 4 {
			return callback{}, false
		}
		confID, err1 := strconv.ParseInt(parts[1], 10, 64)
		commentID, err2 := strconv.ParseInt(parts[2], 10, 64)
		kind := model.VoteKind(parts[3])
		if err1 != nil || err2 != nil || !kind.Valid() {
			return callback{}, false
		}
		return callback{kind: cbVote, confessionID: confID, commentID: commentID, vote: kind}, true

	case "reset_confirm":
		return callback{kind: cbResetConfirm}, true
	case "reset_cancel":
		return callback{kind: cbResetCancel}, true
	}
	return callback{}, false
}

func voteCallbackData(confessionID, commentID int64, kind model.VoteKind) string {
	return "vote|" + strconv.FormatInt(confessionID, 10) + "|" +
		strconv.FormatInt(commentID, 10) + "|" + string(kind)
}
