package telegram

import (
	"errors"
	"strings"
	"testing"

	"github.com/kalthreti/mytelegram-confession-bot/internal/confession"
	"github.com/kalthreti/mytelegram-confession-bot/internal/model"
	"github.com/kalthreti/mytelegram-confession-bot/internal/store"
)

func TestDecodeCallback(t *testing.T) {
	cases := []struct {
		data string
		want callback
		ok   bool
	}{
		{"approve|p5", callback{kind: cbApprove, pendingKey: "p5"}, true},
		{"reject|p5", callback{kind: cbReject, pendingKey: "p5"}, true},
		{"add_comment|12", callback{kind: cbAddComment, confessionID: 12}, true},
		{"browse_comments|12", callback{kind: cbBrowseComments, confessionID: 12}, true},
		{"vote|12|34|like", callback{kind: cbVote, confessionID: 12, commentID: 34, vote: model.VoteLike}, true},
		{"vote|12|34|dislike", callback{kind: cbVote, confessionID: 12, commentID: 34, vote: model.VoteDislike}, true},
		{"reset_confirm", callback{kind: cbResetConfirm}, true},
		{"reset_cancel", callback{kind: cbResetCancel}, true},

		{"", callback{}, false},
		{"approve", callback{}, false},
		{"add_comment|notanumber", callback{}, false},
		{"vote|12|34|meh", callback{}, false},
		{"vote|12|34", callback{}, false},
		{"unknown|1", callback{}, false},
	}
	for _, tc := range cases {
		got, ok := decodeCallback(tc.data)
		if ok != tc.ok {
			t.Errorf("decodeCallback(%q): ok=%v, want %v", tc.data, ok, tc.ok)
			continue
		}
		if got != tc.want {
			t.Errorf("decodeCallback(%q) = %+v, want %+v", tc.data, got, tc.want)
		}
	}
}

func TestVoteCallbackDataRoundTrip(t *testing.T) {
	data := voteCallbackData(7, 9, model.VoteDislike)
	cb, ok := decodeCallback(data)
	if !ok {
		t.Fatalf("decode of %q failed", data)
	}
	if cb.kind != cbVote || cb.confessionID != 7 || cb.commentID != 9 || cb.vote != model.VoteDislike {
		t.Fatalf("round trip lost fields: %+v", cb)
	}
}

func TestPendingKeyArg(t *testing.T) {
	cases := []struct {
		arg  string
		want string
	}{
		{"5", "p5"},
		{"p5", "p5"},
		{"garbage", "garbage"},
	}
	for _, tc := range cases {
		if got := pendingKeyArg(tc.arg); got != tc.want {
			t.Errorf("pendingKeyArg(%q) = %q, want %q", tc.arg, got, tc.want)
		}
	}
}

func TestPreview(t *testing.T) {
	if got := preview("short"); got != "short" {
		t.Fatalf("short text altered: %q", got)
	}
	long := strings.Repeat("я", 60)
	got := preview(long)
	if got != strings.Repeat("я", 50)+"..." {
		t.Fatalf("long text not truncated at rune boundary: %q", got)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	got := escapeMarkdown("_a_ *b* [c] `d`")
	want := "\\_a\\_ \\*b\\* \\[c] \\`d\\`"
	if got != want {
		t.Fatalf("escapeMarkdown: %q, want %q", got, want)
	}
}

func TestUserFacingMapsSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{store.ErrAlreadyHandled, "already processed"},
		{store.ErrNotFound, "not found"},
		{store.ErrIndexOutOfRange, "position"},
		{confession.ErrValidation, "validation"},
		{&confession.PublishError{Op: "post", Err: errors.New("x")}, "still pending"},
		{errors.New("opaque"), "Something went wrong"},
	}
	for _, tc := range cases {
		if got := userFacing(tc.err); !strings.Contains(got, tc.want) {
			t.Errorf("userFacing(%v) = %q, want substring %q", tc.err, got, tc.want)
		}
	}
}
