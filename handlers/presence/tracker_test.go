package presence

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	alice = Member{UserID: "u1", Username: "alice"}
	bob   = Member{UserID: "u2", Username: "bob"}
)

func TestTracker_JoinListsOnlineMembers(t *testing.T) {
	tr := NewTracker()

	online, previous := tr.Join("s1", "board", bob)
	require.Equal(t, []Member{bob}, online)
	require.Empty(t, previous)

	online, _ = tr.Join("s2", "board", alice)
	require.Equal(t, []Member{alice, bob}, online)
	require.Equal(t, map[string]int{"board": 2}, tr.Counts())
}

func TestTracker_SwitchingBoards(t *testing.T) {
	tr := NewTracker()
	tr.Join("s1", "first", alice)
	tr.Join("s2", "first", bob)

	online, previous := tr.Join("s1", "second", alice)
	require.Equal(t, "first", previous)
	require.Equal(t, []Member{alice}, online)
	require.Equal(t, []Member{bob}, tr.online("first"))

	// Rejoining the same board is not a switch.
	_, previous = tr.Join("s1", "second", alice)
	require.Empty(t, previous)
}

func TestTracker_Leave(t *testing.T) {
	tr := NewTracker()
	tr.Join("s1", "board", alice)
	tr.Join("s2", "board", bob)

	boardID, m, ok := tr.Leave("s1")
	require.True(t, ok)
	require.Equal(t, "board", boardID)
	require.Equal(t, alice, m)
	require.Equal(t, []Member{bob}, tr.online("board"))

	_, _, ok = tr.Leave("s1")
	require.False(t, ok)

	tr.Leave("s2")
	require.Empty(t, tr.Counts())
	require.Empty(t, tr.online("board"))
}

func TestTracker_SameUserOnTwoSockets(t *testing.T) {
	tr := NewTracker()
	tr.Join("s1", "board", alice)
	online, _ := tr.Join("s2", "board", alice)
	require.Len(t, online, 2)

	tr.Leave("s1")
	require.Equal(t, []Member{alice}, tr.online("board"))
}

func TestParseJoinArgs(t *testing.T) {
	boardID, token, err := parseJoinArgs([]any{map[string]any{"boardId": "b1", "token": "t"}})
	require.NoError(t, err)
	require.Equal(t, "b1", boardID)
	require.Equal(t, "t", token)

	for _, args := range [][]any{
		nil,
		{"b1"},
		{map[string]any{"token": "t"}},
	} {
		_, _, err := parseJoinArgs(args)
		require.Error(t, err)
	}
}

func TestExtractAck(t *testing.T) {
	var gotErr error
	var gotPayload map[string]any
	callback := func(err error, payload map[string]any) {
		gotErr = err
		gotPayload = payload
	}

	ack, args := extractAck([]any{"x", callback})
	require.NotNil(t, ack)
	require.Equal(t, []any{"x"}, args)

	ack(nil, map[string]any{"status": "ok"})
	require.NoError(t, gotErr)
	require.Equal(t, "ok", gotPayload["status"])

	ack(errors.New("boom"), nil)
	require.EqualError(t, gotErr, "boom")

	ack, args = extractAck([]any{"x"})
	require.Nil(t, ack)
	require.Equal(t, []any{"x"}, args)
}

func TestHeaderValue(t *testing.T) {
	headers := map[string][]string{"user-agent": {"firefox"}}
	require.Equal(t, "firefox", headerValue(headers, "User-Agent"))
	require.Empty(t, headerValue(headers, "Referer"))
}
