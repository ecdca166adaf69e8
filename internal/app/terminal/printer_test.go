package terminal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanislavb/roleOOC/internal/app/chat"
	"github.com/stanislavb/roleOOC/internal/app/model"
)

func TestFormatMessage(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 5, 0, time.Local)

	tests := []struct {
		name string
		msg  model.Message
		want []string
	}{
		{
			name: "chat",
			msg:  model.Message{RoomName: "public", UserName: "alice", Kind: model.KindChat, Text: []string{"hi"}, Time: at},
			want: []string{"[12:30:05] public <alice>: hi"},
		},
		{
			name: "whisper continues indented",
			msg:  model.Message{RoomName: "bob-whisper", UserName: "alice", Kind: model.KindWhisper, Text: []string{"one", "two"}, Time: at},
			want: []string{"[12:30:05] alice whispers: one", "                           two"},
		},
		{
			name: "system",
			msg:  model.Message{RoomName: "vault", UserName: model.SystemSender, Kind: model.KindSystem, Text: []string{"bob left vault"}, Time: at},
			want: []string{"[12:30:05] * bob left vault"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatMessage(tt.msg))
		})
	}
}

func TestFormatPush(t *testing.T) {
	chunk, err := json.Marshal(chat.HistoryChunk{Final: true})
	require.NoError(t, err)

	_, ok := formatPush(chat.EventCatchUp, chunk)
	assert.False(t, ok, "empty chunks print nothing")

	_, ok = formatPush("somethingElse", nil)
	assert.False(t, ok)

	lines, ok := formatPush(chat.EventSessionSuperseded, json.RawMessage(`{"message":"x"}`))
	require.True(t, ok)
	assert.Contains(t, lines[0], "another terminal")
}
