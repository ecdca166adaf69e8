package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/app/store"
	"github.com/stanislavb/roleOOC/internal/configs"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
)

func TestChunkCount(t *testing.T) {
	for n := 0; n <= 25; n++ {
		msgs := make([]model.Message, n)
		for k := 1; k <= 7; k++ {
			chunks := Chunk(msgs, k)
			assert.Len(t, chunks, (n+k-1)/k, "n=%d k=%d", n, k)

			total := 0
			for _, c := range chunks {
				assert.LessOrEqual(t, len(c), k)
				total += len(c)
			}
			assert.Equal(t, n, total)
		}
	}
}

func TestGetHistoryDedupesAndCaps(t *testing.T) {
	ts := newTestServer(t, func(cfg *configs.AppConfig) { cfg.HistoryLines = 3 })
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		msg := model.Message{ID: fmt.Sprintf("m%d", i), RoomName: "a", Text: []string{"x"}, Time: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, ts.store.AppendMessage(ctx, msg))
	}
	shared := model.Message{ID: "w", RoomName: "a", Text: []string{"w"}, Time: base.Add(10 * time.Minute)}
	require.NoError(t, ts.store.AppendMessage(ctx, shared))
	shared.RoomName = "b"
	require.NoError(t, ts.store.AppendMessage(ctx, shared))

	msgs, err := ts.m.history.GetHistory(ctx, []string{"a", "b"}, 100, false, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, msgs, 2, "the server ceiling wins over the requested line count")
	assert.Equal(t, "m4", msgs[0].ID)
	assert.Equal(t, "w", msgs[1].ID)

	msgs, err = ts.m.history.GetHistory(ctx, []string{"a", "b"}, 0, true, base.Add(90*time.Second))
	require.NoError(t, err)
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m2", "m3", "m4", "w"}, ids, "catch-up is not capped")
}

func TestHistoryRequestIsChunked(t *testing.T) {
	ts := newTestServer(t, func(cfg *configs.AppConfig) {
		cfg.HistoryLines = 20
		cfg.ChunkLength = 8
	})
	sender, _ := ts.online(t, "alice")
	for i := 0; i < 25; i++ {
		ts.mustDo(t, sender, "chatMsg", chatBody("", fmt.Sprintf("line %d", i)))
	}

	reader, conn := ts.online(t, "bob")
	reply := ts.mustDo(t, reader, "history", map[string]any{"room": map[string]any{"roomName": "public"}})
	assert.Equal(t, HistoryResult{Messages: 20, Chunks: 3}, reply.Data)
	require.Len(t, conn.events(EventHistory), 1, "only the first chunk is pushed unasked")

	assert.Equal(t, 2, ts.pull(t, reader, EventHistory))
	chunks := conn.events(EventHistory)
	require.Len(t, chunks, 3)
	var texts []string
	for i, env := range chunks {
		batch := env.Data.(HistoryChunk)
		assert.Equal(t, i, batch.Index)
		assert.Equal(t, 3, batch.Total)
		assert.Equal(t, i == 2, batch.Final)
		assert.Nil(t, batch.Watermark)
		for _, m := range batch.Messages {
			texts = append(texts, m.Text[0])
		}
	}
	require.Len(t, texts, 20)
	assert.Equal(t, "line 5", texts[0])
	assert.Equal(t, "line 24", texts[19])

	reply = ts.do(t, reader, "historyNext", map[string]any{"event": EventHistory})
	assert.Equal(t, errs.ErrNotFound, errorCode(reply), "a finished delivery has nothing to pull")
}

func TestHistoryRejectsUnfollowedRoom(t *testing.T) {
	ts := newTestServer(t)
	s, _ := ts.online(t, "alice")

	reply := ts.do(t, s, "history", map[string]any{"room": map[string]any{"roomName": "secret"}})
	assert.NotNil(t, reply.Error)
}

func TestCatchUpIsRedeliveredUntilAcknowledged(t *testing.T) {
	ts := newTestServer(t, func(cfg *configs.AppConfig) { cfg.ChunkLength = 2 })
	ctx := context.Background()

	ts.register(t, "alice")
	bob, _ := ts.online(t, "bob")
	for i := 0; i < 3; i++ {
		ts.mustDo(t, bob, "chatMsg", chatBody("", fmt.Sprintf("missed %d", i)))
	}

	// First login: the catch-up is delivered but never acknowledged.
	s1, conn1 := ts.connect("c1")
	result := ts.login(t, s1, "alice")
	assert.Equal(t, HistoryResult{Messages: 3, Chunks: 2}, result.CatchUp)
	require.Len(t, conn1.events(EventCatchUp), 1)
	assert.True(t, s1.CatchUpPending())

	before, err := ts.store.GetUser(ctx, "alice")
	require.NoError(t, err)
	ts.m.Disconnect(s1.ID())
	after, err := ts.store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, before.LastOnline.Equal(after.LastOnline), "lastOnline must not move past an unacknowledged catch-up")

	// Second login: the same messages are delivered again and acknowledged.
	s2, conn2 := ts.connect("c2")
	result = ts.login(t, s2, "alice")
	assert.Equal(t, 3, result.CatchUp.Messages)

	missed, err := ts.store.QueryMessages(ctx, store.MessageQuery{Rooms: []string{"public"}})
	require.NoError(t, err)
	reply := ts.mustDo(t, s2, "catchUpAck", map[string]any{"watermark": missed[len(missed)-1].Time})
	assert.Equal(t, map[string]bool{"acknowledged": false}, reply.Data, "an ack before the last chunk is pulled is ignored")

	ts.pull(t, s2, EventCatchUp)
	chunks := conn2.events(EventCatchUp)
	require.Len(t, chunks, 2)
	assert.Nil(t, chunks[0].Data.(HistoryChunk).Watermark)
	final := chunks[1].Data.(HistoryChunk)
	require.True(t, final.Final)
	require.NotNil(t, final.Watermark)

	reply = ts.mustDo(t, s2, "catchUpAck", map[string]any{"watermark": final.Watermark.Add(-time.Second)})
	assert.Equal(t, map[string]bool{"acknowledged": false}, reply.Data, "a stale watermark is ignored")

	reply = ts.mustDo(t, s2, "catchUpAck", map[string]any{"watermark": *final.Watermark})
	assert.Equal(t, map[string]bool{"acknowledged": true}, reply.Data)
	assert.False(t, s2.CatchUpPending())

	acked, err := ts.store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acked.LastOnline.Equal(*final.Watermark))

	// Third login: nothing is missed any more.
	ts.m.Disconnect(s2.ID())
	s3, conn3 := ts.connect("c3")
	result = ts.login(t, s3, "alice")
	assert.Zero(t, result.CatchUp.Messages)
	assert.Empty(t, conn3.events(EventCatchUp))
}

func TestCatchUpSkippedWhenSuperseding(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "alice")

	s1, _ := ts.connect("c1")
	ts.login(t, s1, "alice")

	bob, _ := ts.online(t, "bob")
	ts.mustDo(t, bob, "chatMsg", chatBody("", "seen live"))

	s2, conn2 := ts.connect("c2")
	result := ts.login(t, s2, "alice")
	assert.Zero(t, result.CatchUp.Messages)
	assert.Empty(t, conn2.events(EventCatchUp))
}
