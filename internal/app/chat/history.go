package chat

import (
	"context"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/app/store"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
	"github.com/stanislavb/roleOOC/internal/pkg/logx"
	"github.com/stanislavb/roleOOC/internal/pkg/metrics"
)

// History reads room history and delivers it in chunks.
type History struct {
	messages    store.MessageStore
	users       store.UserStore
	maxLines    int
	chunkLength int
	metrics     *metrics.Metrics
	now         func() time.Time
	logger      zerolog.Logger
}

// NewHistory returns a History capped at maxLines per request and delivering
// chunkLength messages per batch.
func NewHistory(messages store.MessageStore, users store.UserStore, maxLines, chunkLength int, m *metrics.Metrics) *History {
	return &History{
		messages:    messages,
		users:       users,
		maxLines:    maxLines,
		chunkLength: chunkLength,
		metrics:     m,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logx.Component("history"),
	}
}

// GetHistory returns the messages of rooms in ascending time order.
//
// Normally it returns at most maxLines messages not newer than since, whatever the
// caller asked for beyond the server ceiling. With sinceIncomplete it returns every
// message strictly newer than since, which is how catch-up covers an offline window.
// A message stored in several of the rooms is returned once.
func (h *History) GetHistory(ctx context.Context, rooms []string, maxLines int, sinceIncomplete bool, since time.Time) ([]model.Message, error) {
	q := store.MessageQuery{Rooms: rooms}
	if sinceIncomplete {
		q.After = since
	} else {
		q.Before = since
		q.Limit = h.maxLines
		if maxLines > 0 && maxLines < h.maxLines {
			q.Limit = maxLines
		}
	}
	return h.query(ctx, q)
}

func (h *History) query(ctx context.Context, q store.MessageQuery) ([]model.Message, error) {
	msgs, err := h.messages.QueryMessages(ctx, q)
	if err != nil {
		return nil, errs.Wrap(errs.ErrStorage, err)
	}

	seen := make(map[string]struct{}, len(msgs))
	return slices.DeleteFunc(msgs, func(m model.Message) bool {
		if _, dup := seen[m.ID]; dup {
			return true
		}
		seen[m.ID] = struct{}{}
		return false
	}), nil
}

// Chunk splits msgs into consecutive batches of at most size messages.
func Chunk(msgs []model.Message, size int) [][]model.Message {
	if size <= 0 {
		size = 1
	}
	chunks := make([][]model.Message, 0, (len(msgs)+size-1)/size)
	for start := 0; start < len(msgs); start += size {
		end := min(start+size, len(msgs))
		chunks = append(chunks, msgs[start:end])
	}
	return chunks
}

// deliver splits msgs into chunks, pushes the first one under event and keeps the rest
// on the session. The client pulls every following chunk with historyNext, so a delivery
// never has more than one chunk queued on the connection. The final chunk carries
// watermark if set.
func (h *History) deliver(s *Session, event string, msgs []model.Message, watermark *time.Time) (int, error) {
	chunks := Chunk(msgs, h.chunkLength)
	s.startDelivery(event, chunks, watermark)
	if len(chunks) == 0 {
		return 0, nil
	}
	if _, err := h.Next(s, event); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// Next pushes the following chunk of the delivery under event and returns the number of
// chunks still to pull. A chunk that cannot be queued aborts the delivery.
func (h *History) Next(s *Session, event string) (int, error) {
	batch, remaining, ok := s.nextChunk(event)
	if !ok {
		return 0, errs.NewError(errs.ErrNotFound, "Delivery")
	}

	if err := s.Send(Envelope{Event: event, Data: batch}); err != nil {
		s.stopDelivery(event)
		h.logger.Warn().Err(err).Str("conn_id", s.ID()).Str("event", event).Int("chunk", batch.Index).Msg("Failed to queue history chunk")
		return 0, errs.Wrap(errs.ErrDeliveryFailed, err)
	}
	h.metrics.HistoryChunks.Inc()
	return remaining, nil
}

// HistoryResult is the response to a history request. The messages follow as
// history events.
type HistoryResult struct {
	Messages int `json:"messages"`
	Chunks   int `json:"chunks"`
}

// Send starts the delivery of the history of rooms to s.
func (h *History) Send(ctx context.Context, s *Session, rooms []string, lines int, since time.Time) (HistoryResult, error) {
	if since.IsZero() {
		since = h.now()
	}
	msgs, err := h.GetHistory(ctx, rooms, lines, false, since)
	if err != nil {
		return HistoryResult{}, err
	}
	chunks, err := h.deliver(s, EventHistory, msgs, nil)
	if err != nil {
		return HistoryResult{}, err
	}
	return HistoryResult{Messages: len(msgs), Chunks: chunks}, nil
}

// CatchUp starts the delivery of what user's rooms received after user.LastOnline and
// up to until. Messages after until reach the session live. When something is delivered,
// the session waits for an acknowledgement of the final watermark before lastOnline moves.
func (h *History) CatchUp(ctx context.Context, s *Session, user model.User, until time.Time) (HistoryResult, error) {
	msgs, err := h.query(ctx, store.MessageQuery{Rooms: user.Rooms, After: user.LastOnline, Before: until})
	if err != nil {
		return HistoryResult{}, err
	}
	if len(msgs) == 0 {
		return HistoryResult{}, nil
	}

	watermark := msgs[len(msgs)-1].Time
	s.setCatchUpPending(watermark)
	chunks, err := h.deliver(s, EventCatchUp, msgs, &watermark)
	if err != nil {
		return HistoryResult{}, err
	}

	h.logger.Info().Str("user_name", user.UserName).Int("messages", len(msgs)).Int("chunks", chunks).Time("watermark", watermark).Msg("Catch-up started")
	return HistoryResult{Messages: len(msgs), Chunks: chunks}, nil
}

// AckCatchUp advances lastOnline to watermark once the client confirmed the catch-up.
// Acknowledgements that do not match the pending watermark are ignored.
func (h *History) AckCatchUp(ctx context.Context, s *Session, user model.User, watermark time.Time) (bool, error) {
	if !s.ackCatchUp(watermark) {
		return false, nil
	}
	if err := h.users.SetUserLastOnline(ctx, user.UserName, watermark); err != nil {
		s.setCatchUpPending(watermark)
		return false, errs.Wrap(errs.ErrStorage, err)
	}
	return true, nil
}
