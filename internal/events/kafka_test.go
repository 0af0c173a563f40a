package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_RecordQuery(t *testing.T) {
	w := &recordingWriter{}
	p := newKafkaPublisher(w, "docqa.queries")

	rec := &repository.QueryRecord{
		ID:               uuid.New(),
		Query:            "where did the candidate intern?",
		Provider:         "ollama",
		Answer:           "Acme Corp [DOCUMENT 1]",
		Outcome:          "answered",
		ChunksRetrieved:  2,
		ProcessingTimeMS: 840,
		CreatedAt:        time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.RecordQuery(context.Background(), rec))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, rec.ID.String(), string(w.msgs[0].Key))

	var ev QueryEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, "answered", ev.Outcome)
	assert.Equal(t, 2, ev.ChunksRetrieved)
	assert.NotContains(t, string(w.msgs[0].Value), "Acme Corp", "answer text is not published")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := newKafkaPublisher(&recordingWriter{err: errors.New("broker down")}, "t")

	err := p.RecordQuery(context.Background(), &repository.QueryRecord{ID: uuid.New()})
	assert.ErrorContains(t, err, "broker down")
}
