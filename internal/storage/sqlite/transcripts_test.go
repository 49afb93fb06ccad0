package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/whisper-web/internal/transcript"
	"github.com/yegors/whisper-web/pkg/logger"
)

func newStorage(t *testing.T) *TranscriptStorage {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "whisper.db"), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewTranscriptStorage(db, logger.NewNop())
	require.NoError(t, err)
	return s
}

func record(uuid, text string, created time.Time) *TranscriptRecord {
	end := 2.5
	return &TranscriptRecord{
		UUID:         uuid,
		CreatedAt:    created,
		Model:        "Xenova/whisper-tiny.en",
		Subtask:      "transcribe",
		Language:     "auto",
		Source:       "jfk.wav",
		AudioSeconds: 11,
		DurationMs:   1200,
		Text:         text,
		Chunks: []transcript.TextChunk{
			{Text: text, Timestamp: transcript.Timestamp{Start: 0, End: &end}},
		},
	}
}

func TestStoreAndGetTranscript(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	rec := record("a", " And so my fellow Americans", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	id, err := s.StoreTranscript(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)

	got, err := s.GetTranscript(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a", got.UUID)
	assert.Equal(t, rec.CreatedAt, got.CreatedAt)
	assert.Equal(t, "jfk.wav", got.Source)
	assert.Equal(t, 11.0, got.AudioSeconds)
	require.Len(t, got.Chunks, 1)
	assert.Equal(t, 2.5, got.Chunks[0].Timestamp.EndOr(0))

	state := got.State()
	assert.Equal(t, " And so my fellow Americans", state.Text)
	assert.False(t, state.IsBusy)
}

func TestGetTranscriptsNewestFirst(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"one", "two", "three"} {
		_, err := s.StoreTranscript(ctx, record(id, id, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	all, err := s.GetTranscripts(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "three", all[0].UUID)
	assert.Equal(t, "one", all[2].UUID)

	page, err := s.GetTranscripts(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "two", page[0].UUID)
}

func TestGetTranscriptsEmpty(t *testing.T) {
	s := newStorage(t)
	records, err := s.GetTranscripts(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestNilChunksStoredAsEmpty(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	rec := record("empty", "", time.Time{})
	rec.Chunks = nil
	id, err := s.StoreTranscript(ctx, rec)
	require.NoError(t, err)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := s.GetTranscript(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, got.Chunks)
	assert.Empty(t, got.Chunks)
}

func TestDeleteTranscript(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	id, err := s.StoreTranscript(ctx, record("gone", "bye", time.Now()))
	require.NoError(t, err)

	require.NoError(t, s.DeleteTranscript(ctx, id))
	_, err = s.GetTranscript(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteTranscript(ctx, id), ErrNotFound)
}

func TestDuplicateUUIDRejected(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	_, err := s.StoreTranscript(ctx, record("dup", "x", time.Now()))
	require.NoError(t, err)
	_, err = s.StoreTranscript(ctx, record("dup", "y", time.Now()))
	assert.Error(t, err)
}
