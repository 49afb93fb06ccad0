package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/whisper-web/internal/audio"
	"github.com/yegors/whisper-web/internal/inference"
	"github.com/yegors/whisper-web/internal/storage/sqlite"
	"github.com/yegors/whisper-web/internal/transcript"
	"github.com/yegors/whisper-web/pkg/logger"
)

type fakeWorker struct {
	mu       sync.Mutex
	requests []inference.Request
	err      error
}

func (w *fakeWorker) Submit(ctx context.Context, req inference.Request) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.requests = append(w.requests, req)
	return nil
}

func (w *fakeWorker) last() inference.Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requests[len(w.requests)-1]
}

type fakePublisher struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (p *fakePublisher) Publish(msgType string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if msgType == MessageType {
		p.snapshots = append(p.snapshots, data.(Snapshot))
	}
}

func (p *fakePublisher) states() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]State, len(p.snapshots))
	for i, s := range p.snapshots {
		out[i] = s.State
	}
	return out
}

type fakeStore struct {
	records []*sqlite.TranscriptRecord
}

func (s *fakeStore) StoreTranscript(ctx context.Context, r *sqlite.TranscriptRecord) (int64, error) {
	s.records = append(s.records, r)
	return int64(len(s.records)), nil
}

func sample() audio.Sample {
	return audio.Sample{Data: make([]float32, audio.SampleRate), SampleRate: audio.SampleRate}
}

func newController(t *testing.T) (*Controller, *fakeWorker, *fakePublisher, *fakeStore) {
	t.Helper()
	w := &fakeWorker{}
	p := &fakePublisher{}
	s := &fakeStore{}
	c := NewController(w, Settings{Model: "Xenova/whisper-tiny"}, Options{Publisher: p, Store: s}, logger.NewNop())
	return c, w, p, s
}

func finalState(text string) transcript.State {
	end := 1.0
	return transcript.State{
		Text:   text,
		Chunks: []transcript.TextChunk{{Text: text, Timestamp: transcript.Timestamp{Start: 0, End: &end}}},
	}
}

func TestStartSubmitsRequest(t *testing.T) {
	c, w, p, _ := newController(t)

	gen, err := c.Start(context.Background(), StartRequest{Audio: sample(), Source: "a.wav"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	req := w.last()
	assert.Equal(t, gen, req.Generation)
	assert.Equal(t, "Xenova/whisper-tiny", req.Model)
	assert.Equal(t, inference.SubtaskTranscribe, req.Subtask)
	assert.Equal(t, inference.LanguageAuto, req.Language)
	assert.NotEmpty(t, req.ID)

	snap := c.Snapshot()
	assert.Equal(t, ModelLoading, snap.State)
	assert.True(t, snap.IsBusy)
	assert.Equal(t, req.ID, snap.RequestID)
	require.NotNil(t, snap.Transcript)
	assert.True(t, snap.Transcript.IsBusy)
	assert.Equal(t, []State{ModelLoading}, p.states())
}

func TestStartWhileBusy(t *testing.T) {
	c, w, _, _ := newController(t)

	_, err := c.Start(context.Background(), StartRequest{Audio: sample()})
	require.NoError(t, err)

	_, err = c.Start(context.Background(), StartRequest{Audio: sample()})
	assert.ErrorIs(t, err, ErrBusy)
	assert.Len(t, w.requests, 1)
	assert.Equal(t, uint64(1), c.Snapshot().Generation)
}

func TestStartValidation(t *testing.T) {
	c, _, _, _ := newController(t)

	_, err := c.Start(context.Background(), StartRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = c.Start(context.Background(), StartRequest{Audio: sample(), Settings: Settings{Subtask: "summarize"}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, Idle, c.Snapshot().State)
}

func TestSubmitFailureReleasesBusy(t *testing.T) {
	c, w, _, _ := newController(t)
	w.err = inference.ErrWorkerStopped

	_, err := c.Start(context.Background(), StartRequest{Audio: sample()})
	assert.ErrorIs(t, err, inference.ErrWorkerStopped)

	snap := c.Snapshot()
	assert.Equal(t, Failed, snap.State)
	assert.False(t, snap.IsBusy)
	assert.Contains(t, snap.Error, "stopped")
}

func TestFullLifecycle(t *testing.T) {
	c, _, p, store := newController(t)

	gen, err := c.Start(context.Background(), StartRequest{Audio: sample(), Source: "jfk.wav"})
	require.NoError(t, err)

	assert.True(t, c.Apply(inference.Initiate{Generation: gen, File: "tokenizer.json"}))
	assert.True(t, c.Apply(inference.Progress{Generation: gen, File: "tokenizer.json", Loaded: 50, Total: 100, Progress: 50}))

	snap := c.Snapshot()
	require.Len(t, snap.Progress, 1)
	assert.Equal(t, ProgressItem{File: "tokenizer.json", Status: "progress", Loaded: 50, Total: 100, Progress: 50}, snap.Progress[0])

	assert.True(t, c.Apply(inference.Done{Generation: gen, File: "tokenizer.json"}))
	assert.Empty(t, c.Snapshot().Progress)

	assert.True(t, c.Apply(inference.Ready{Generation: gen}))
	assert.Equal(t, Transcribing, c.Snapshot().State)

	assert.True(t, c.Apply(inference.Update{Generation: gen, State: transcript.State{Text: " And so"}}))
	snap = c.Snapshot()
	assert.Equal(t, Streaming, snap.State)
	assert.Equal(t, " And so", snap.Transcript.Text)
	assert.True(t, snap.Transcript.IsBusy)

	assert.True(t, c.Apply(inference.Complete{Generation: gen, State: finalState(" And so my fellow")}))
	snap = c.Snapshot()
	assert.Equal(t, Complete, snap.State)
	assert.False(t, snap.IsBusy)
	assert.False(t, snap.Transcript.IsBusy)

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.Equal(t, snap.RequestID, rec.UUID)
	assert.Equal(t, " And so my fellow", rec.Text)
	assert.Equal(t, "jfk.wav", rec.Source)
	assert.Equal(t, 1.0, rec.AudioSeconds)

	assert.Equal(t, []State{
		ModelLoading, ModelLoading, ModelLoading, ModelLoading,
		Transcribing, Streaming, Complete,
	}, p.states())

	got, err := c.Transcript()
	require.NoError(t, err)
	assert.Equal(t, " And so my fellow", got.Text)
}

func TestCachedModelSkipsLoading(t *testing.T) {
	c, _, _, _ := newController(t)

	gen, err := c.Start(context.Background(), StartRequest{Audio: sample()})
	require.NoError(t, err)
	c.Apply(inference.Ready{Generation: gen})
	c.Apply(inference.Complete{Generation: gen, State: finalState("x")})

	_, err = c.Start(context.Background(), StartRequest{Audio: sample()})
	require.NoError(t, err)
	assert.Equal(t, Transcribing, c.Snapshot().State)
	c.Reset()

	// a different model needs a load
	_, err = c.Start(context.Background(), StartRequest{Audio: sample(), Settings: Settings{Model: "Xenova/whisper-base"}})
	require.NoError(t, err)
	assert.Equal(t, ModelLoading, c.Snapshot().State)
}

func TestStaleEventsDiscarded(t *testing.T) {
	c, _, _, store := newController(t)

	first, err := c.Start(context.Background(), StartRequest{Audio: sample()})
	require.NoError(t, err)
	c.Reset()

	second, err := c.Start(context.Background(), StartRequest{Audio: sample()})
	require.NoError(t, err)
	assert.Greater(t, second, first)

	// every event of the first generation is ignored, whatever its kind
	stale := []inference.Event{
		inference.Initiate{Generation: first, File: "f"},
		inference.Progress{Generation: first, File: "f"},
		inference.Done{Generation: first, File: "f"},
		inference.Ready{Generation: first},
		inference.Update{Generation: first, State: transcript.State{Text: "old"}},
		inference.Complete{Generation: first, State: finalState("old")},
		inference.Error{Generation: first, Message: "old"},
	}
	for _, e := range stale {
		assert.False(t, c.Apply(e), inference.Kind(e))
	}

	snap := c.Snapshot()
	assert.Equal(t, ModelLoading, snap.State)
	assert.Empty(t, snap.Progress)
	assert.Empty(t, snap.Transcript.Text)
	assert.Empty(t, store.records)

	assert.True(t, c.Apply(inference.Update{Generation: second, State: transcript.State{Text: "new"}}))
	assert.Equal(t, "new", c.Snapshot().Transcript.Text)
}

func TestEventsAfterSettleDiscarded(t *testing.T) {
	c, _, _, _ := newController(t)

	gen, err := c.Start(context.Background(), StartRequest{Audio: sample()})
	require.NoError(t, err)
	require.True(t, c.Apply(inference.Complete{Generation: gen, State: finalState("done")}))

	assert.False(t, c.Apply(inference.Update{Generation: gen, State: transcript.State{Text: "late"}}))
	assert.Equal(t, "done", c.Snapshot().Transcript.Text)
}

func TestErrorEventReleasesBusy(t *testing.T) {
	c, _, _, store := newController(t)

	gen, err := c.Start(context.Background(), StartRequest{Audio: sample()})
	require.NoError(t, err)
	c.Apply(inference.Initiate{Generation: gen, File: "config.json"})
	require.True(t, c.Apply(inference.Error{Generation: gen, Message: "download failed"}))

	snap := c.Snapshot()
	assert.Equal(t, Failed, snap.State)
	assert.False(t, snap.IsBusy)
	assert.Equal(t, "download failed", snap.Error)
	assert.Empty(t, snap.Progress)
	assert.Empty(t, store.records)

	// a failed load means the next request loads again
	_, err = c.Start(context.Background(), StartRequest{Audio: sample()})
	require.NoError(t, err)
	snap = c.Snapshot()
	assert.Equal(t, ModelLoading, snap.State)
	assert.Empty(t, snap.Error)
}

func TestFailIgnoresOldGeneration(t *testing.T) {
	c, _, _, _ := newController(t)

	gen, err := c.Start(context.Background(), StartRequest{Audio: sample()})
	require.NoError(t, err)
	c.Reset()

	c.Fail(gen, errors.New("late"))
	assert.Equal(t, Idle, c.Snapshot().State)
}

func TestResetClearsTranscript(t *testing.T) {
	c, _, p, _ := newController(t)

	gen, err := c.Start(context.Background(), StartRequest{Audio: sample()})
	require.NoError(t, err)
	c.Apply(inference.Complete{Generation: gen, State: finalState("text")})

	c.Reset()
	snap := c.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Nil(t, snap.Transcript)
	assert.Equal(t, gen+1, snap.Generation)
	assert.Equal(t, Idle, p.states()[len(p.states())-1])

	_, err = c.Transcript()
	assert.ErrorIs(t, err, ErrNoTranscript)
}

func TestSnapshotIsACopy(t *testing.T) {
	c, _, _, _ := newController(t)

	gen, err := c.Start(context.Background(), StartRequest{Audio: sample()})
	require.NoError(t, err)
	c.Apply(inference.Complete{Generation: gen, State: finalState("keep")})

	snap := c.Snapshot()
	snap.Transcript.Chunks[0].Text = "changed"
	assert.Equal(t, "keep", c.Snapshot().Transcript.Chunks[0].Text)
}

func TestRunDrainsEvents(t *testing.T) {
	c, _, _, _ := newController(t)

	gen, err := c.Start(context.Background(), StartRequest{Audio: sample()})
	require.NoError(t, err)

	events := make(chan inference.Event, 3)
	events <- inference.Ready{Generation: gen}
	events <- inference.Update{Generation: gen, State: transcript.State{Text: "a"}}
	events <- inference.Complete{Generation: gen, State: finalState("ab")}
	close(events)

	c.Run(context.Background(), events)
	snap := c.Snapshot()
	assert.Equal(t, Complete, snap.State)
	assert.Equal(t, "ab", snap.Transcript.Text)
}

func TestRunStopsOnCancel(t *testing.T) {
	c, _, _, _ := newController(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		c.Run(ctx, make(chan inference.Event))
		close(done)
	}()
	<-done
}

func TestResetBeforeReadyForgetsLoadedModel(t *testing.T) {
	c, _, _, _ := newController(t)

	gen, err := c.Start(context.Background(), StartRequest{Audio: sample()})
	require.NoError(t, err)
	c.Apply(inference.Ready{Generation: gen})
	c.Apply(inference.Complete{Generation: gen, State: finalState("tiny")})

	// the worker evicts tiny while loading base, even though base is reset
	_, err = c.Start(context.Background(), StartRequest{Audio: sample(), Settings: Settings{Model: "Xenova/whisper-base"}})
	require.NoError(t, err)
	c.Reset()

	_, err = c.Start(context.Background(), StartRequest{Audio: sample()})
	require.NoError(t, err)
	assert.Equal(t, ModelLoading, c.Snapshot().State)
}

func TestResetOfSameModelKeepsLoadedModel(t *testing.T) {
	c, _, _, _ := newController(t)

	gen, err := c.Start(context.Background(), StartRequest{Audio: sample()})
	require.NoError(t, err)
	c.Apply(inference.Ready{Generation: gen})
	c.Apply(inference.Complete{Generation: gen, State: finalState("tiny")})

	_, err = c.Start(context.Background(), StartRequest{Audio: sample()})
	require.NoError(t, err)
	c.Reset()

	_, err = c.Start(context.Background(), StartRequest{Audio: sample()})
	require.NoError(t, err)
	assert.Equal(t, Transcribing, c.Snapshot().State)
}

func TestInitiateWhileTranscribingReturnsToLoading(t *testing.T) {
	c, _, p, _ := newController(t)

	gen, err := c.Start(context.Background(), StartRequest{Audio: sample()})
	require.NoError(t, err)
	c.Apply(inference.Ready{Generation: gen})
	c.Apply(inference.Complete{Generation: gen, State: finalState("x")})

	gen, err = c.Start(context.Background(), StartRequest{Audio: sample()})
	require.NoError(t, err)
	require.Equal(t, Transcribing, c.Snapshot().State)

	require.True(t, c.Apply(inference.Initiate{Generation: gen, File: "model.onnx"}))
	snap := c.Snapshot()
	assert.Equal(t, ModelLoading, snap.State)
	require.Len(t, snap.Progress, 1)

	c.Apply(inference.Done{Generation: gen, File: "model.onnx"})
	c.Apply(inference.Ready{Generation: gen})
	assert.Equal(t, Transcribing, c.Snapshot().State)

	states := p.states()
	assert.Equal(t, []State{Transcribing, ModelLoading, ModelLoading, Transcribing}, states[len(states)-4:])
}
