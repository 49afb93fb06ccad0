package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/yegors/whisper-web/pkg/logger"
)

// ErrSuperseded is returned by a fetch that was replaced by a newer one
var ErrSuperseded = errors.New("download superseded by a newer request")

// FetcherConfig configures URL downloads
type FetcherConfig struct {
	MaxBytes int64
	Timeout  time.Duration
}

// Fetcher downloads audio by URL. Only the most recent fetch is allowed to
// finish; starting a new one cancels the previous one.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *logger.Logger

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// NewFetcher creates a fetcher
func NewFetcher(config FetcherConfig, client *http.Client, log *logger.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = 100 << 20
	}
	return &Fetcher{
		client:   client,
		maxBytes: config.MaxBytes,
		logger:   log.Named("audio-fetcher"),
	}
}

// Fetch downloads url and returns its body
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithCancel(ctx)

	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
	}
	f.seq++
	seq := f.seq
	f.cancel = cancel
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		if f.seq == seq {
			f.cancel = nil
		}
		f.mu.Unlock()
		cancel()
	}()

	data, err := f.download(ctx, url)
	if err != nil {
		if f.superseded(seq) {
			return nil, ErrSuperseded
		}
		return nil, err
	}
	if f.superseded(seq) {
		return nil, ErrSuperseded
	}
	return data, nil
}

func (f *Fetcher) superseded(seq uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq != seq
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid audio url: %w", err)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download audio: status %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("audio too large: %d bytes (limit %d)", resp.ContentLength, f.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("audio too large: exceeds %d bytes", f.maxBytes)
	}

	f.logger.Info("Downloaded audio",
		String("url", url),
		Int("bytes", len(data)),
		Float64("seconds", time.Since(start).Seconds()))

	return data, nil
}
