// Package hub fetches model artifacts from a HuggingFace style file host and
// caches them on disk, reporting per-file download progress.
package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yegors/whisper-web/pkg/logger"
)

var (
	String = logger.String
	Int64  = logger.Int64
	Error  = logger.Error
)

// DefaultBaseURL is the default artifact host
const DefaultBaseURL = "https://huggingface.co"

// Status is the lifecycle stage of a file download
type Status string

const (
	StatusInitiate Status = "initiate"
	StatusProgress Status = "progress"
	StatusDone     Status = "done"
)

// Progress describes one step of a file download
type Progress struct {
	Status   Status
	File     string
	Loaded   int64
	Total    int64
	Progress float64 // percent, 0-100
}

// ProgressFunc receives download progress. It is called from the goroutine
// running Fetch.
type ProgressFunc func(Progress)

// StoreConfig configures the artifact store
type StoreConfig struct {
	CacheDir string
	BaseURL  string
	Timeout  time.Duration
}

// Store downloads artifacts into a local cache directory
type Store struct {
	dir     string
	baseURL string
	client  *http.Client
	logger  *logger.Logger

	mu sync.Mutex
}

// NewStore creates a store. A nil client gets a default with the configured
// timeout.
func NewStore(config StoreConfig, client *http.Client, log *logger.Logger) *Store {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Minute
	}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	return &Store{
		dir:     config.CacheDir,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		client:  client,
		logger:  log.Named("model-hub"),
	}
}

// Path returns where a repo file is cached
func (s *Store) Path(repo, file string) string {
	return filepath.Join(s.dir, filepath.FromSlash(repo), filepath.FromSlash(file))
}

// Fetch makes sure repo/file is cached and returns the local path. Progress
// is reported as initiate, zero or more progress, then done. Cache hits
// report initiate and done only.
func (s *Store) Fetch(ctx context.Context, repo, file string, progress ProgressFunc) (string, error) {
	if progress == nil {
		progress = func(Progress) {}
	}

	// serialize downloads so two callers never write the same temp file
	s.mu.Lock()
	defer s.mu.Unlock()

	localPath := s.Path(repo, file)
	progress(Progress{Status: StatusInitiate, File: file})

	if info, err := os.Stat(localPath); err == nil && info.Size() > 0 {
		progress(Progress{Status: StatusDone, File: file, Loaded: info.Size(), Total: info.Size(), Progress: 100})
		return localPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache dir: %w", err)
	}

	url := fmt.Sprintf("%s/%s/resolve/main/%s", s.baseURL, repo, file)
	tmpPath := localPath + ".downloading"

	written, err := s.download(ctx, url, tmpPath, file, progress)
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		return "", fmt.Errorf("failed to move %s into cache: %w", file, err)
	}

	progress(Progress{Status: StatusDone, File: file, Loaded: written, Total: written, Progress: 100})
	return localPath, nil
}

func (s *Store) download(ctx context.Context, url, destPath, file string, progress ProgressFunc) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download %s: %w", file, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("failed to download %s: %s", file, resp.Status)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	counter := &progressWriter{file: file, total: resp.ContentLength, report: progress}
	written, err := io.Copy(io.MultiWriter(f, counter), resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to download %s: %w", file, err)
	}
	if err := f.Sync(); err != nil {
		return 0, err
	}

	s.logger.Info("Downloaded model file",
		String("url", url),
		String("path", destPath),
		Int64("bytes", written))
	return written, nil
}

// progressWriter counts bytes and reports whenever the whole percentage
// changes, or every megabyte when the total is unknown
type progressWriter struct {
	file     string
	total    int64
	loaded   int64
	lastStep int64
	report   ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.loaded += int64(len(p))

	var step int64
	var pct float64
	if w.total > 0 {
		pct = float64(w.loaded) / float64(w.total) * 100
		step = int64(pct)
	} else {
		step = w.loaded >> 20
	}
	if step != w.lastStep {
		w.lastStep = step
		w.report(Progress{Status: StatusProgress, File: w.file, Loaded: w.loaded, Total: w.total, Progress: pct})
	}
	return len(p), nil
}
