package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/yegors/whisper-web/pkg/logger"
)

var (
	String  = logger.String
	Int     = logger.Int
	Float64 = logger.Float64
	Error   = logger.Error
)

// DecoderConfig configures audio decoding
type DecoderConfig struct {
	FFmpegPath string        // empty disables the ffmpeg fallback
	SampleRate int           // output rate, defaults to SampleRate
	Timeout    time.Duration // limit for a single ffmpeg run
}

// Decoder converts arbitrary audio files to mono samples at a fixed rate.
// WAV is decoded natively; other containers go through ffmpeg.
type Decoder struct {
	ffmpegPath string
	sampleRate int
	timeout    time.Duration
	logger     *logger.Logger
}

// NewDecoder creates a decoder
func NewDecoder(config DecoderConfig, log *logger.Logger) *Decoder {
	if config.SampleRate <= 0 {
		config.SampleRate = SampleRate
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Minute
	}
	return &Decoder{
		ffmpegPath: config.FFmpegPath,
		sampleRate: config.SampleRate,
		timeout:    config.Timeout,
		logger:     log.Named("audio-decoder"),
	}
}

// Decode converts data to a mono sample. name is only used for logging and
// to give ffmpeg a hint about the container.
func (d *Decoder) Decode(ctx context.Context, data []byte, name string) (Sample, error) {
	if len(data) == 0 {
		return Sample{}, fmt.Errorf("%w: empty input", ErrUnsupportedFormat)
	}

	var (
		channels [][]float32
		rate     int
		err      error
	)
	if isWAV(data) {
		channels, rate, err = DecodeWAV(bytes.NewReader(data))
		if err != nil && !errors.Is(err, ErrUnsupportedFormat) {
			return Sample{}, err
		}
	}
	if channels == nil {
		channels, rate, err = d.decodeFFmpeg(ctx, data, name)
		if err != nil {
			return Sample{}, err
		}
	}

	mono := MixDown(channels)
	if len(mono) == 0 {
		return Sample{}, fmt.Errorf("%w: no audio frames", ErrUnsupportedFormat)
	}
	mono = Resample(mono, rate, d.sampleRate)

	d.logger.Debug("Decoded audio",
		String("name", name),
		Int("channels", len(channels)),
		Int("source_rate", rate),
		Int("samples", len(mono)))

	return Sample{Data: mono, SampleRate: d.sampleRate}, nil
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// decodeFFmpeg transcodes to 16-bit PCM WAV at the target rate while keeping
// the source channel layout so mixing happens in one place
func (d *Decoder) decodeFFmpeg(ctx context.Context, data []byte, name string) ([][]float32, int, error) {
	if d.ffmpegPath == "" {
		return nil, 0, fmt.Errorf("%w: %s (ffmpeg disabled)", ErrUnsupportedFormat, name)
	}

	dir, err := os.MkdirTemp("", "whisper-web-decode-*")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input"+filepath.Ext(name))
	out := filepath.Join(dir, "output.wav")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, 0, fmt.Errorf("failed to write temp input: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	args := []string{
		"-loglevel", "error",
		"-nostdin",
		"-i", in,
		"-vn", // drop video streams
		"-f", "wav",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(d.sampleRate),
		"-y", out,
	}

	d.logger.Debug("Running ffmpeg", String("path", d.ffmpegPath), String("input", name))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, d.ffmpegPath, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		d.logger.Warn("ffmpeg failed to decode audio",
			String("input", name),
			String("stderr", stderr.String()),
			Error(err))
		return nil, 0, fmt.Errorf("%w: ffmpeg: %s", ErrUnsupportedFormat, bytes.TrimSpace(stderr.Bytes()))
	}

	f, err := os.Open(out)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open ffmpeg output: %w", err)
	}
	defer f.Close()

	return DecodeWAV(f)
}
