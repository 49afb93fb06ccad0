package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/yegors/whisper-web/internal/tokenizer"
)

// ModelInfo describes an entry of the model catalog
type ModelInfo struct {
	ID          string `json:"id"`
	Size        string `json:"size"`
	EnglishOnly bool   `json:"englishOnly"` // an .en variant exists
}

// Catalog lists the selectable models
var Catalog = []ModelInfo{
	{ID: "Xenova/whisper-tiny", Size: "tiny", EnglishOnly: true},
	{ID: "Xenova/whisper-base", Size: "base", EnglishOnly: true},
	{ID: "Xenova/whisper-small", Size: "small", EnglishOnly: true},
}

// DefaultModel is used when a request does not name a model
const DefaultModel = "Xenova/whisper-tiny"

// Lookup returns the catalog entry for a model id, with or without the .en
// suffix
func Lookup(model string) (ModelInfo, bool) {
	base := strings.TrimSuffix(model, ".en")
	for _, m := range Catalog {
		if m.ID == base {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// ResolveModel returns the repository to load. English-only requests use the
// .en variant where the catalog has one.
func ResolveModel(model string, multilingual bool) string {
	if model == "" {
		model = DefaultModel
	}
	if multilingual || strings.HasSuffix(model, ".en") {
		return model
	}
	if info, ok := Lookup(model); ok && info.EnglishOnly {
		return model + ".en"
	}
	return model
}

// Metadata is what the inference side needs to know about a model beyond
// its weights
type Metadata struct {
	Model              string
	MaxSourcePositions int
	ChunkLength        float64
	SamplingRate       int
	TimePrecision      float64
	Tokenizer          *tokenizer.Tokenizer
}

type modelConfig struct {
	MaxSourcePositions int `json:"max_source_positions"`
}

type preprocessorConfig struct {
	ChunkLength  float64 `json:"chunk_length"`
	SamplingRate int     `json:"sampling_rate"`
}

// LoadMetadata fetches config.json, preprocessor_config.json and
// tokenizer.json for model
func (s *Store) LoadMetadata(ctx context.Context, model string, progress ProgressFunc) (*Metadata, error) {
	var cfg modelConfig
	if err := s.fetchJSON(ctx, model, "config.json", progress, &cfg); err != nil {
		return nil, err
	}
	var pre preprocessorConfig
	if err := s.fetchJSON(ctx, model, "preprocessor_config.json", progress, &pre); err != nil {
		return nil, err
	}

	tokPath, err := s.Fetch(ctx, model, "tokenizer.json", progress)
	if err != nil {
		return nil, err
	}
	tok, err := tokenizer.Load(tokPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer for %s: %w", model, err)
	}

	if cfg.MaxSourcePositions <= 0 {
		cfg.MaxSourcePositions = 1500
	}
	if pre.ChunkLength <= 0 {
		pre.ChunkLength = 30
	}
	if pre.SamplingRate <= 0 {
		pre.SamplingRate = 16000
	}

	return &Metadata{
		Model:              model,
		MaxSourcePositions: cfg.MaxSourcePositions,
		ChunkLength:        pre.ChunkLength,
		SamplingRate:       pre.SamplingRate,
		TimePrecision:      pre.ChunkLength / float64(cfg.MaxSourcePositions),
		Tokenizer:          tok,
	}, nil
}

func (s *Store) fetchJSON(ctx context.Context, repo, file string, progress ProgressFunc, v any) error {
	path, err := s.Fetch(ctx, repo, file, progress)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", file, err)
	}
	return nil
}
