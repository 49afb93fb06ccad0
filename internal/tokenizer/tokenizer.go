// Package tokenizer loads Whisper tokenizers published as HuggingFace
// tokenizer.json files and adds the timestamp token layout and alignment used
// to turn decoder chunks into timed text. Vocabulary handling and byte-level
// BPE are done by sugarme/tokenizer.
package tokenizer

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	hf "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

const (
	EndOfText    = "<|endoftext|>"
	NoTimestamps = "<|notimestamps|>"
)

// AddedToken is an entry of tokenizer.json's added_tokens list
type AddedToken struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
	Special bool   `json:"special"`
}

// Tokenizer is immutable after construction and safe for concurrent use
type Tokenizer struct {
	hf             *hf.Tokenizer
	special        map[int]bool
	eot            int
	noTimestamps   int
	timestampBegin int
}

type tokenizerHeader struct {
	AddedTokens []AddedToken `json:"added_tokens"`
	Model       struct {
		Type string `json:"type"`
	} `json:"model"`
}

// Load reads a tokenizer.json file from disk
func Load(path string) (*Tokenizer, error) {
	added, err := readAddedTokens(path)
	if err != nil {
		return nil, err
	}
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	return newTokenizer(tk, added)
}

// readAddedTokens reads the special flags of added tokens, which the library
// keeps private
func readAddedTokens(path string) ([]AddedToken, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tokenizer: %w", err)
	}
	var header tokenizerHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("failed to decode tokenizer: %w", err)
	}
	if header.Model.Type != "" && header.Model.Type != "BPE" {
		return nil, fmt.Errorf("unsupported tokenizer model type: %s", header.Model.Type)
	}
	return header.AddedTokens, nil
}

func newTokenizer(tk *hf.Tokenizer, added []AddedToken) (*Tokenizer, error) {
	t := &Tokenizer{
		hf:             tk,
		special:        make(map[int]bool),
		eot:            -1,
		noTimestamps:   -1,
		timestampBegin: -1,
	}
	for _, a := range added {
		if a.Special {
			t.special[a.ID] = true
		}
	}

	eot, ok := tk.TokenToId(EndOfText)
	if !ok {
		return nil, fmt.Errorf("vocabulary has no %s token", EndOfText)
	}
	t.eot = eot
	if id, ok := tk.TokenToId(NoTimestamps); ok {
		t.noTimestamps = id
		t.timestampBegin = id + 1
	}
	return t, nil
}

// VocabSize returns the number of ids known to the tokenizer, added tokens
// included
func (t *Tokenizer) VocabSize() int {
	return t.hf.GetVocabSize(true)
}

// EOT returns the end-of-text id; every id at or above it is special
func (t *Tokenizer) EOT() int {
	return t.eot
}

// TimestampBegin returns the id of the 0.00 timestamp token, or -1 when the
// vocabulary has no timestamp tokens
func (t *Tokenizer) TimestampBegin() int {
	return t.timestampBegin
}

// IsTimestamp reports whether id is a timestamp token
func (t *Tokenizer) IsTimestamp(id int) bool {
	return t.timestampBegin >= 0 && id >= t.timestampBegin
}

// IsSpecial reports whether id is a control or timestamp token
func (t *Tokenizer) IsSpecial(id int) bool {
	return id >= t.eot || t.special[id]
}

// TimestampToken returns the token encoding the given offset in seconds
func (t *Tokenizer) TimestampToken(seconds, precision float64) int {
	if t.timestampBegin < 0 || precision <= 0 {
		return -1
	}
	if seconds < 0 {
		seconds = 0
	}
	return t.timestampBegin + int(math.Round(seconds/precision))
}

// TokenToID looks up a single token string
func (t *Tokenizer) TokenToID(token string) (int, bool) {
	return t.hf.TokenToId(token)
}

// Encode converts text into token ids. Special tokens are not added.
func (t *Tokenizer) Encode(text string) ([]int, error) {
	if text == "" {
		return nil, nil
	}
	enc, err := t.hf.EncodeSingle(text, false)
	if err != nil {
		return nil, fmt.Errorf("failed to encode text: %w", err)
	}
	return enc.Ids, nil
}

// Decode converts ids back to text. Special tokens are dropped when
// skipSpecial is set, otherwise those in the vocabulary are rendered
// literally.
func (t *Tokenizer) Decode(ids []int, skipSpecial bool) string {
	return t.decode(ids, skipSpecial, 0)
}

// DecodeWithTimestamps renders special tokens literally and timestamp tokens
// as <|1.00|> using the model's time precision
func (t *Tokenizer) DecodeWithTimestamps(ids []int, precision float64) string {
	return t.decode(ids, false, precision)
}

func (t *Tokenizer) decode(ids []int, skipSpecial bool, precision float64) string {
	var out strings.Builder
	run := make([]int, 0, len(ids))

	flush := func() {
		if len(run) > 0 {
			out.WriteString(t.hf.Decode(run, false))
			run = run[:0]
		}
	}

	for _, id := range ids {
		if !t.IsSpecial(id) {
			run = append(run, id)
			continue
		}
		if skipSpecial {
			continue
		}
		flush()
		out.WriteString(t.specialText(id, precision))
	}
	flush()
	return out.String()
}

func (t *Tokenizer) specialText(id int, precision float64) string {
	if t.IsTimestamp(id) && precision > 0 {
		return fmt.Sprintf("<|%.2f|>", float64(id-t.timestampBegin)*precision)
	}
	if tok, ok := t.hf.IdToToken(id); ok {
		return tok
	}
	return ""
}

// SpecialTokens returns the ids of all added special tokens, sorted
func (t *Tokenizer) SpecialTokens() []int {
	out := make([]int, 0, len(t.special))
	for id := range t.special {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
