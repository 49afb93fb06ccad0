package tokenizer

import (
	"strings"

	"github.com/yegors/whisper-web/internal/transcript"
)

type segment struct {
	start  float64
	end    *float64
	tokens []int
}

// DecodeASR aligns finalized chunks into timed text. Timestamp tokens split
// each chunk into segments positioned at chunk.Start + offset*precision.
// Segments centred inside a stride belong to the neighbouring window and are
// dropped.
func (t *Tokenizer) DecodeASR(chunks []transcript.Chunk, precision float64) (string, []transcript.TextChunk) {
	var full strings.Builder
	out := []transcript.TextChunk{}

	for _, c := range chunks {
		for _, seg := range t.splitSegments(c, precision) {
			if inStride(c, seg) {
				continue
			}
			text := t.Decode(seg.tokens, true)
			if text == "" {
				continue
			}
			full.WriteString(text)
			out = append(out, transcript.TextChunk{
				Text:      text,
				Timestamp: transcript.Timestamp{Start: seg.start, End: seg.end},
			})
		}
	}
	return full.String(), out
}

func (t *Tokenizer) splitSegments(c transcript.Chunk, precision float64) []segment {
	var (
		segs    []segment
		start   *float64
		last    = c.Start
		pending []int
	)

	for _, id := range c.Tokens {
		if t.IsTimestamp(id) {
			ts := c.Start + float64(id-t.timestampBegin)*precision
			switch {
			case start == nil && len(pending) == 0:
				start = transcript.Seconds(ts)
			case len(pending) > 0:
				s := last
				if start != nil {
					s = *start
				}
				segs = append(segs, segment{start: s, end: transcript.Seconds(ts), tokens: pending})
				pending = nil
				start = nil
			default:
				start = transcript.Seconds(ts)
			}
			last = ts
			continue
		}
		if t.IsSpecial(id) {
			continue
		}
		pending = append(pending, id)
	}

	if len(pending) > 0 {
		s := last
		if start != nil {
			s = *start
		}
		var end *float64
		if c.End != nil {
			end = transcript.Seconds(*c.End)
		}
		segs = append(segs, segment{start: s, end: end, tokens: pending})
	}
	return segs
}

func inStride(c transcript.Chunk, seg segment) bool {
	mid := seg.start
	if seg.end != nil {
		mid = (seg.start + *seg.end) / 2
	}
	if c.StrideLeft > 0 && mid < c.Start+c.StrideLeft {
		return true
	}
	if c.StrideRight > 0 && c.End != nil && mid >= *c.End-c.StrideRight {
		return true
	}
	return false
}
