package transcript

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Format is an export format
type Format string

const (
	FormatText Format = "txt"
	FormatJSON Format = "json"
	FormatSRT  Format = "srt"
)

// ParseFormat accepts the format names used by the export endpoints
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "txt", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "srt":
		return FormatSRT, nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", s)
	}
}

// ContentType returns the MIME type for the format
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatSRT:
		return "application/x-subrip"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Export renders chunks in the requested format
func Export(f Format, chunks []TextChunk) ([]byte, error) {
	switch f {
	case FormatText:
		return []byte(ExportText(chunks)), nil
	case FormatJSON:
		return ExportJSON(chunks)
	case FormatSRT:
		return []byte(ExportSRT(chunks)), nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", f)
	}
}

// ExportText concatenates chunk texts and trims the result
func ExportText(chunks []TextChunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text)
	}
	return strings.TrimSpace(b.String())
}

// ExportJSON renders the chunks as an indented JSON array
func ExportJSON(chunks []TextChunk) ([]byte, error) {
	if chunks == nil {
		chunks = []TextChunk{}
	}
	data, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transcript: %w", err)
	}
	return data, nil
}

// ExportSRT renders numbered SRT blocks separated by blank lines. A chunk
// without an end time is shown as a zero-length cue.
func ExportSRT(chunks []TextChunk) string {
	var b strings.Builder
	for i, c := range chunks {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteByte('\n')
		b.WriteString(FormatSRTTimeRange(c.Timestamp.Start, c.Timestamp.EndOr(c.Timestamp.Start)))
		b.WriteByte('\n')
		b.WriteString(strings.TrimSpace(c.Text))
		b.WriteString("\n\n")
	}
	return b.String()
}
