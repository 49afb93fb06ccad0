package transcript

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAudioTimestamp(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "00:00"},
		{59.9, "00:59"},
		{61, "01:01"},
		{3599, "59:59"},
		{3600, "01:00:00"},
		{3661, "01:01:01"},
		{-3, "00:00"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatAudioTimestamp(tt.in), "input %v", tt.in)
	}
}

func TestFormatSRTTimestamp(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "00:00:00,000"},
		{1.5, "00:00:01,500"},
		{1.001, "00:00:01,001"},
		{61.25, "00:01:01,250"},
		{3723.004, "01:02:03,004"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSRTTimestamp(tt.in), "input %v", tt.in)
	}
}

func TestFormatSRTTimeRange(t *testing.T) {
	assert.Equal(t, "00:00:01,000 --> 00:00:02,500", FormatSRTTimeRange(1, 2.5))
}

func sampleChunks() []TextChunk {
	return []TextChunk{
		{Text: " Hello there.", Timestamp: Timestamp{Start: 0, End: Seconds(1.5)}},
		{Text: " General Kenobi.", Timestamp: Timestamp{Start: 1.5, End: nil}},
	}
}

func TestExportText(t *testing.T) {
	assert.Equal(t, "Hello there. General Kenobi.", ExportText(sampleChunks()))
	assert.Equal(t, "", ExportText(nil))
}

func TestExportSRT(t *testing.T) {
	want := "1\n00:00:00,000 --> 00:00:01,500\nHello there.\n\n" +
		"2\n00:00:01,500 --> 00:00:01,500\nGeneral Kenobi.\n\n"

	assert.Equal(t, want, ExportSRT(sampleChunks()))
	assert.Equal(t, "", ExportSRT(nil))
}

func TestExportJSON(t *testing.T) {
	data, err := ExportJSON(sampleChunks())
	require.NoError(t, err)

	assert.Contains(t, string(data), "\n  {")

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, " Hello there.", decoded[0]["text"])
	assert.Equal(t, []any{0.0, 1.5}, decoded[0]["timestamp"])
	assert.Equal(t, []any{1.5, nil}, decoded[1]["timestamp"])

	empty, err := ExportJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))
}

func TestTimestampUnmarshal(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`[2.5, null]`), &ts))
	assert.InDelta(t, 2.5, ts.Start, 1e-12)
	assert.Nil(t, ts.End)

	require.Error(t, json.Unmarshal([]byte(`[null, 1]`), &ts))
	require.Error(t, json.Unmarshal([]byte(`[1]`), &ts))
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"TXT", FormatText, false},
		{"text", FormatText, false},
		{"json", FormatJSON, false},
		{"srt", FormatSRT, false},
		{"vtt", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	assert.Equal(t, "application/x-subrip", FormatSRT.ContentType())
}

func TestExportDispatch(t *testing.T) {
	data, err := Export(FormatText, sampleChunks())
	require.NoError(t, err)
	assert.Equal(t, "Hello there. General Kenobi.", string(data))

	_, err = Export(Format("vtt"), sampleChunks())
	require.Error(t, err)
}
