package whispercpp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGGMLFile(t *testing.T) {
	tests := []struct {
		model     string
		quantized bool
		want      string
	}{
		{"Xenova/whisper-tiny.en", true, "ggml-tiny.en-q5_1.bin"},
		{"Xenova/whisper-base", false, "ggml-base.bin"},
		{"Xenova/whisper-small", true, "ggml-small-q5_1.bin"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, GGMLFile(tt.model, tt.quantized, "q5_1"))
	}
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	assert.Equal(t, DefaultRepo, c.Repo)
	assert.Equal(t, "q5_1", c.QuantizedSuffix)

	c = Config{Repo: "mirror/ggml", QuantizedSuffix: "q8_0"}.withDefaults()
	assert.Equal(t, "mirror/ggml", c.Repo)
	assert.Equal(t, "q8_0", c.QuantizedSuffix)
}
