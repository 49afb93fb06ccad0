package whispercpp

import (
	"path"
	"strings"
)

// DefaultRepo hosts the official ggml conversions
const DefaultRepo = "ggerganov/whisper.cpp"

// Config configures the whisper.cpp engine
type Config struct {
	Repo            string // artifact repo holding ggml-*.bin files
	QuantizedSuffix string // appended to the file name for quantized models, e.g. "q5_1"
	Threads         int    // 0 uses every CPU
}

func (c Config) withDefaults() Config {
	if c.Repo == "" {
		c.Repo = DefaultRepo
	}
	if c.QuantizedSuffix == "" {
		c.QuantizedSuffix = "q5_1"
	}
	return c
}

// GGMLFile maps a model repository id like "Xenova/whisper-tiny.en" to the
// matching ggml file name, "ggml-tiny.en-q5_1.bin" when quantized
func GGMLFile(model string, quantized bool, suffix string) string {
	name := path.Base(model)
	name = strings.TrimPrefix(name, "whisper-")
	if quantized && suffix != "" {
		name += "-" + suffix
	}
	return "ggml-" + name + ".bin"
}
