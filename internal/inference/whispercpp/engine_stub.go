//go:build !(cgo && whispercpp)

package whispercpp

import (
	"errors"

	"github.com/yegors/whisper-web/internal/hub"
	"github.com/yegors/whisper-web/internal/inference"
	"github.com/yegors/whisper-web/pkg/logger"
)

// ErrNotBuilt is returned when the binary was built without whisper.cpp
var ErrNotBuilt = errors.New("whispercpp engine not compiled in, rebuild with -tags whispercpp and cgo enabled")

// NewEngine reports that local inference is unavailable in this build
func NewEngine(config Config, store *hub.Store, log *logger.Logger) (inference.Engine, error) {
	return nil, ErrNotBuilt
}
