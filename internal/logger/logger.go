package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	base zerolog.Logger
	once sync.Once
)

// Init configures the package logger. level is one of zerolog's level
// strings ("debug", "info", ...); plain selects a human-readable console
// writer instead of JSON. Init is safe to call more than once; only the
// first call wins.
func Init(level string, plain bool) {
	once.Do(func() {
		lvl, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil || level == "" {
			lvl = zerolog.InfoLevel
		}

		var w io.Writer = os.Stderr
		if plain {
			w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		}

		base = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	})
}

// Get returns the configured logger, initializing with defaults if Init
// was never called.
func Get() zerolog.Logger {
	Init("info", false)
	return base
}

// With returns a logger tagged with a component name.
func With(component string) zerolog.Logger {
	return Get().With().Str("component", component).Logger()
}
