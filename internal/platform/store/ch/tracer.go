package ch

import (
	"context"

	"ollamaproxy/internal/platform/logger"

	"github.com/rs/zerolog"
)

// Tracer returns a QueryTracer that logs every insert and query at debug level
func Tracer(root logger.Logger) QueryTracer {
	ll := root.Level(zerolog.DebugLevel).With().Str("component", "ch").Logger()
	return &zlTracer{log: ll}
}

type zlTracer struct{ log logger.Logger }

func (z *zlTracer) OnQuery(_ context.Context, ev QueryEvent) {
	elapsedMs := float64(ev.ElapsedUS) / 1000.0
	z.log.Debug().
		Float64("elapsed_ms", elapsedMs).
		Str("sql", ev.SQL).
		Interface("args", ev.Args).
		Err(ev.Err).
		Msg("ch query")
}
