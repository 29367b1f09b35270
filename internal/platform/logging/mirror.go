package logging

import (
	"context"
	"sync/atomic"
)

// MirrorFunc receives a copy of every emitted log record. Exporters (e.g.
// the OpenTelemetry log bridge) install one at startup; it must be cheap
// and must never block the logging hot path.
type MirrorFunc func(ctx context.Context, level Level, msg string, args ...any)

type mirrorHolder struct {
	fn MirrorFunc
}

var mirror atomic.Pointer[mirrorHolder]

// SetMirror installs or clears (nil) the global log mirror.
func SetMirror(fn MirrorFunc) {
	mirror.Store(&mirrorHolder{fn: fn})
}

func mirrorRecord(ctx context.Context, level Level, msg string, args []any) {
	holder := mirror.Load()
	if holder == nil || holder.fn == nil {
		return
	}
	holder.fn(ctx, level, msg, args...)
}
