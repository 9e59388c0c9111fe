package render

import (
	"context"
	"log/slog"
	"sync/atomic"
)

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// SetLogger sets the logger used by the renderer. By default nothing is
// logged. Passing nil restores the silent default.
//
// Levels:
//   - Debug: allocations, transfers, descriptor and pipeline creation
//   - Info: lifecycle events (context initialized, swapchain built or rebuilt)
//   - Warn: recoverable problems (suboptimal swapchain, present failures)
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}

// Logger returns the logger used by the renderer.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
