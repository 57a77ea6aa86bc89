package transport

import (
	"fmt"
	"log"
	"os"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Logger is the minimal surface every core component logs through. The
// no-op/stdlib pair below are kept for cheap defaults and tests; production
// sessions should use NewKitLogger, which backs this interface with
// structured go-kit logging the way the real gocql connection-pool fork
// vendored in loki does (github.com/go-kit/kit/log + .../log/level).
type Logger interface {
	Print(v ...any)
	Printf(format string, v ...any)
	Println(v ...any)
}

type DefaultLogger struct{}

func (DefaultLogger) Print(_ ...any)            {}
func (DefaultLogger) Printf(_ string, _ ...any) {}
func (DefaultLogger) Println(_ ...any)          {}

type DebugLogger struct{}

func (DebugLogger) Print(v ...any)                 { log.Print(v...) }
func (DebugLogger) Printf(format string, v ...any) { log.Printf(format, v...) }
func (DebugLogger) Println(v ...any)               { log.Println(v...) }

// kitLogger adapts a go-kit/log.Logger to Logger, logging every call at
// info level with a "msg" key, matching the level-gated style the vendored
// gocql fork uses around pool lifecycle events.
type kitLogger struct {
	l kitlog.Logger
}

// NewKitLogger wraps l so it satisfies Logger. A nil l logs to stderr via
// kitlog.NewLogfmtLogger(os.Stderr).
func NewKitLogger(l kitlog.Logger) Logger {
	if l == nil {
		l = kitlog.NewLogfmtLogger(os.Stderr)
	}
	return &kitLogger{l: level.Info(l)}
}

func (k *kitLogger) Print(v ...any) {
	_ = k.l.Log("msg", fmt.Sprint(v...))
}

func (k *kitLogger) Printf(format string, v ...any) {
	_ = k.l.Log("msg", fmt.Sprintf(format, v...))
}

func (k *kitLogger) Println(v ...any) {
	_ = k.l.Log("msg", fmt.Sprint(v...))
}
