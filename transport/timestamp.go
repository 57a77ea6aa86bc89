package transport

import (
	"sync/atomic"
	"time"
)

// TimestampGenerator produces the client-side microsecond timestamp sent
// with a QUERY/EXECUTE request, or the MIN_INT64 sentinel meaning "let the
// server assign one" (§4.10).
type TimestampGenerator interface {
	Next() int64
}

// ServerSideTimestampGenerator always returns the "let the server decide"
// sentinel.
type ServerSideTimestampGenerator struct{}

func (ServerSideTimestampGenerator) Next() int64 { return minInt64 }

const minInt64 = -1 << 63

// MonotonicTimestampGenerator returns wall-clock microseconds, nudging
// forward by exactly 1 over the previous value when the clock has not
// advanced (or has gone backwards), so successive calls are always
// strictly increasing (§8 "Monotonic timestamp").
//
// Clock-skew warnings are rate-limited by a monotonic clock (time.Since)
// rather than the generator's own timestamp, so skew that forces the
// counter ahead cannot also suppress the warning about it.
type MonotonicTimestampGenerator struct {
	last              atomic.Int64
	WarningThresholdUs int64
	WarningInterval    time.Duration
	Logger             Logger

	lastWarnAt atomic.Int64 // nanoseconds since warnClockBase of last warning, via time.Since
	nowFunc    func() time.Time
}

// warnClockBase anchors maybeWarn's monotonic-clock readings.
var warnClockBase = time.Now()

// NewMonotonicTimestampGenerator returns a generator with the defaults
// named in §4.10: a 1 second warning threshold and a 10 second rate limit.
func NewMonotonicTimestampGenerator(logger Logger) *MonotonicTimestampGenerator {
	if logger == nil {
		logger = DefaultLogger{}
	}
	return &MonotonicTimestampGenerator{
		WarningThresholdUs: int64(time.Second / time.Microsecond),
		WarningInterval:    10 * time.Second,
		Logger:             logger,
		nowFunc:            time.Now,
	}
}

func (g *MonotonicTimestampGenerator) now() time.Time {
	if g.nowFunc != nil {
		return g.nowFunc()
	}
	return time.Now()
}

// Next returns strictly-increasing microsecond timestamps via atomic CAS,
// as specified.
func (g *MonotonicTimestampGenerator) Next() int64 {
	for {
		wallUs := g.now().UnixNano() / int64(time.Microsecond)
		last := g.last.Load()

		next := wallUs
		if next <= last {
			next = last + 1
		}

		if g.last.CompareAndSwap(last, next) {
			if skew := next - wallUs; skew > g.WarningThresholdUs {
				g.maybeWarn(skew)
			}
			return next
		}
	}
}

func (g *MonotonicTimestampGenerator) maybeWarn(skewUs int64) {
	nowNs := int64(time.Since(warnClockBase))
	last := g.lastWarnAt.Load()
	if last != 0 && nowNs-last < int64(g.WarningInterval) {
		return
	}
	if !g.lastWarnAt.CompareAndSwap(last, nowNs) {
		return
	}
	g.Logger.Printf("timestamp generator: clock skew forced counter ahead by %dus", skewUs)
}
