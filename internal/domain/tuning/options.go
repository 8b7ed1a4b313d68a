package tuning

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/okian/calmmind/pkg/logger"
)

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithMaxRetries bounds the read-modify-write attempts per submission.
func WithMaxRetries(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxRetries = n
		}
	}
}

// WithBackoff sets the base and cap of the jittered delay between attempts.
// A zero base disables waiting.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(a *Aggregator) {
		if base >= 0 {
			a.backoffBase = base
		}
		if maxDelay >= base {
			a.backoffMax = maxDelay
		}
	}
}

// WithClock replaces time.Now for the Updated field.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithIDGenerator replaces the submission record ID source.
func WithIDGenerator(newID func() string) Option {
	return func(a *Aggregator) {
		if newID != nil {
			a.newID = newID
		}
	}
}

// WithAuditPublisher sends a record of every committed submission to p.
func WithAuditPublisher(p AuditPublisher) Option {
	return func(a *Aggregator) {
		a.audit = p
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}

// WithTracer sets the tracer used for submission spans.
func WithTracer(t trace.Tracer) Option {
	return func(a *Aggregator) {
		if t != nil {
			a.tracer = t
		}
	}
}
