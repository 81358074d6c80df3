package mailer

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"clubnotify/pkg/metrics"
)

// BreakerSender stops calling a failing provider for a cool-down period.
// While open, Send fails fast with gobreaker.ErrOpenState.
type BreakerSender struct {
	next Sender
	cb   *gobreaker.CircuitBreaker[Result]
}

func NewBreakerSender(next Sender, name string, logger zerolog.Logger) *BreakerSender {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("email circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	}
	return &BreakerSender{next: next, cb: gobreaker.NewCircuitBreaker[Result](settings)}
}

func (b *BreakerSender) Send(ctx context.Context, msg Message) (Result, error) {
	return b.cb.Execute(func() (Result, error) {
		return b.next.Send(ctx, msg)
	})
}
