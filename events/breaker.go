package events

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"taskboard-api/domain"
)

// Breaker stops calling a failing publisher for a while so an outage of the
// queue or Redis does not add its timeout to every mutation.
type Breaker struct {
	next domain.Publisher
	cb   *gobreaker.CircuitBreaker[struct{}]
}

// NewBreaker opens the circuit after failures consecutive errors and probes
// again once timeout has passed.
func NewBreaker(name string, next domain.Publisher, failures uint32, timeout time.Duration) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(log.Fields{
				"publisher": name,
				"from":      from.String(),
				"to":        to.String(),
			}).Warn("publisher circuit state changed")
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

func (b *Breaker) Publish(ctx context.Context, ev domain.Event) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Publish(ctx, ev)
	})
	return err
}

// State reports the circuit state, e.g. "closed" or "open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}
