package events

import (
	"context"
	"errors"

	"taskboard-api/domain"
)

// Multi fans an event out to several publishers. Every publisher is tried;
// the failures are joined.
type Multi []domain.Publisher

func (m Multi) Publish(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
