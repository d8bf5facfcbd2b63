// Package multi provides a transport that fans out to multiple transports.
// All transports receive all events; errors are aggregated.
package multi

import (
	"context"
	"errors"

	"github.com/KCuppens/bugwatch/pkg/bugwatch"
)

// Transport fans out to multiple transports.
type Transport struct {
	transports []bugwatch.Transport
}

var _ bugwatch.Transport = (*Transport)(nil)

// New creates a transport that sends to every one of transports.
// Errors are aggregated via errors.Join.
func New(transports ...bugwatch.Transport) *Transport {
	return &Transport{
		transports: transports,
	}
}

// Send delivers the event to all transports, collecting any errors.
// All transports are called even if some return errors.
func (t *Transport) Send(ctx context.Context, event *bugwatch.Event) error {
	var errs []error
	for _, tr := range t.transports {
		if err := tr.Send(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush calls Flush on all transports, collecting any errors.
func (t *Transport) Flush(ctx context.Context) error {
	var errs []error
	for _, tr := range t.transports {
		if err := tr.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close calls Close on all transports, collecting any errors.
func (t *Transport) Close() error {
	var errs []error
	for _, tr := range t.transports {
		if err := tr.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
