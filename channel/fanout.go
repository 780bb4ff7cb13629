package channel

import (
	"context"
	"errors"

	"github.com/K3das/sparkbridge/bridge"
)

// Fanout delivers every event to each of its channels, even when some fail.
type Fanout []bridge.Channel

func NewFanout(channels ...bridge.Channel) Fanout {
	f := make(Fanout, 0, len(channels))
	for _, c := range channels {
		if c != nil {
			f = append(f, c)
		}
	}
	return f
}

func (f Fanout) InvokeMethod(ctx context.Context, method string, arguments any) error {
	var errs []error
	for _, c := range f {
		if err := c.InvokeMethod(ctx, method, arguments); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
