package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/K3das/sparkbridge/bridge"
	"github.com/stretchr/testify/assert"
)

type recordingChannel struct {
	err    error
	events []string
}

func (c *recordingChannel) InvokeMethod(ctx context.Context, method string, arguments any) error {
	c.events = append(c.events, method)
	return c.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	failing := &recordingChannel{err: errors.New("down")}
	healthy := &recordingChannel{}

	f := NewFanout(failing, nil, healthy)
	assert.Len(t, f, 2)

	err := f.InvokeMethod(context.Background(), "onIflytekError", "x")
	assert.ErrorContains(t, err, "down")
	assert.Equal(t, []string{"onIflytekError"}, failing.events)
	assert.Equal(t, []string{"onIflytekError"}, healthy.events)
}

func TestEmptyFanout(t *testing.T) {
	var f bridge.Channel = NewFanout()
	assert.NoError(t, f.InvokeMethod(context.Background(), "onIflytekResult", "x"))
}
