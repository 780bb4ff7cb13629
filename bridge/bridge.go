// Package bridge relays method calls from the application layer to the
// recognition vendor and vendor callbacks back as events.
//
// Every exported method of Bridge must be called from the main loop.
package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/K3das/sparkbridge/asr"
	"github.com/K3das/sparkbridge/mainloop"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MethodCall is a named command with its arguments, as sent by the
// application layer.
type MethodCall struct {
	Method    string
	Arguments map[string]any
}

// StringArgument returns the named argument, or "" when it is missing.
func (c MethodCall) StringArgument(key string) (string, error) {
	v, ok := c.Arguments[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", ExecutionError{
			Code:      CodeInvalidArgument,
			Message:   fmt.Sprintf("Argument %q must be a string.", key),
			UserError: true,
		}
	}
	return s, nil
}

// Reply answers exactly one MethodCall.
type Reply interface {
	Success(result any)
	Error(code, message string, details any)
	NotImplemented()
}

// Channel delivers events to the application layer. It is only called from
// the main loop.
type Channel interface {
	InvokeMethod(ctx context.Context, method string, arguments any) error
}

type Poster interface {
	Post(task mainloop.Task) bool
}

// Recorder journals sessions. Implementations must not block.
type Recorder interface {
	SessionStarted(key uuid.UUID, deviceID string, params asr.SessionParams)
	SessionStopped(key uuid.UUID)
	ResultReceived(key uuid.UUID, result asr.Result)
	ErrorReceived(key uuid.UUID, e asr.Error)
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted(uuid.UUID, string, asr.SessionParams) {}
func (nopRecorder) SessionStopped(uuid.UUID)                            {}
func (nopRecorder) ResultReceived(uuid.UUID, asr.Result)                {}
func (nopRecorder) ErrorReceived(uuid.UUID, asr.Error)                  {}

// RestartPolicy decides what happens to a held session when a new one is
// started.
type RestartPolicy string

const (
	// RestartStopPrevious stops the held session immediately first
	RestartStopPrevious = RestartPolicy("stop_previous")
	// RestartOverwrite drops the held session without stopping it
	RestartOverwrite = RestartPolicy("overwrite")
)

func (p *RestartPolicy) UnmarshalText(text []byte) error {
	switch policy := RestartPolicy(strings.ToLower(string(text))); policy {
	case RestartStopPrevious, RestartOverwrite:
		*p = policy
		return nil
	case "":
		*p = RestartStopPrevious
		return nil
	}
	return fmt.Errorf("unknown restart policy %q", string(text))
}

var DefaultSessionParams = asr.SessionParams{
	Language: "zh_cn",
	Domain:   "slm",
	Accent:   "mandarin",
}

type Bridge struct {
	log *zap.Logger

	// sessions outlive the method call that started them
	ctx context.Context

	vendor   asr.Vendor
	channel  Channel
	loop     Poster
	recorder Recorder

	deviceID      string
	params        asr.SessionParams
	restartPolicy RestartPolicy

	session    asr.Session
	sessionKey uuid.UUID
}

type BridgeOptions struct {
	ParentLogger *zap.Logger
	Vendor       asr.Vendor
	Channel      Channel
	Loop         Poster

	// DeviceID is sent to the vendor on every init
	DeviceID string
}

type BridgeExtraOptions func(*Bridge)

func WithSessionParams(params asr.SessionParams) BridgeExtraOptions {
	return func(b *Bridge) {
		b.params = params
	}
}

func WithRestartPolicy(policy RestartPolicy) BridgeExtraOptions {
	return func(b *Bridge) {
		b.restartPolicy = policy
	}
}

func WithRecorder(recorder Recorder) BridgeExtraOptions {
	return func(b *Bridge) {
		b.recorder = recorder
	}
}

// NewBridge creates a bridge. ctx is the parent of every recognition session.
func NewBridge(ctx context.Context, options BridgeOptions, extraOptions ...BridgeExtraOptions) *Bridge {
	b := &Bridge{
		log: options.ParentLogger.Named("bridge").With(zap.String("device_id", options.DeviceID)),
		ctx: ctx,

		vendor:   options.Vendor,
		channel:  options.Channel,
		loop:     options.Loop,
		recorder: nopRecorder{},

		deviceID:      options.DeviceID,
		params:        DefaultSessionParams,
		restartPolicy: RestartStopPrevious,
	}
	for _, option := range extraOptions {
		option(b)
	}
	return b
}

// Session returns the held session handle, if any.
func (b *Bridge) Session() asr.Session {
	return b.session
}

// Close stops the held session immediately.
func (b *Bridge) Close() error {
	if b.session == nil {
		return nil
	}
	err := b.session.Stop(true)
	b.recorder.SessionStopped(b.sessionKey)
	b.session = nil
	if err != nil {
		return fmt.Errorf("stopping session: %w", err)
	}
	return nil
}
