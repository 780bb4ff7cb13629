package asr

import (
	"context"
	"fmt"
	"io"
)

// SuccessCode is what Vendor.Init returns when the vendor accepted the
// configuration.
const SuccessCode = 0

// Vendor is the process-wide speech recognition engine.
type Vendor interface {
	// Init configures the vendor and returns its status code, SuccessCode on
	// success.
	Init(ctx context.Context, cfg Config) int

	// NewSession creates a recognition session. Callbacks fire on vendor
	// goroutines.
	NewSession(params SessionParams, callbacks Callbacks) (Session, error)
}

// Session is a single recognition attempt.
type Session interface {
	// Start begins capturing and transcribing audio. It returns once the
	// request has been issued; recognition failures are reported through
	// Callbacks.OnError.
	Start(ctx context.Context) error

	// Stop ends the session. With immediate set, in-flight results are
	// dropped; otherwise the vendor is allowed to deliver the final result.
	Stop(immediate bool) error
}

// AudioSource opens a stream of PCM16LE, 16kHz, mono audio.
type AudioSource interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

type Config struct {
	AppID     string
	APIKey    string
	APISecret string
	DeviceID  string
}

type SessionParams struct {
	// Language, ie: "zh_cn"
	Language string
	// Domain selects the recognition model, ie: "slm"
	Domain string
	// Accent is the dialect, ie: "mandarin"
	Accent string
}

type ResultStatus int

const (
	ResultStatusBegin ResultStatus = iota
	ResultStatusContinue
	ResultStatusEnd
)

func (s ResultStatus) String() string {
	switch s {
	case ResultStatusBegin:
		return "begin"
	case ResultStatusContinue:
		return "continue"
	case ResultStatusEnd:
		return "end"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

type Result struct {
	// Text is the best matching transcript so far
	Text      string
	Status    ResultStatus
	SessionID string
}

type Error struct {
	Code      int
	Message   string
	SessionID string
}

func (e Error) Error() string {
	return fmt.Sprintf("asr error %d: %s", e.Code, e.Message)
}

// Callbacks are invoked by a Session. Any of them may be nil.
type Callbacks struct {
	OnResult        func(Result)
	OnError         func(Error)
	OnBeginOfSpeech func()
	OnEndOfSpeech   func()
}

func (c Callbacks) Result(r Result) {
	if c.OnResult != nil {
		c.OnResult(r)
	}
}

func (c Callbacks) Error(e Error) {
	if c.OnError != nil {
		c.OnError(e)
	}
}

func (c Callbacks) BeginOfSpeech() {
	if c.OnBeginOfSpeech != nil {
		c.OnBeginOfSpeech()
	}
}

func (c Callbacks) EndOfSpeech() {
	if c.OnEndOfSpeech != nil {
		c.OnEndOfSpeech()
	}
}
