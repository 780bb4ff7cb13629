// Package asrtest provides an in-memory asr.Vendor for tests.
package asrtest

import (
	"context"
	"sync"

	"github.com/K3das/sparkbridge/asr"
)

// FakeVendor records calls and lets tests fire session callbacks by hand.
type FakeVendor struct {
	// InitCode is returned by Init
	InitCode int
	// NewSessionErr, if set, is returned by NewSession
	NewSessionErr error
	// StartErr, if set, is returned by Session.Start
	StartErr error

	mu       sync.Mutex
	inits    []asr.Config
	sessions []*FakeSession
}

func NewFakeVendor() *FakeVendor {
	return &FakeVendor{InitCode: asr.SuccessCode}
}

func (v *FakeVendor) Init(ctx context.Context, cfg asr.Config) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inits = append(v.inits, cfg)
	return v.InitCode
}

func (v *FakeVendor) NewSession(params asr.SessionParams, callbacks asr.Callbacks) (asr.Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.NewSessionErr != nil {
		return nil, v.NewSessionErr
	}
	s := &FakeSession{
		Params:    params,
		callbacks: callbacks,
		startErr:  v.StartErr,
	}
	v.sessions = append(v.sessions, s)
	return s, nil
}

// SetInitCode changes InitCode while the vendor may be in use.
func (v *FakeVendor) SetInitCode(code int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.InitCode = code
}

func (v *FakeVendor) Inits() []asr.Config {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]asr.Config(nil), v.inits...)
}

func (v *FakeVendor) Sessions() []*FakeSession {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]*FakeSession(nil), v.sessions...)
}

// LastSession returns the most recently created session, or nil.
func (v *FakeVendor) LastSession() *FakeSession {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.sessions) == 0 {
		return nil
	}
	return v.sessions[len(v.sessions)-1]
}

type FakeSession struct {
	Params asr.SessionParams

	callbacks asr.Callbacks
	startErr  error

	mu      sync.Mutex
	started int
	stops   []bool
}

func (s *FakeSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	return s.startErr
}

func (s *FakeSession) Stop(immediate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops = append(s.stops, immediate)
	return nil
}

func (s *FakeSession) Started() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Stops returns the immediate flag of every Stop call.
func (s *FakeSession) Stops() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.stops...)
}

// FireResult invokes the registered result callback on the calling goroutine.
func (s *FakeSession) FireResult(r asr.Result) {
	s.callbacks.Result(r)
}

func (s *FakeSession) FireError(e asr.Error) {
	s.callbacks.Error(e)
}

func (s *FakeSession) FireBeginOfSpeech() {
	s.callbacks.BeginOfSpeech()
}

func (s *FakeSession) FireEndOfSpeech() {
	s.callbacks.EndOfSpeech()
}
