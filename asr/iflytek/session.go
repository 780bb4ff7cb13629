package iflytek

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/K3das/sparkbridge/asr"
	"github.com/K3das/sparkbridge/utils"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrSessionStarted = fmt.Errorf("session already started")

type sessionState int

const (
	sessionIdle sessionState = iota
	sessionRunning
	sessionDone
)

// Session streams audio from the client's audio source to the service and
// reports results through its callbacks.
type Session struct {
	client *Client
	log    *zap.Logger

	config    asr.Config
	endpoint  url.URL
	params    asr.SessionParams
	parameter json.RawMessage
	callbacks asr.Callbacks

	mu     sync.Mutex
	state  sessionState
	cancel context.CancelFunc
	sid    string

	finishOnce sync.Once
	finish     chan struct{}
	aborted    atomic.Bool
	reportOnce sync.Once
	done       chan struct{}
}

func newSession(c *Client, cfg asr.Config, endpoint url.URL, params asr.SessionParams, parameter json.RawMessage, callbacks asr.Callbacks) *Session {
	return &Session{
		client:    c,
		log:       c.log.Named("session"),
		config:    cfg,
		endpoint:  endpoint,
		params:    params,
		parameter: parameter,
		callbacks: callbacks,
		finish:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start connects and begins streaming in the background. ctx bounds the
// whole session, not just the call.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != sessionIdle {
		return ErrSessionStarted
	}
	s.state = sessionRunning

	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)

	return nil
}

// Stop never blocks. A graceful stop sends the last audio frame and lets the
// final result arrive.
func (s *Session) Stop(immediate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case sessionIdle:
		s.state = sessionDone
		close(s.done)
		return nil
	case sessionDone:
		return nil
	}

	if immediate {
		s.aborted.Store(true)
		s.cancel()
		return nil
	}

	s.finishOnce.Do(func() {
		close(s.finish)
	})
	return nil
}

// Done is closed once the session has fully ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) SID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sid
}

func (s *Session) setSID(sid string) {
	if sid == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sid == "" {
		s.sid = sid
		s.log = s.log.With(zap.String("sid", sid))
	}
}

func (s *Session) logger() *zap.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log
}

func (s *Session) run(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.state = sessionDone
		s.mu.Unlock()
		close(s.done)
	}()
	defer s.cancel()
	defer utils.PanicRecovery(s.logger())

	conn, err := s.client.dial(ctx, s.config, s.endpoint)
	if err != nil {
		s.report(asr.Error{Code: CodeConnection, Message: err.Error()})
		return
	}
	defer conn.Close()

	// unblocks the receiver on cancellation
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	audio, err := s.client.audio.Open(ctx)
	if err != nil {
		s.report(asr.Error{Code: CodeAudio, Message: fmt.Sprintf("opening audio: %s", err)})
		return
	}
	defer audio.Close()

	s.logger().With(
		zap.String("language", s.params.Language),
		zap.String("domain", s.params.Domain),
		zap.String("accent", s.params.Accent),
	).Debug("session streaming")

	recvErr := make(chan error, 1)
	go func() {
		defer utils.PanicRecovery(s.logger())
		recvErr <- s.receive(ctx, conn)
	}()

	sendErr := make(chan error, 1)
	go func() {
		defer utils.PanicRecovery(s.logger())
		sendErr <- s.send(ctx, conn, audio)
	}()

	select {
	case err = <-recvErr:
		// final result or a failure, either way the audio is no longer needed
		s.cancel()
		audio.Close()
		<-sendErr
	case err = <-sendErr:
		if err != nil {
			s.cancel()
			<-recvErr
		} else {
			err = <-recvErr
		}
	}

	if err != nil {
		s.reportErr(err)
		return
	}
	s.logger().Debug("session complete")
}

func (s *Session) send(ctx context.Context, conn *websocket.Conn, source io.Reader) error {
	maxBytes := int64(s.client.options.MaxAudio) * bytesPerSecond / int64(time.Second)
	audio := utils.LimitReader(source, maxBytes)

	var tick <-chan time.Time
	if s.client.frameInterval > 0 {
		ticker := time.NewTicker(s.client.frameInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	buf := make([]byte, frameSize)
	seq := 0
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.finish:
			return s.writeLast(conn, seq, nil)
		default:
		}

		n, err := utils.ReadFrame(audio, buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, utils.ErrIOLimitReached) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return asr.Error{Code: CodeAudio, Message: fmt.Sprintf("reading audio: %s", err)}
		}
		if errors.Is(err, utils.ErrIOLimitReached) {
			s.logger().Info("audio limit reached, ending session")
		}
		if err != nil {
			return s.writeLast(conn, seq, buf[:n])
		}

		seq++
		status := frameStatusContinue
		if seq == 1 {
			status = frameStatusFirst
		}
		if err := s.writeFrame(conn, seq, status, buf[:n]); err != nil {
			return err
		}
		if seq == 1 {
			s.callbacks.BeginOfSpeech()
		}
	}
}

// writeLast sends the remaining audio with the last status. seq is the
// number of frames already sent.
func (s *Session) writeLast(conn *websocket.Conn, seq int, audio []byte) error {
	if seq == 0 {
		if err := s.writeFrame(conn, 1, frameStatusFirst, audio); err != nil {
			return err
		}
		s.callbacks.BeginOfSpeech()
		seq++
		audio = nil
	}

	if err := s.writeFrame(conn, seq+1, frameStatusLast, audio); err != nil {
		return err
	}
	s.callbacks.EndOfSpeech()

	return conn.SetReadDeadline(time.Now().Add(s.client.options.FinalResultTimeout))
}

func (s *Session) writeFrame(conn *websocket.Conn, seq, status int, audio []byte) error {
	frame := newAudioFrame(s.config.AppID, seq, status, audio)
	if status == frameStatusFirst {
		frame.Header.UID = s.config.DeviceID
		frame.Parameter = s.parameter
	}

	if err := conn.SetWriteDeadline(time.Now().Add(s.client.writeTimeout)); err != nil {
		return asr.Error{Code: CodeConnection, Message: fmt.Sprintf("setting write deadline: %s", err)}
	}
	if err := conn.WriteJSON(frame); err != nil {
		return asr.Error{Code: CodeConnection, Message: fmt.Sprintf("writing frame: %s", err)}
	}
	return nil
}

func (s *Session) receive(ctx context.Context, conn *websocket.Conn) error {
	var t transcript
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return asr.Error{Code: CodeConnection, Message: fmt.Sprintf("reading frame: %s", err)}
		}

		var frame responseFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			return asr.Error{Code: CodeProtocol, Message: fmt.Sprintf("decoding frame: %s", err)}
		}
		s.setSID(frame.Header.SID)

		if frame.Header.Code != 0 {
			return asr.Error{Code: frame.Header.Code, Message: frame.Header.Message}
		}

		if frame.Payload != nil && frame.Payload.Result != nil && frame.Payload.Result.Text != "" {
			text, err := decodeRecognitionText(frame.Payload.Result.Text)
			if err != nil {
				return asr.Error{Code: CodeProtocol, Message: err.Error()}
			}
			t.apply(text)

			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.callbacks.Result(asr.Result{
				Text:      t.String(),
				Status:    asr.ResultStatus(frame.Payload.Result.Status),
				SessionID: s.SID(),
			})
		}

		if frame.Header.Status == frameStatusLast {
			return nil
		}
	}
}

func (s *Session) reportErr(err error) {
	if s.aborted.Load() || errors.Is(err, context.Canceled) {
		return
	}
	var asrErr asr.Error
	if !errors.As(err, &asrErr) {
		asrErr = asr.Error{Code: CodeConnection, Message: err.Error()}
	}
	s.report(asrErr)
}

// report delivers at most one error per session, never after an immediate
// stop.
func (s *Session) report(e asr.Error) {
	if s.aborted.Load() {
		return
	}
	s.reportOnce.Do(func() {
		if e.SessionID == "" {
			e.SessionID = s.SID()
		}
		s.logger().With(zap.Int("code", e.Code), zap.String("message", e.Message)).Warn("session failed")
		s.callbacks.Error(e)
	})
}
