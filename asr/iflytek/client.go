// Package iflytek implements asr.Vendor on top of the iFlytek streaming
// recognition websocket API.
package iflytek

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/K3das/sparkbridge/asr"
	"github.com/K3das/sparkbridge/profiles"
	"github.com/K3das/sparkbridge/utils"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const DefaultEndpoint = "wss://iat.xf-yun.com/v1"

// Status codes produced locally. Codes reported by the service are passed
// through unchanged and are always positive.
const (
	CodeInvalidConfig   = -1
	CodeInvalidEndpoint = -2
	CodeConnection      = -10
	CodeAudio           = -11
	CodeProtocol        = -12
)

var ErrNotInitialized = fmt.Errorf("vendor not initialized")

type ClientOptions struct {
	Endpoint string `env:"ENDPOINT" envDefault:"wss://iat.xf-yun.com/v1"`
	// EOSMs is the trailing silence, in milliseconds, after which the service
	// ends the utterance. Zero keeps the profile default.
	EOSMs int `env:"EOS_MS"`
	// MaxAudio caps the audio sent in one session
	MaxAudio time.Duration `env:"MAX_AUDIO" envDefault:"60s"`
	// FinalResultTimeout bounds the wait for the last result after the last
	// audio frame was sent
	FinalResultTimeout time.Duration `env:"FINAL_RESULT_TIMEOUT" envDefault:"10s"`
}

type Client struct {
	log *zap.Logger

	options  ClientOptions
	profiles *profiles.ProfileProvider
	audio    asr.AudioSource

	dialer        *websocket.Dialer
	now           func() time.Time
	frameInterval time.Duration
	writeTimeout  time.Duration

	mu       sync.RWMutex
	config   *asr.Config
	endpoint *url.URL
}

type ClientExtraOptions func(*Client)

func WithDialer(dialer *websocket.Dialer) ClientExtraOptions {
	return func(c *Client) {
		c.dialer = dialer
	}
}

func WithClock(now func() time.Time) ClientExtraOptions {
	return func(c *Client) {
		c.now = now
	}
}

// WithFrameInterval sets the pacing between audio frames. Zero sends frames
// as fast as the audio source produces them.
func WithFrameInterval(interval time.Duration) ClientExtraOptions {
	return func(c *Client) {
		c.frameInterval = interval
	}
}

func NewClient(parentLogger *zap.Logger, options ClientOptions, profiles *profiles.ProfileProvider, audio asr.AudioSource, extraOptions ...ClientExtraOptions) *Client {
	if options.Endpoint == "" {
		options.Endpoint = DefaultEndpoint
	}
	if options.MaxAudio <= 0 {
		options.MaxAudio = 60 * time.Second
	}
	if options.FinalResultTimeout <= 0 {
		options.FinalResultTimeout = 10 * time.Second
	}

	c := &Client{
		log:           parentLogger.Named("iflytek"),
		options:       options,
		profiles:      profiles,
		audio:         audio,
		dialer:        websocket.DefaultDialer,
		now:           time.Now,
		frameInterval: 40 * time.Millisecond,
		writeTimeout:  5 * time.Second,
	}
	for _, option := range extraOptions {
		option(c)
	}
	return c
}

// Init stores the credentials used by every later session. A second Init
// replaces the first.
func (c *Client) Init(ctx context.Context, cfg asr.Config) int {
	log := utils.GetLogFromContext(ctx, c.log)

	if cfg.AppID == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		log.Warn("rejecting init with missing credentials")
		return CodeInvalidConfig
	}

	endpoint, err := url.Parse(c.options.Endpoint)
	if err != nil || (endpoint.Scheme != "ws" && endpoint.Scheme != "wss") || endpoint.Host == "" {
		log.With(zap.String("endpoint", c.options.Endpoint), zap.Error(err)).Error("invalid endpoint")
		return CodeInvalidEndpoint
	}

	c.mu.Lock()
	c.config = &cfg
	c.endpoint = endpoint
	c.mu.Unlock()

	log.With(zap.String("app_id", cfg.AppID), zap.String("uid", cfg.DeviceID)).Info("initialized")
	return asr.SuccessCode
}

func (c *Client) NewSession(params asr.SessionParams, callbacks asr.Callbacks) (asr.Session, error) {
	c.mu.RLock()
	cfg := c.config
	endpoint := c.endpoint
	c.mu.RUnlock()

	if cfg == nil {
		return nil, ErrNotInitialized
	}

	parameter, err := c.profiles.Render(params, c.options.EOSMs)
	if err != nil {
		return nil, fmt.Errorf("rendering parameters: %w", err)
	}

	return newSession(c, *cfg, *endpoint, params, parameter, callbacks), nil
}

func (c *Client) dial(ctx context.Context, cfg asr.Config, endpoint url.URL) (*websocket.Conn, error) {
	signedURL, err := signURL(endpoint.String(), cfg.APIKey, cfg.APISecret, c.now())
	if err != nil {
		return nil, fmt.Errorf("signing url: %w", err)
	}

	conn, resp, err := c.dialer.DialContext(ctx, signedURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, fmt.Errorf("handshake rejected: [%d] %s", resp.StatusCode, resp.Status)
		}
		return nil, fmt.Errorf("dialing: %w", err)
	}
	return conn, nil
}
