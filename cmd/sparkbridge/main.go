package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/K3das/sparkbridge/asr"
	"github.com/K3das/sparkbridge/asr/iflytek"
	"github.com/K3das/sparkbridge/bridge"
	"github.com/K3das/sparkbridge/channel"
	"github.com/K3das/sparkbridge/device"
	"github.com/K3das/sparkbridge/mainloop"
	"github.com/K3das/sparkbridge/media"
	"github.com/K3das/sparkbridge/metrics"
	"github.com/K3das/sparkbridge/profiles"
	"github.com/K3das/sparkbridge/store"
	"github.com/caarlos0/env/v9"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var CommitHash = ""

type sessionConfig struct {
	Language string `env:"LANGUAGE" envDefault:"zh_cn"`
	Domain   string `env:"DOMAIN" envDefault:"slm"`
	Accent   string `env:"ACCENT" envDefault:"mandarin"`
}

type config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	DeviceID   string `env:"DEVICE_ID"`

	// PostgresDSN enables the session journal when set
	PostgresDSN string `env:"POSTGRES_DSN"`

	RestartPolicy bridge.RestartPolicy `env:"RESTART_POLICY" envDefault:"stop_previous"`
	Session       sessionConfig        `envPrefix:"SESSION_"`

	IflytekOptions iflytek.ClientOptions `envPrefix:"IFLYTEK_"`
	AudioOptions   media.CaptureOptions  `envPrefix:"AUDIO_"`
	BinaryOptions  media.BinaryOptions
	MQTTOptions    channel.MQTTOptions `envPrefix:"MQTT_"`
}

const appName = "sparkbridge"
const environmentPrefix = "SPARKBRIDGE_"
const logLevelEnvKey = environmentPrefix + "LOG_LEVEL"

const shutdownTimeout = 5 * time.Second

func createLog() *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = ""

	logLevelValue := os.Getenv(logLevelEnvKey)
	logLevel, logLevelErr := zapcore.ParseLevel(logLevelValue)

	if logLevelErr != nil {
		logLevel = zapcore.InfoLevel
	}

	rawLog := zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(os.Stdout),
		logLevel,
	)).Named(appName)

	if CommitHash != "" {
		rawLog = rawLog.With(zap.String("commit", CommitHash))
	}

	if logLevelErr != nil && logLevelValue != "" {
		rawLog.With(zap.String(logLevelEnvKey, logLevelValue)).Warn("unable to parse log level, using INFO")
	}

	return rawLog
}

func main() {
	parentLogger := createLog()
	defer parentLogger.Sync()

	log := parentLogger.Named("main")
	log.With(zap.String("min_log_level", parentLogger.Level().String())).Info("starting")

	cfg := config{}
	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix: environmentPrefix,
	}); err != nil {
		log.Fatal("failed to parse config", zap.Error(err))
	}

	profileProvider, err := profiles.NewProfileProvider()
	if err != nil {
		log.Fatal("failed to create profile provider", zap.Error(err))
	}
	if !profileProvider.Has(cfg.Session.Domain) {
		log.With(zap.String("domain", cfg.Session.Domain)).Fatal("no request profile for session domain")
	}

	deviceID := device.ID(log, appName, cfg.DeviceID)
	log = log.With(zap.String("device_id", deviceID))

	ffmpeg := media.NewFFmpeg(media.WithBinaries(cfg.BinaryOptions))
	vendor := iflytek.NewClient(parentLogger, cfg.IflytekOptions, profileProvider, ffmpeg.Source(cfg.AudioOptions))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// the loop outlives ctx so the bridge can be closed on it
	loopCtx, cancelLoop := context.WithCancel(context.Background())
	defer cancelLoop()

	loop := mainloop.New(parentLogger)

	var b *bridge.Bridge
	handler := channel.HandlerFunc(func(ctx context.Context, call bridge.MethodCall, reply bridge.Reply) {
		b.HandleMethodCall(ctx, call, reply)
	})

	hub := channel.NewHub(parentLogger, handler, loop)
	channels := []bridge.Channel{hub}

	var mqttTransport *channel.MQTT
	if cfg.MQTTOptions.Enabled() {
		mqttTransport = channel.NewMQTT(parentLogger, cfg.MQTTOptions, handler, loop)
		channels = append(channels, mqttTransport)
	}

	bridgeOptions := []bridge.BridgeExtraOptions{
		bridge.WithRestartPolicy(cfg.RestartPolicy),
		bridge.WithSessionParams(asr.SessionParams{
			Language: cfg.Session.Language,
			Domain:   cfg.Session.Domain,
			Accent:   cfg.Session.Accent,
		}),
	}

	var journal *store.Journal
	if cfg.PostgresDSN != "" {
		s := store.NewStore(ctx, parentLogger)
		if err := s.Connect(ctx, cfg.PostgresDSN); err != nil {
			log.Fatal("failed to connect store", zap.Error(err))
		}
		defer s.Close()

		journal = store.NewJournal(parentLogger, s)
		bridgeOptions = append(bridgeOptions, bridge.WithRecorder(journal))
	} else {
		log.Info("no postgres dsn, session journal disabled")
	}

	b = bridge.NewBridge(ctx, bridge.BridgeOptions{
		ParentLogger: parentLogger,
		Vendor:       vendor,
		Channel:      channel.NewFanout(channels...),
		Loop:         loop,
		DeviceID:     deviceID,
	}, bridgeOptions...)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	hub.Mount(router)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g := errgroup.Group{}

	// Main loop
	g.Go(func() error {
		defer cancel()

		return loop.Run(loopCtx)
	})

	// HTTP server
	g.Go(func() error {
		defer cancel()

		log.With(zap.String("addr", cfg.ListenAddr)).Info("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()

		hub.Close()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		return server.Shutdown(shutdownCtx)
	})

	// MQTT transport
	if mqttTransport != nil {
		g.Go(func() error {
			defer cancel()

			return mqttTransport.Run(ctx)
		})
	}

	// Session journal
	if journal != nil {
		g.Go(func() error {
			return journal.Run(ctx)
		})
	}

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-shutdownSignal:
		log.Info("received signal, shutting down")
	case <-ctx.Done():
		log.Info("context done, shutting down")
	}

	closed := make(chan struct{})
	if loop.Post(func(ctx context.Context) {
		defer close(closed)
		if err := b.Close(); err != nil {
			log.Warn("failed to close bridge", zap.Error(err))
		}
	}) {
		select {
		case <-closed:
		case <-time.After(shutdownTimeout):
			log.Warn("timed out closing bridge")
		}
	}

	cancel()
	cancelLoop()

	err = g.Wait()
	if err != nil {
		log.Fatal("error group error", zap.Error(err))
	}
}
