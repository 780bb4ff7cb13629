package bridge

import (
	"context"
	"errors"
	"runtime/debug"

	"github.com/K3das/sparkbridge/asr"
	"github.com/K3das/sparkbridge/metrics"
	"github.com/K3das/sparkbridge/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	MethodInit  = "initIflytek"
	MethodStart = "startIflytekAsr"
	MethodStop  = "stopIflytekAsr"
)

const (
	ArgumentAppID     = "appId"
	ArgumentAPIKey    = "apiKey"
	ArgumentAPISecret = "apiSecret"
)

// HandleMethodCall dispatches call and answers it through reply. Unknown
// methods are answered with NotImplemented.
func (b *Bridge) HandleMethodCall(ctx context.Context, call MethodCall, reply Reply) {
	ctx, log := utils.LogContextWith(ctx, b.log, zap.String("method", call.Method))

	answered := false
	defer func() {
		if r := recover(); r != nil {
			log.With(zap.Any("panic", r), zap.String("stack", string(debug.Stack()))).Error("recovered panic")
			metrics.MethodCalls.WithLabelValues(call.Method, metrics.OutcomeError).Inc()
			if !answered {
				reply.Error(CodeInternal, "Unknown error occurred.", nil)
			}
		}
	}()

	var (
		result  any
		callErr error
	)
	switch call.Method {
	case MethodInit:
		result, callErr = b.handleInit(ctx, call)
	case MethodStart:
		result, callErr = b.handleStart(ctx, call)
	case MethodStop:
		result, callErr = b.handleStop(ctx, call)
	default:
		log.Debug("method not implemented")
		metrics.MethodCalls.WithLabelValues(call.Method, metrics.OutcomeNotImplemented).Inc()
		answered = true
		reply.NotImplemented()
		return
	}

	if callErr != nil {
		var execErr ExecutionError
		code := CodeInternal
		message := "Unknown error occurred."
		if errors.As(callErr, &execErr) {
			if execErr.Code != "" {
				code = execErr.Code
			}
			if execErr.Message != "" {
				message = execErr.Message
			}
		}

		if !execErr.UserError {
			log.Error("failed to handle method call", zap.Error(callErr))
		}

		metrics.MethodCalls.WithLabelValues(call.Method, metrics.OutcomeError).Inc()
		answered = true
		reply.Error(code, message, nil)
		return
	}

	metrics.MethodCalls.WithLabelValues(call.Method, metrics.OutcomeSuccess).Inc()
	answered = true
	reply.Success(result)
}

func (b *Bridge) handleInit(ctx context.Context, call MethodCall) (bool, error) {
	log := utils.GetLogFromContext(ctx, b.log)

	appID, err := call.StringArgument(ArgumentAppID)
	if err != nil {
		return false, err
	}
	apiKey, err := call.StringArgument(ArgumentAPIKey)
	if err != nil {
		return false, err
	}
	apiSecret, err := call.StringArgument(ArgumentAPISecret)
	if err != nil {
		return false, err
	}

	log = log.With(
		zap.String("app_id", appID),
		utils.Secret("api_key", apiKey),
		utils.Secret("api_secret", apiSecret),
	)
	log.Info("initializing vendor")

	code := b.vendor.Init(ctx, asr.Config{
		AppID:     appID,
		APIKey:    apiKey,
		APISecret: apiSecret,
		DeviceID:  b.deviceID,
	})

	log.With(zap.Int("code", code)).Info("vendor init returned")

	return code == asr.SuccessCode, nil
}

// handleStart always succeeds once the start was issued. Failures to create
// or start the session are reported as error events, like any other
// recognition failure.
func (b *Bridge) handleStart(ctx context.Context, call MethodCall) (bool, error) {
	log := utils.GetLogFromContext(ctx, b.log)

	if b.session != nil {
		switch b.restartPolicy {
		case RestartOverwrite:
			log.With(zap.Stringer("previous_session", b.sessionKey)).Warn("overwriting running session")
		default:
			log.With(zap.Stringer("previous_session", b.sessionKey)).Info("stopping previous session")
			if err := b.session.Stop(true); err != nil {
				log.Warn("failed to stop previous session", zap.Error(err))
			}
			b.recorder.SessionStopped(b.sessionKey)
		}
	}

	key := uuid.New()
	log = log.With(zap.Stringer("session", key))

	session, err := b.vendor.NewSession(b.params, b.sessionCallbacks(key))
	if err != nil {
		log.Error("failed to create session", zap.Error(err))
		b.deliverError(asr.Error{Message: err.Error()})
		return true, nil
	}

	b.session = session
	b.sessionKey = key
	b.recorder.SessionStarted(key, b.deviceID, b.params)
	log.Info("session created")

	if err := session.Start(b.ctx); err != nil {
		log.Error("failed to start session", zap.Error(err))
		b.deliverError(asr.Error{Message: err.Error()})
		return true, nil
	}
	log.Info("session start requested")

	return true, nil
}

// handleStop keeps the handle; a later stop stops the same session again.
func (b *Bridge) handleStop(ctx context.Context, call MethodCall) (bool, error) {
	log := utils.GetLogFromContext(ctx, b.log)

	if b.session == nil {
		log.Debug("no session to stop")
		return true, nil
	}

	if err := b.session.Stop(false); err != nil {
		log.Warn("failed to stop session", zap.Error(err))
	}
	b.recorder.SessionStopped(b.sessionKey)
	log.With(zap.Stringer("session", b.sessionKey)).Info("session stop requested")

	return true, nil
}
