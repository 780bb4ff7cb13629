package channel

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/K3das/sparkbridge/bridge"
	"github.com/K3das/sparkbridge/utils"
	"go.uber.org/zap"
)

// Handler is the bridge side of a transport.
type Handler interface {
	HandleMethodCall(ctx context.Context, call bridge.MethodCall, reply bridge.Reply)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, call bridge.MethodCall, reply bridge.Reply)

func (fn HandlerFunc) HandleMethodCall(ctx context.Context, call bridge.MethodCall, reply bridge.Reply) {
	fn(ctx, call, reply)
}

// sendFunc writes an encoded reply for the call with the given id.
type sendFunc func(id string, payload []byte) error

type dispatcher struct {
	log     *zap.Logger
	handler Handler
	loop    bridge.Poster
}

// dispatch decodes a call frame and posts it to the main loop. It is called
// from transport goroutines.
func (d dispatcher) dispatch(data []byte, send sendFunc) {
	id, call, err := DecodeCall(data)
	if err != nil {
		d.log.Warn("rejecting frame", zap.Error(err))
		var badEnvelope BadEnvelopeError
		if errors.As(err, &badEnvelope) {
			id = badEnvelope.ID
		}
		r := newReply(d.log, id, send)
		r.Error(CodeBadEnvelope, err.Error(), nil)
		return
	}

	r := newReply(d.log.With(zap.String("call_id", id)), id, send)
	posted := d.loop.Post(func(ctx context.Context) {
		ctx = utils.LogContext(ctx, zap.String("call_id", id))
		d.handler.HandleMethodCall(ctx, call, r)
	})
	if !posted {
		r.Error(CodeUnavailable, "Bridge is shutting down.", nil)
	}
}

// reply answers one call. Later answers are logged and dropped.
type reply struct {
	log     *zap.Logger
	id      string
	send    sendFunc
	replied atomic.Bool
}

func newReply(log *zap.Logger, id string, send sendFunc) *reply {
	return &reply{log: log, id: id, send: send}
}

func (r *reply) Success(result any) {
	payload, err := encodeSuccess(r.id, result)
	if err != nil {
		r.log.Error("failed to encode result", zap.Error(err))
		r.Error(bridge.CodeInternal, "Unable to encode result.", nil)
		return
	}
	r.write(payload)
}

func (r *reply) Error(code, message string, details any) {
	payload, err := encodeError(r.id, code, message, details)
	if err != nil {
		r.log.Error("failed to encode error reply", zap.Error(err))
		payload, _ = encodeError(r.id, code, message, nil)
	}
	r.write(payload)
}

func (r *reply) NotImplemented() {
	payload, _ := encodeNotImplemented(r.id)
	r.write(payload)
}

func (r *reply) write(payload []byte) {
	if !r.replied.CompareAndSwap(false, true) {
		r.log.Warn("call already answered, dropping reply")
		return
	}
	if err := r.send(r.id, payload); err != nil {
		r.log.Warn("failed to send reply", zap.Error(err))
	}
}
