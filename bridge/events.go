package bridge

import (
	"context"

	"github.com/K3das/sparkbridge/asr"
	"github.com/K3das/sparkbridge/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	EventResult = "onIflytekResult"
	EventError  = "onIflytekError"
)

// sessionCallbacks runs on vendor goroutines and must only touch the bridge
// through the main loop.
func (b *Bridge) sessionCallbacks(key uuid.UUID) asr.Callbacks {
	log := b.log.With(zap.Stringer("session", key))

	return asr.Callbacks{
		OnResult: func(r asr.Result) {
			log.With(
				zap.String("text", r.Text),
				zap.Stringer("status", r.Status),
				zap.String("sid", r.SessionID),
			).Debug("result")
			metrics.VendorCallbacks.WithLabelValues("result").Inc()
			b.recorder.ResultReceived(key, r)

			b.deliver(EventResult, r.Text)
		},
		OnError: func(e asr.Error) {
			log.With(
				zap.Int("code", e.Code),
				zap.String("message", e.Message),
				zap.String("sid", e.SessionID),
			).Error("recognition error")
			metrics.VendorCallbacks.WithLabelValues("error").Inc()
			b.recorder.ErrorReceived(key, e)

			b.deliver(EventError, e.Message)
		},
		OnBeginOfSpeech: func() {
			log.Debug("begin of speech")
			metrics.VendorCallbacks.WithLabelValues("begin_of_speech").Inc()
		},
		OnEndOfSpeech: func() {
			log.Debug("end of speech")
			metrics.VendorCallbacks.WithLabelValues("end_of_speech").Inc()
		},
	}
}

func (b *Bridge) deliverError(e asr.Error) {
	b.deliver(EventError, e.Message)
}

// deliver posts the event to the main loop; the channel is never called
// from the goroutine that produced the event.
func (b *Bridge) deliver(event string, argument string) {
	posted := b.loop.Post(func(ctx context.Context) {
		if err := b.channel.InvokeMethod(ctx, event, argument); err != nil {
			b.log.With(zap.String("event", event), zap.Error(err)).Warn("failed to deliver event")
			metrics.EventsDelivered.WithLabelValues(event, "failed").Inc()
			return
		}
		metrics.EventsDelivered.WithLabelValues(event, "delivered").Inc()
	})
	if !posted {
		b.log.With(zap.String("event", event)).Warn("main loop stopped, dropping event")
		metrics.EventsDelivered.WithLabelValues(event, "dropped").Inc()
	}
}
