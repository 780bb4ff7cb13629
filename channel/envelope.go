// Package channel carries method calls, replies and events between the
// application layer and the bridge.
package channel

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/K3das/sparkbridge/bridge"
)

type EnvelopeType string

const (
	TypeCall  = EnvelopeType("call")
	TypeReply = EnvelopeType("reply")
	TypeEvent = EnvelopeType("event")
)

type ReplyStatus string

const (
	StatusSuccess        = ReplyStatus("success")
	StatusError          = ReplyStatus("error")
	StatusNotImplemented = ReplyStatus("notImplemented")
)

// Error codes produced by the transports themselves
const (
	CodeBadEnvelope = "bad_envelope"
	CodeUnavailable = "unavailable"
)

type Envelope struct {
	Type      EnvelopeType    `json:"type"`
	ID        string          `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	Status ReplyStatus     `json:"status,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *EnvelopeError  `json:"error,omitempty"`
}

type EnvelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// BadEnvelopeError is returned by DecodeCall. ID is set when the frame was
// readable enough to carry one.
type BadEnvelopeError struct {
	ID     string
	Reason string
}

func (e BadEnvelopeError) Error() string {
	return fmt.Sprintf("bad envelope: %s", e.Reason)
}

// DecodeCall parses a call envelope. Missing or null arguments decode to an
// empty argument map.
func DecodeCall(data []byte) (string, bridge.MethodCall, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", bridge.MethodCall{}, BadEnvelopeError{Reason: err.Error()}
	}
	if envelope.Type != TypeCall {
		return envelope.ID, bridge.MethodCall{}, BadEnvelopeError{
			ID:     envelope.ID,
			Reason: fmt.Sprintf("unexpected type %q", envelope.Type),
		}
	}
	if envelope.ID == "" {
		return "", bridge.MethodCall{}, BadEnvelopeError{Reason: "missing id"}
	}

	call := bridge.MethodCall{Method: envelope.Method}
	arguments := bytes.TrimSpace(envelope.Arguments)
	if len(arguments) > 0 && !bytes.Equal(arguments, []byte("null")) {
		if err := json.Unmarshal(arguments, &call.Arguments); err != nil {
			return envelope.ID, bridge.MethodCall{}, BadEnvelopeError{
				ID:     envelope.ID,
				Reason: "arguments must be an object",
			}
		}
	}

	return envelope.ID, call, nil
}

func EncodeCall(id, method string, arguments map[string]any) ([]byte, error) {
	envelope := Envelope{Type: TypeCall, ID: id, Method: method}
	if arguments != nil {
		raw, err := json.Marshal(arguments)
		if err != nil {
			return nil, fmt.Errorf("encoding arguments: %w", err)
		}
		envelope.Arguments = raw
	}
	return json.Marshal(envelope)
}

func EncodeEvent(method string, arguments any) ([]byte, error) {
	raw, err := json.Marshal(arguments)
	if err != nil {
		return nil, fmt.Errorf("encoding event arguments: %w", err)
	}
	return json.Marshal(Envelope{Type: TypeEvent, Method: method, Arguments: raw})
}

func encodeSuccess(id string, result any) ([]byte, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return json.Marshal(Envelope{Type: TypeReply, ID: id, Status: StatusSuccess, Result: raw})
}

func encodeError(id, code, message string, details any) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:   TypeReply,
		ID:     id,
		Status: StatusError,
		Error:  &EnvelopeError{Code: code, Message: message, Details: details},
	})
}

func encodeNotImplemented(id string) ([]byte, error) {
	return json.Marshal(Envelope{Type: TypeReply, ID: id, Status: StatusNotImplemented})
}
