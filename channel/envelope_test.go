package channel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCall(t *testing.T) {
	id, call, err := DecodeCall([]byte(`{"type":"call","id":"7","method":"initIflytek","arguments":{"appId":"a","apiKey":5}}`))
	require.NoError(t, err)
	assert.Equal(t, "7", id)
	assert.Equal(t, "initIflytek", call.Method)
	assert.Equal(t, "a", call.Arguments["appId"])
	assert.Equal(t, float64(5), call.Arguments["apiKey"])
}

func TestDecodeCallWithoutArguments(t *testing.T) {
	for _, frame := range []string{
		`{"type":"call","id":"1","method":"startIflytekAsr"}`,
		`{"type":"call","id":"1","method":"startIflytekAsr","arguments":null}`,
	} {
		_, call, err := DecodeCall([]byte(frame))
		require.NoError(t, err, frame)
		assert.Empty(t, call.Arguments)

		s, err := call.StringArgument("appId")
		assert.NoError(t, err)
		assert.Equal(t, "", s)
	}
}

func TestDecodeCallRejectsBadFrames(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		id    string
	}{
		{name: "not json", frame: `hello`},
		{name: "missing id", frame: `{"type":"call","method":"x"}`},
		{name: "wrong type", frame: `{"type":"event","id":"3","method":"x"}`, id: "3"},
		{name: "array arguments", frame: `{"type":"call","id":"4","method":"x","arguments":[1]}`, id: "4"},
		{name: "string arguments", frame: `{"type":"call","id":"5","method":"x","arguments":"a"}`, id: "5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := DecodeCall([]byte(tc.frame))
			var bad BadEnvelopeError
			require.ErrorAs(t, err, &bad)
			assert.Equal(t, tc.id, bad.ID)
		})
	}
}

func TestReplyEncodingKeepsFalse(t *testing.T) {
	payload, err := encodeSuccess("9", false)
	require.NoError(t, err)

	var envelope Envelope
	require.NoError(t, json.Unmarshal(payload, &envelope))
	assert.Equal(t, TypeReply, envelope.Type)
	assert.Equal(t, StatusSuccess, envelope.Status)
	assert.JSONEq(t, `false`, string(envelope.Result))
}

func TestEncodeEvent(t *testing.T) {
	payload, err := EncodeEvent("onIflytekError", "错误 ✗")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"event","method":"onIflytekError","arguments":"错误 ✗"}`, string(payload))
}

func TestEncodeCallRoundTrip(t *testing.T) {
	payload, err := EncodeCall("2", "initIflytek", map[string]any{"appId": "x"})
	require.NoError(t, err)

	id, call, err := DecodeCall(payload)
	require.NoError(t, err)
	assert.Equal(t, "2", id)
	assert.Equal(t, "x", call.Arguments["appId"])
}
