package iflytek

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeText(t *testing.T, sn int, pgs string, rg []int, words ...string) string {
	t.Helper()
	type cw struct {
		W string `json:"w"`
	}
	type ws struct {
		CW []cw `json:"cw"`
	}
	body := map[string]any{
		"sn":  sn,
		"ls":  false,
		"pgs": pgs,
	}
	if rg != nil {
		body["rg"] = rg
	}
	var wsList []ws
	for _, w := range words {
		wsList = append(wsList, ws{CW: []cw{{W: w}}})
	}
	body["ws"] = wsList

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestDecodeRecognitionText(t *testing.T) {
	text, err := decodeRecognitionText(encodeText(t, 1, "apd", nil, "今天", "天气"))
	require.NoError(t, err)

	assert.Equal(t, 1, text.SN)
	assert.Equal(t, "今天天气", text.BestMatch())
}

func TestDecodeRecognitionTextInvalid(t *testing.T) {
	_, err := decodeRecognitionText("%%%")
	assert.Error(t, err)

	_, err = decodeRecognitionText(base64.StdEncoding.EncodeToString([]byte("not json")))
	assert.Error(t, err)
}

func TestTranscriptDynamicCorrection(t *testing.T) {
	var tr transcript

	apply := func(encoded string) {
		text, err := decodeRecognitionText(encoded)
		require.NoError(t, err)
		tr.apply(text)
	}

	apply(encodeText(t, 1, "apd", nil, "今天"))
	assert.Equal(t, "今天", tr.String())

	apply(encodeText(t, 2, "apd", nil, "天起"))
	assert.Equal(t, "今天天起", tr.String())

	// sentences 1..2 are replaced by sentence 3
	apply(encodeText(t, 3, "rpl", []int{1, 2}, "今天", "天气", "不错"))
	assert.Equal(t, "今天天气不错", tr.String())

	apply(encodeText(t, 4, "apd", nil, "。"))
	assert.Equal(t, "今天天气不错。", tr.String())
}

func TestNewAudioFrame(t *testing.T) {
	frame := newAudioFrame("app", 3, frameStatusContinue, []byte{1, 2, 3})

	raw, err := json.Marshal(frame)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.NotContains(t, decoded, "parameter")

	header := decoded["header"].(map[string]any)
	assert.Equal(t, "app", header["app_id"])
	assert.EqualValues(t, 1, header["status"])

	audio := decoded["payload"].(map[string]any)["audio"].(map[string]any)
	assert.EqualValues(t, 3, audio["seq"])
	assert.EqualValues(t, 16000, audio["sample_rate"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), audio["audio"])
}
