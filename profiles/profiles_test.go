package profiles

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/K3das/sparkbridge/asr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type renderedParameter struct {
	IAT struct {
		Domain   string `json:"domain"`
		Language string `json:"language"`
		Accent   string `json:"accent"`
		EOS      int    `json:"eos"`
		DWA      string `json:"dwa"`
		Result   struct {
			Encoding string `json:"encoding"`
			Format   string `json:"format"`
		} `json:"result"`
	} `json:"iat"`
}

func TestRenderSLM(t *testing.T) {
	p, err := NewProfileProvider()
	require.NoError(t, err)

	out, err := p.Render(asr.SessionParams{Language: "zh_cn", Domain: "slm", Accent: "mandarin"}, 0)
	require.NoError(t, err)

	var param renderedParameter
	require.NoError(t, json.Unmarshal(out, &param))
	assert.Equal(t, "slm", param.IAT.Domain)
	assert.Equal(t, "zh_cn", param.IAT.Language)
	assert.Equal(t, "mandarin", param.IAT.Accent)
	assert.Equal(t, 6000, param.IAT.EOS)
	assert.Equal(t, "wpgs", param.IAT.DWA)
	assert.Equal(t, "utf8", param.IAT.Result.Encoding)
	assert.Equal(t, "json", param.IAT.Result.Format)
}

func TestRenderEOSOverride(t *testing.T) {
	p, err := NewProfileProvider()
	require.NoError(t, err)

	out, err := p.Render(asr.SessionParams{Language: "en_us", Domain: "slm_final_only", Accent: "mandarin"}, 1500)
	require.NoError(t, err)

	var param renderedParameter
	require.NoError(t, json.Unmarshal(out, &param))
	assert.Equal(t, 1500, param.IAT.EOS)
	assert.Equal(t, "", param.IAT.DWA)
	assert.Equal(t, "slm", param.IAT.Domain)
}

func TestRenderUnknownDomain(t *testing.T) {
	p, err := NewProfileProvider()
	require.NoError(t, err)

	assert.False(t, p.Has("nope"))
	_, err = p.Render(asr.SessionParams{Domain: "nope"}, 0)
	assert.True(t, errors.Is(err, ErrUnknownProfile))
}

func TestParameterUsesRequestedDomain(t *testing.T) {
	p, err := NewProfileProvider()
	require.NoError(t, err)

	p.mu.Lock()
	out, err := p.vm.EvaluateAnonymousSnippet("domain",
		`(import 'iat.libsonnet').parameter({language: 'zh_cn', domain: 'ist', accent: 'mandarin'})`)
	p.mu.Unlock()
	require.NoError(t, err)

	var param renderedParameter
	require.NoError(t, json.Unmarshal([]byte(out), &param))
	assert.Equal(t, "ist", param.IAT.Domain)
}
