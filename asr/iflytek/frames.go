package iflytek

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// frame status values, shared by the request header and audio payload
const (
	frameStatusFirst    = 0
	frameStatusContinue = 1
	frameStatusLast     = 2
)

// 40ms of PCM16LE at 16kHz mono
const frameSize = 1280

const bytesPerSecond = 16000 * 2

type requestFrame struct {
	Header    requestHeader   `json:"header"`
	Parameter json.RawMessage `json:"parameter,omitempty"`
	Payload   requestPayload  `json:"payload"`
}

type requestHeader struct {
	AppID  string `json:"app_id"`
	Status int    `json:"status"`
	UID    string `json:"uid,omitempty"`
}

type requestPayload struct {
	Audio audioPayload `json:"audio"`
}

type audioPayload struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
	Seq        int    `json:"seq"`
	Status     int    `json:"status"`
	Audio      string `json:"audio"`
}

func newAudioFrame(appID string, seq, status int, audio []byte) requestFrame {
	return requestFrame{
		Header: requestHeader{
			AppID:  appID,
			Status: status,
		},
		Payload: requestPayload{
			Audio: audioPayload{
				Encoding:   "raw",
				SampleRate: 16000,
				Channels:   1,
				BitDepth:   16,
				Seq:        seq,
				Status:     status,
				Audio:      base64.StdEncoding.EncodeToString(audio),
			},
		},
	}
}

type responseFrame struct {
	Header struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		SID     string `json:"sid"`
		Status  int    `json:"status"`
	} `json:"header"`
	Payload *struct {
		Result *struct {
			Seq    int    `json:"seq"`
			Status int    `json:"status"`
			Text   string `json:"text"`
		} `json:"result"`
	} `json:"payload"`
}

// recognitionText is the base64 decoded payload.result.text
type recognitionText struct {
	// SN is the sentence number, starting at 1
	SN int  `json:"sn"`
	LS bool `json:"ls"`
	// PGS is "apd" to append or "rpl" to replace sentences RG[0]..RG[1]
	PGS string `json:"pgs"`
	RG  []int  `json:"rg"`
	WS  []struct {
		CW []struct {
			W string `json:"w"`
		} `json:"cw"`
	} `json:"ws"`
}

func decodeRecognitionText(encoded string) (*recognitionText, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding base64: %w", err)
	}
	var text recognitionText
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, fmt.Errorf("decoding text json: %w", err)
	}
	return &text, nil
}

// BestMatch joins the first candidate of every word.
func (t *recognitionText) BestMatch() string {
	var b strings.Builder
	for _, ws := range t.WS {
		if len(ws.CW) > 0 {
			b.WriteString(ws.CW[0].W)
		}
	}
	return b.String()
}

// transcript assembles the sentences of a session, applying dynamic
// corrections as they arrive.
type transcript struct {
	sentences map[int]string
}

func (t *transcript) apply(text *recognitionText) {
	if t.sentences == nil {
		t.sentences = make(map[int]string)
	}
	if text.PGS == "rpl" && len(text.RG) == 2 {
		for sn := text.RG[0]; sn <= text.RG[1]; sn++ {
			delete(t.sentences, sn)
		}
	}
	t.sentences[text.SN] = text.BestMatch()
}

func (t *transcript) String() string {
	sns := make([]int, 0, len(t.sentences))
	for sn := range t.sentences {
		sns = append(sns, sn)
	}
	sort.Ints(sns)

	var b strings.Builder
	for _, sn := range sns {
		b.WriteString(t.sentences[sn])
	}
	return b.String()
}
