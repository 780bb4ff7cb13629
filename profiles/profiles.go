// Package profiles renders the vendor request parameters for a recognition
// session from embedded jsonnet.
package profiles

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/K3das/sparkbridge/asr"
	"github.com/google/go-jsonnet"
)

//go:embed jsonnet/*
var profiles embed.FS

var ErrUnknownProfile = fmt.Errorf("unknown recognition profile")

type ProfileProvider struct {
	// jsonnet.VM is not safe for concurrent use
	mu sync.Mutex
	vm *jsonnet.VM

	names map[string]struct{}
}

type profileData struct {
	Language string `json:"language"`
	Domain   string `json:"domain"`
	Accent   string `json:"accent"`
	EOSMs    int    `json:"eos_ms"`
}

func NewProfileProvider() (*ProfileProvider, error) {
	p := &ProfileProvider{
		vm: jsonnet.MakeVM(),
	}

	imports := make(map[string]jsonnet.Contents)
	err := fs.WalkDir(profiles, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			content, err := profiles.ReadFile(path)
			if err != nil {
				return err
			}
			imports[strings.TrimPrefix(path, "jsonnet/")] = jsonnet.MakeContentsRaw(content)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading profiles: %w", err)
	}

	p.vm.Importer(&jsonnet.MemoryImporter{
		Data: imports,
	})

	namesJSON, err := p.vm.EvaluateAnonymousSnippet("names", "std.objectFieldsAll(import 'index.jsonnet')")
	if err != nil {
		return nil, fmt.Errorf("importing index: %w", err)
	}
	var names []string
	if err := json.Unmarshal([]byte(namesJSON), &names); err != nil {
		return nil, fmt.Errorf("decoding profile names: %w", err)
	}
	p.names = make(map[string]struct{}, len(names))
	for _, name := range names {
		p.names[name] = struct{}{}
	}

	return p, nil
}

// Has reports whether a profile exists for the given domain.
func (p *ProfileProvider) Has(domain string) bool {
	_, ok := p.names[domain]
	return ok
}

// Render returns the "parameter" object of the first request frame for the
// session params. eosMs overrides the end of speech timeout when positive.
func (p *ProfileProvider) Render(params asr.SessionParams, eosMs int) (json.RawMessage, error) {
	if !p.Has(params.Domain) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, params.Domain)
	}

	jsonData, err := json.Marshal(profileData{
		Language: params.Language,
		Domain:   params.Domain,
		Accent:   params.Accent,
		EOSMs:    eosMs,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling data: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.vm.TLAVar("profile", params.Domain)
	p.vm.TLACode("data", string(jsonData))
	defer p.vm.TLAReset()

	jsonOut, err := p.vm.EvaluateAnonymousSnippet("anonymous", "function(profile, data) (import 'index.jsonnet')[profile](data)")
	if err != nil {
		return nil, fmt.Errorf("evaluating jsonnet: %w", err)
	}

	return json.RawMessage(jsonOut), nil
}
