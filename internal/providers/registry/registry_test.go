package registry

import (
	"context"
	"strings"
	"testing"

	"personabot/internal/providers"
	"personabot/internal/providers/anthropic_messages"
	"personabot/internal/providers/custom_http"
	"personabot/internal/providers/openai_compat"
)

func TestDefaultRegistersAllProviders(t *testing.T) {
	got := strings.Join(Default().Names(), ",")
	if got != "anthropic,custom,grok,openai" {
		t.Fatalf("unexpected providers %q", got)
	}
}

func TestBuildKinds(t *testing.T) {
	r := Default()
	cases := map[string]any{
		"grok":      &openai_compat.Client{},
		"OpenAI":    &openai_compat.Client{},
		"anthropic": &anthropic_messages.Client{},
		"custom":    &custom_http.Client{},
	}
	for name, want := range cases {
		p, err := r.Build(name, BuildOptions{APIKey: "k"})
		if err != nil {
			t.Fatalf("build %s: %v", name, err)
		}
		switch want.(type) {
		case *openai_compat.Client:
			if _, ok := p.(*openai_compat.Client); !ok {
				t.Fatalf("%s: expected openai_compat client, got %T", name, p)
			}
		case *anthropic_messages.Client:
			if _, ok := p.(*anthropic_messages.Client); !ok {
				t.Fatalf("%s: expected anthropic client, got %T", name, p)
			}
		case *custom_http.Client:
			if _, ok := p.(*custom_http.Client); !ok {
				t.Fatalf("%s: expected custom client, got %T", name, p)
			}
		}
	}
}

func TestBuildUnknownProvider(t *testing.T) {
	if _, err := Default().Build("mystery", BuildOptions{}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

type echoProvider struct{}

func (echoProvider) Chat(_ context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	return providers.ChatResponse{Text: req.UserMessage}, nil
}

func TestRegisterCustomFactory(t *testing.T) {
	r := New()
	r.Register("Echo", func(BuildOptions) (providers.Provider, error) { return echoProvider{}, nil })
	p, err := r.Build("echo", BuildOptions{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	resp, err := p.Chat(context.Background(), providers.ChatRequest{UserMessage: "ping"})
	if err != nil || resp.Text != "ping" {
		t.Fatalf("unexpected response %+v, %v", resp, err)
	}
}
