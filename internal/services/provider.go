package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"cot-backend/internal/chain"
)

// Output modes for the Gemini backend.
const (
	OutputStrict   = "strict"
	OutputFreeform = "freeform"
)

type ProviderConfig struct {
	Provider   string // gemini | mock
	OutputMode string // strict | freeform
	Gemini     GeminiConfig
}

// MessageGenerator answers a single prompt without orchestration.
type MessageGenerator interface {
	GenerateMessage(ctx context.Context, prompt string) (string, error)
}

// Backend bundles the model collaborator for chains with the single-shot generator.
type Backend struct {
	Caller   chain.ModelClient
	Messages MessageGenerator
	Name     string

	closer func() error
}

func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

func NewBackend(ctx context.Context, cfg ProviderConfig, logger zerolog.Logger) (*Backend, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "gemini":
		svc, err := NewGeminiService(ctx, cfg.Gemini, logger)
		if err != nil {
			return nil, err
		}

		mode := strings.ToLower(cfg.OutputMode)
		if mode == "" {
			mode = OutputStrict
		}

		var caller chain.ModelClient
		switch mode {
		case OutputStrict:
			caller = NewSchemaCaller(svc)
		case OutputFreeform:
			caller = NewFreeformCaller(svc)
		default:
			svc.Close()
			return nil, fmt.Errorf("unsupported output mode: %s", cfg.OutputMode)
		}
		return &Backend{Caller: caller, Messages: svc, Name: "gemini/" + mode, closer: svc.Close}, nil

	case "mock":
		m := NewScriptedModel("mock", 2)
		return &Backend{Caller: m, Messages: m, Name: "mock"}, nil

	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}
