package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"cot-backend/internal/chain"
)

// GeminiConfig holds the knobs for the Gemini backend.
type GeminiConfig struct {
	APIKey             string
	Model              string
	Temperature        float32
	ConcurrentRequests int
	MaxRetries         int
	RetryBase          time.Duration
}

// chatFunc sends parts as the next user turn of a chat seeded with history.
type chatFunc func(ctx context.Context, m *genai.GenerativeModel, history []*genai.Content, parts ...genai.Part) (*genai.GenerateContentResponse, error)

func startChat(ctx context.Context, m *genai.GenerativeModel, history []*genai.Content, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	cs := m.StartChat()
	cs.History = history
	return cs.SendMessage(ctx, parts...)
}

type GeminiService struct {
	client   *genai.Client
	chat     chatFunc
	cfg      GeminiConfig
	rateChan chan struct{} // Token bucket
	logger   zerolog.Logger
}

func NewGeminiService(ctx context.Context, cfg GeminiConfig, logger zerolog.Logger) (*GeminiService, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.ConcurrentRequests < 1 {
		cfg.ConcurrentRequests = 1
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiService{
		client:   client,
		chat:     startChat,
		cfg:      cfg,
		rateChan: newRateChan(cfg.ConcurrentRequests),
		logger:   logger.With().Str("component", "gemini").Str("model", cfg.Model).Logger(),
	}, nil
}

func (s *GeminiService) Close() error {
	return s.client.Close()
}

func newRateChan(n int) chan struct{} {
	rateChan := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		rateChan <- struct{}{}
	}
	return rateChan
}

// acquireRate blocks until a rate slot is available
func (s *GeminiService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (s *GeminiService) releaseRate() {
	s.rateChan <- struct{}{}
}

// model returns a fresh model handle so per-call settings never leak
// between concurrent runs.
func (s *GeminiService) model(instruction string) *genai.GenerativeModel {
	m := s.client.GenerativeModel(s.cfg.Model)
	if s.cfg.Temperature > 0 {
		m.SetTemperature(s.cfg.Temperature)
	}
	if instruction != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(instruction)}}
	}
	return m
}

// send replays history into a chat session and sends its last turn,
// retrying transient upstream failures.
func (s *GeminiService) send(ctx context.Context, m *genai.GenerativeModel, history []chain.Turn) (string, error) {
	contents := toContents(history)
	if len(contents) == 0 {
		return "", fmt.Errorf("empty conversation")
	}

	if err := s.acquireRate(ctx); err != nil {
		return "", err
	}
	defer s.releaseRate()

	var text string
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(s.cfg.MaxRetries), retry.NewExponential(s.cfg.RetryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		resp, err := s.chat(ctx, m, contents[:len(contents)-1], contents[len(contents)-1].Parts...)
		if err != nil {
			if isRetryable(err) {
				s.logger.Warn().Err(err).Int("attempt", attempt).Msg("retrying Gemini call")
				return retry.RetryableError(err)
			}
			return err
		}

		for i, cand := range resp.Candidates {
			if cand.FinishReason != genai.FinishReasonStop {
				s.logger.Warn().Int("candidate", i).Str("finish_reason", cand.FinishReason.String()).Msg("Gemini stopped early")
			}
		}

		text = extractText(resp)
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("Gemini returned empty text")
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	return text, nil
}

// GenerateMessage answers a single prompt with no system instruction or history.
func (s *GeminiService) GenerateMessage(ctx context.Context, prompt string) (string, error) {
	return s.send(ctx, s.model(""), []chain.Turn{{Speaker: chain.SpeakerUser, Text: prompt}})
}

// SchemaCaller asks Gemini for JSON constrained to the role's response schema.
type SchemaCaller struct {
	svc *GeminiService
}

func NewSchemaCaller(svc *GeminiService) *SchemaCaller {
	return &SchemaCaller{svc: svc}
}

func (c *SchemaCaller) Generate(ctx context.Context, req chain.ModelRequest) (string, error) {
	m := c.svc.model(req.SystemInstruction)
	m.ResponseMIMEType = "application/json"
	m.ResponseSchema = responseSchema(req.Role)
	return c.svc.send(ctx, m, req.History)
}

// FreeformCaller leaves the output unconstrained; the instruction alone asks
// for JSON and the orchestrator's parser cleans it up.
type FreeformCaller struct {
	svc *GeminiService
}

func NewFreeformCaller(svc *GeminiService) *FreeformCaller {
	return &FreeformCaller{svc: svc}
}

func (c *FreeformCaller) Generate(ctx context.Context, req chain.ModelRequest) (string, error) {
	return c.svc.send(ctx, c.svc.model(req.SystemInstruction), req.History)
}

func responseSchema(role chain.Role) *genai.Schema {
	if role == chain.RoleResponder {
		return &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"response": {Type: genai.TypeString},
			},
			Required: []string{"response"},
		}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"response":   {Type: genai.TypeString},
			"summary":    {Type: genai.TypeString},
			"isSolution": {Type: genai.TypeBoolean},
		},
		Required: []string{"response", "summary", "isSolution"},
	}
}

func toContents(history []chain.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, t := range history {
		role := "user"
		if t.FromModel() {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.Text)}})
	}
	return contents
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}

// isRetryable reports rate limiting and transient server failures.
func isRetryable(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return retryableHTTP(gerr.Code)
	}

	var aerr *apierror.APIError
	if errors.As(err, &aerr) {
		if code := aerr.HTTPCode(); code > 0 {
			return retryableHTTP(code)
		}
		return retryableGRPC(aerr.GRPCStatus().Code())
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return retryableGRPC(st.Code())
	}
	return false
}

func retryableHTTP(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func retryableGRPC(code codes.Code) bool {
	switch code {
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return true
	}
	return false
}
