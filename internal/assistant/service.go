// Package assistant is the generation service behind POST /generate. It
// wraps an OpenAI-compatible chat-completion API, or answers from a canned
// set when no usable API key is configured.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/dentaliq/api/internal/platform/generation"
)

const (
	MaxMessageLength = 2000
	// HistoryLimit is how many prior items are forwarded to the model.
	HistoryLimit = 10

	basePrompt = "You are a helpful, professional dental assistant AI. " +
		"You assist patients with questions about dental health, procedures, and aftercare. " +
		"Always be empathetic, clear, and evidence-based. " +
		"For any serious symptoms, always advise the patient to contact or visit the clinic. " +
		"Never diagnose conditions. You are a helpful guide, not a substitute for professional care."
)

var mockReplies = [...]string{
	"For optimal dental health, I recommend brushing twice daily with a fluoride toothpaste, flossing once a day, and maintaining regular six-month check-up appointments. A diet low in sugary and acidic foods will also significantly benefit your oral health.",
	"Based on what you have shared, it would be best to schedule a follow-up appointment to properly assess this. In the meantime, avoid very hot or cold foods if you are experiencing sensitivity, and contact the clinic immediately if pain becomes severe.",
	"Great question! Sensitivity after a cleaning or whitening procedure is completely normal and typically resolves within 24-48 hours. Using a sensitivity toothpaste and avoiding extreme temperatures during this period will help manage any discomfort.",
	"Maintaining excellent home care is the most important thing you can do between visits. This means brushing for two full minutes twice a day, flossing daily, and using an antibacterial mouthwash if recommended by your dentist.",
}

// Config configures the service.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// MockMode is true when no API key is set or it is a demo key.
func (c Config) MockMode() bool {
	return c.APIKey == "" || strings.HasPrefix(c.APIKey, "sk-demo")
}

// Completer is the part of the OpenAI client the service uses.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// GenerateResponse is the body returned by POST /generate.
type GenerateResponse struct {
	Reply string `json:"reply"`
	Model string `json:"model"`
	Mock  bool   `json:"mock"`
}

// UpstreamError is a failed call to the model provider. Status is the HTTP
// status the service answers with: 504 for timeouts, 502 otherwise.
type UpstreamError struct {
	Status int
	Detail string
	Err    error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("%s: %v", e.Detail, e.Err) }
func (e *UpstreamError) Unwrap() error { return e.Err }

// RequestError is a request the service refuses to forward.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return e.Message }

type Service struct {
	cfg    Config
	client Completer
	logger zerolog.Logger
	next   atomic.Uint64
}

// New builds a Service, creating an OpenAI client unless in mock mode.
func New(cfg Config, logger zerolog.Logger) *Service {
	var client Completer
	if !cfg.MockMode() {
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		client = openai.NewClientWithConfig(oc)
	}
	return NewWithClient(cfg, client, logger)
}

// NewWithClient uses client for live calls. A nil client forces mock mode.
func NewWithClient(cfg Config, client Completer, logger zerolog.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	return &Service{
		cfg:    cfg,
		client: client,
		logger: logger.With().Str("component", "assistant").Logger(),
	}
}

func (s *Service) Mock() bool { return s.client == nil }

func (s *Service) Model() string { return s.cfg.Model }

// Generate answers one request.
func (s *Service) Generate(ctx context.Context, req generation.Request) (*GenerateResponse, error) {
	n := utf8.RuneCountInString(req.Message)
	if n < 1 || n > MaxMessageLength {
		return nil, &RequestError{Message: fmt.Sprintf("message must be between 1 and %d characters", MaxMessageLength)}
	}

	if s.Mock() {
		i := s.next.Add(1) - 1
		s.logger.Info().Str("message", preview(req.Message)).Msg("mock reply")
		return &GenerateResponse{Reply: mockReplies[i%uint64(len(mockReplies))], Model: "mock", Mock: true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		Messages:  BuildMessages(SystemPrompt(req.PatientContext), req.History, req.Message),
	})
	if err != nil {
		return nil, s.upstreamError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, &UpstreamError{Status: http.StatusBadGateway, Detail: "AI provider returned no content", Err: errors.New("empty completion")}
	}

	reply := resp.Choices[0].Message.Content
	s.logger.Info().Int("reply_chars", utf8.RuneCountInString(reply)).Str("message", preview(req.Message)).Msg("generated reply")
	return &GenerateResponse{Reply: reply, Model: s.cfg.Model}, nil
}

func (s *Service) upstreamError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		s.logger.Error().Err(err).Msg("model provider timed out")
		return &UpstreamError{Status: http.StatusGatewayTimeout, Detail: "AI service timed out", Err: err}
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		s.logger.Error().Err(err).Int("status", apiErr.HTTPStatusCode).Msg("model provider error")
		return &UpstreamError{
			Status: http.StatusBadGateway,
			Detail: fmt.Sprintf("AI provider returned %d", apiErr.HTTPStatusCode),
			Err:    err,
		}
	}
	s.logger.Error().Err(err).Msg("failed to reach model provider")
	return &UpstreamError{Status: http.StatusBadGateway, Detail: "Failed to reach AI provider", Err: err}
}

// SystemPrompt returns the assistant prompt, extended with the patient
// context when there is one.
func SystemPrompt(patientContext string) string {
	if strings.TrimSpace(patientContext) == "" {
		return basePrompt
	}
	return basePrompt + "\n\nPatient context for this conversation:\n" + patientContext
}

// BuildMessages returns the system prompt, the last HistoryLimit history
// items and the new user message. Unknown roles are sent as "user".
func BuildMessages(system string, history []generation.HistoryItem, message string) []openai.ChatCompletionMessage {
	if len(history) > HistoryLimit {
		history = history[len(history)-HistoryLimit:]
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	for _, h := range history {
		role := h.Role
		if role != openai.ChatMessageRoleAssistant {
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: h.Content})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})
}

func preview(s string) string {
	const max = 60
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}
