// Package generation calls the text-generation service that drafts
// assistant replies, or stands in for it with canned replies when no
// service is configured.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	ModeMock = "mock"
	ModeLive = "live"

	DefaultTimeout = 15 * time.Second

	// EmptyReply is used when the service answers 2xx without any reply text.
	EmptyReply = "No response from AI service."
)

var mockReplies = [...]string{
	"That's a great question! For optimal dental health, make sure to brush twice daily with fluoride toothpaste, floss at least once a day, and visit your dentist every six months for professional cleanings. A balanced diet low in sugary and acidic foods also plays a significant role.",
	"Based on the patient's history, I recommend maintaining the current oral hygiene regimen. Continue monitoring for any changes in sensitivity or discomfort, and ensure follow-up appointments are kept as scheduled.",
	"For this concern, it's important to stay well-hydrated and avoid foods that trigger sensitivity. Using a desensitizing toothpaste can help, and your dentist may recommend a fluoride varnish treatment at your next visit.",
	"Prevention is always the best approach in dental care. Regular check-ups allow us to catch issues early before they become more complex. Please ensure any prescribed medications are taken as directed and don't hesitate to call the clinic if symptoms worsen.",
}

// MockReplies returns the canned replies in rotation order.
func MockReplies() []string {
	out := make([]string, len(mockReplies))
	copy(out, mockReplies[:])
	return out
}

// HistoryItem is one prior turn as the generation service sees it. Role is
// "user" or "assistant".
type HistoryItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the body of POST {endpoint}/generate.
type Request struct {
	Message        string        `json:"message"`
	PatientContext string        `json:"patient_context"`
	History        []HistoryItem `json:"history"`
}

// GatewayError describes a failed live generation call. StatusCode and Body
// are set when the service answered with a non-2xx status.
type GatewayError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *GatewayError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("generation service returned %d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("generation service returned %d: %s", e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("generation service: %v", e.Err)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Config configures a Gateway. An empty Endpoint selects mock mode.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Gateway produces reply text for a Request. A process should hold a single
// Gateway; the mock rotation and health counters live on it.
type Gateway struct {
	endpoint string
	timeout  time.Duration
	client   *resty.Client

	next   atomic.Uint64
	health healthRecorder
}

func New(cfg Config) *Gateway {
	g := &Gateway{
		endpoint: strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		timeout:  cfg.Timeout,
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if g.endpoint != "" {
		g.client = resty.New().
			SetBaseURL(g.endpoint).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json")
	}
	return g
}

// Mode reports ModeMock or ModeLive.
func (g *Gateway) Mode() string {
	if g.client == nil {
		return ModeMock
	}
	return ModeLive
}

// Generate returns reply text for req. In mock mode it never fails. In live
// mode the call is bounded by the gateway timeout and by ctx; any failure is
// returned as a *GatewayError.
func (g *Gateway) Generate(ctx context.Context, req Request) (string, error) {
	if g.client == nil {
		g.health.recordSuccess()
		n := g.next.Add(1) - 1
		return mockReplies[n%uint64(len(mockReplies))], nil
	}

	reply, err := g.call(ctx, req)
	if err != nil {
		g.health.recordFailure(err)
		return "", err
	}
	g.health.recordSuccess()
	return reply, nil
}

func (g *Gateway) call(ctx context.Context, req Request) (string, error) {
	if req.History == nil {
		req.History = []HistoryItem{}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.client.R().
		SetContext(ctx).
		SetBody(req).
		Post("/generate")
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &GatewayError{Err: fmt.Errorf("timed out after %s: %w", g.timeout, err)}
		}
		return "", &GatewayError{Err: err}
	}

	if !res.IsSuccess() {
		return "", &GatewayError{StatusCode: res.StatusCode(), Body: res.String()}
	}

	var body map[string]any
	if err := json.Unmarshal(res.Body(), &body); err != nil {
		return "", &GatewayError{
			StatusCode: res.StatusCode(),
			Body:       res.String(),
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}
	return extractReply(body), nil
}

// extractReply picks the first non-empty string among "reply", "response"
// and "text".
func extractReply(body map[string]any) string {
	for _, key := range []string{"reply", "response", "text"} {
		if s, ok := body[key].(string); ok && s != "" {
			return s
		}
	}
	return EmptyReply
}
