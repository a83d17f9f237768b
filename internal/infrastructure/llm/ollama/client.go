package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/resilience"
)

// Operation is the breaker name every vision call runs under.
const Operation = "vision"

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
	limiter    *rate.Limiter
}

type Options struct {
	HTTPTimeout        time.Duration
	RequestsPerSecond  float64
	Burst              int
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, model string, options Options) *Client {
	timeout := options.HTTPTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	var limiter *rate.Limiter
	if options.RequestsPerSecond > 0 {
		burst := options.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(options.RequestsPerSecond), burst)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
		limiter:    limiter,
	}
}

// Infer asks the vision model for the canonical invoice fields. Images are
// sent as base64 attachments; other formats contribute their text layer to
// the prompt.
func (c *Client) Infer(ctx context.Context, req domain.VisionRequest) (*domain.VisionResponse, error) {
	prompt := req.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = buildExtractionPrompt(req.MimeType, req.Text)
	}
	reqBody := map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}
	if strings.HasPrefix(req.MimeType, "image/") && len(req.Content) > 0 {
		reqBody["images"] = []string{base64.StdEncoding.EncodeToString(req.Content)}
	}

	var raw string
	call := func(callCtx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(callCtx); err != nil {
				return fmt.Errorf("vision rate limit: %w", err)
			}
		}
		text, err := c.generate(callCtx, reqBody)
		if err != nil {
			return err
		}
		raw = text
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, Operation, call, classifyVisionError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, asTemporary(err)
	}

	fields, err := parseFields(raw)
	if err != nil {
		return nil, err
	}
	return &domain.VisionResponse{Text: raw, Fields: fields, Model: c.model}, nil
}

// Ping reports whether the inference service answers at all.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/api/tags", nil, nil)
}

func (c *Client) generate(ctx context.Context, reqBody map[string]any) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/generate", reqBody, &response); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

type visionField struct {
	Value      json.RawMessage `json:"value"`
	Confidence *float64        `json:"confidence"`
}

// parseFields accepts {"fields": {"total_amount": {"value": "121.00",
// "confidence": 0.9}}} as well as a flat {"total_amount": "121.00"} object.
// Unknown or unparsable fields are dropped.
func parseFields(raw string) ([]domain.ExtractedField, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &envelope); err != nil {
		return nil, fmt.Errorf("parse vision json: %w", err)
	}
	if nested, ok := envelope["fields"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(nested, &inner); err == nil {
			envelope = inner
		}
	}

	out := make([]domain.ExtractedField, 0, len(envelope))
	for name, rawValue := range envelope {
		kind, known := domain.FieldKinds[name]
		if !known {
			continue
		}
		value, confidence := decodeField(rawValue)
		if value == "" {
			continue
		}
		typed, err := domain.ParseValue(kind, value)
		if err != nil {
			continue
		}
		out = append(out, domain.ExtractedField{
			Name:       name,
			Value:      typed,
			Confidence: confidence,
			Source:     domain.StrategyAIVision,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func decodeField(raw json.RawMessage) (string, float64) {
	var structured visionField
	if err := json.Unmarshal(raw, &structured); err == nil && len(structured.Value) > 0 {
		confidence := 0.8
		if structured.Confidence != nil {
			confidence = clamp01(*structured.Confidence)
		}
		return scalar(structured.Value), confidence
	}
	return scalar(raw), 0.8
}

func scalar(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
