package diagnosis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/dermassist/pkg/logging"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "dermassist-client/0.1"
	audioMIMEType    = "audio/mpeg"
	maxErrorBody     = 512
)

// Config controls how the diagnosis client behaves.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	Tracer     trace.Tracer
	UserAgent  string
}

// Client is a typed wrapper over the remote diagnosis service.
// It keeps no state between calls and never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
	tracer     trace.Tracer
	userAgent  string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("diagnosis: base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("dermassist.internal.diagnosis")
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		tracer:     tracer,
		userAgent:  userAgent,
	}, nil
}

type classifyResponse struct {
	Disease    string   `json:"disease"`
	Confidence *float64 `json:"confidence"`
	Metadata   *struct {
		Description  string   `json:"description"`
		Symptoms     []string `json:"symptoms"`
		Causes       []string `json:"causes"`
		Treatments   []string `json:"treatments"`
		IsContagious string   `json:"is_contagious"`
	} `json:"metadata"`
	HealthTip *string `json:"health_tip"`
	Language  string  `json:"language"`
}

// Classify submits an image for classification and localized advice.
func (c *Client) Classify(ctx context.Context, image []byte, mimeType string, lang Language) (*ClassificationResult, error) {
	ctx, span := c.tracer.Start(ctx, "diagnosis.classify", trace.WithAttributes(
		attribute.String("language", string(lang)),
		attribute.Int("image_bytes", len(image)),
	))
	defer span.End()

	body, contentType, err := classifyForm(image, mimeType, lang)
	if err != nil {
		span.RecordError(err)
		return nil, newClassificationError(0, fmt.Errorf("%w: build form: %v", ErrTransport, err))
	}

	status, data, err := c.do(ctx, "/predict", contentType, "application/json", body)
	if err != nil {
		span.RecordError(err)
		return nil, newClassificationError(status, err)
	}

	var raw classifyResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		span.RecordError(err)
		return nil, newClassificationError(status, malformed("decode body: %v", err))
	}
	result, err := raw.toResult()
	if err != nil {
		span.RecordError(err)
		return nil, newClassificationError(status, err)
	}
	span.SetAttributes(attribute.String("disease", result.Disease))
	return result, nil
}

func (r classifyResponse) toResult() (*ClassificationResult, error) {
	switch {
	case strings.TrimSpace(r.Disease) == "":
		return nil, malformed("missing disease")
	case r.Confidence == nil:
		return nil, malformed("missing confidence")
	case *r.Confidence < 0 || *r.Confidence > 100:
		return nil, malformed("confidence %.2f out of range", *r.Confidence)
	case r.Metadata == nil:
		return nil, malformed("missing metadata")
	case r.HealthTip == nil:
		return nil, malformed("missing health_tip")
	}

	contagious := "No"
	if strings.EqualFold(strings.TrimSpace(r.Metadata.IsContagious), "yes") {
		contagious = "Yes"
	}
	result := &ClassificationResult{
		Disease:    r.Disease,
		Confidence: *r.Confidence,
		Metadata: DiseaseMetadata{
			Description:  r.Metadata.Description,
			Symptoms:     nonNil(r.Metadata.Symptoms),
			Causes:       nonNil(r.Metadata.Causes),
			Treatments:   nonNil(r.Metadata.Treatments),
			IsContagious: contagious,
		},
		HealthTip: *r.HealthTip,
	}
	if lang, err := ParseLanguage(r.Language); err == nil {
		result.Language = lang
	}
	return result, nil
}

func classifyForm(image []byte, mimeType string, lang Language) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="upload"`)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("language", string(lang)); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

// SynthesizeSpeech turns the advisory for disease into spoken audio.
func (c *Client) SynthesizeSpeech(ctx context.Context, disease, tip string, lang Language) (*AudioClip, error) {
	ctx, span := c.tracer.Start(ctx, "diagnosis.synthesize_speech", trace.WithAttributes(
		attribute.String("language", string(lang)),
		attribute.String("disease", disease),
	))
	defer span.End()

	payload, err := json.Marshal(map[string]string{
		"disease":  disease,
		"tip":      tip,
		"language": string(lang),
	})
	if err != nil {
		span.RecordError(err)
		return nil, newSynthesisError(0, fmt.Errorf("%w: marshal body: %v", ErrTransport, err))
	}

	status, data, err := c.do(ctx, "/tts", "application/json", audioMIMEType, bytes.NewReader(payload))
	if err != nil {
		span.RecordError(err)
		return nil, newSynthesisError(status, err)
	}
	if len(data) == 0 {
		return nil, newSynthesisError(status, malformed("empty audio body"))
	}
	if json.Valid(data) {
		// A JSON body on a 2xx is an error envelope, not audio.
		return nil, newSynthesisError(status, malformed("expected audio, got JSON"))
	}
	span.SetAttributes(attribute.Int("audio_bytes", len(data)))
	return &AudioClip{
		Data:     data,
		MIMEType: audioMIMEType,
		Disease:  disease,
		Language: lang,
	}, nil
}

// SendChatTurn sends one user message and returns the assistant's reply.
func (c *Client) SendChatTurn(ctx context.Context, text string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "diagnosis.chat_turn", trace.WithAttributes(
		attribute.Int("message_length", len(text)),
	))
	defer span.End()

	payload, err := json.Marshal(map[string]string{"message": text})
	if err != nil {
		span.RecordError(err)
		return "", newChatError(0, fmt.Errorf("%w: marshal body: %v", ErrTransport, err))
	}

	status, data, err := c.do(ctx, "/chat", "application/json", "application/json", bytes.NewReader(payload))
	if err != nil {
		span.RecordError(err)
		return "", newChatError(status, err)
	}

	var raw struct {
		Response *string `json:"response"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		span.RecordError(err)
		return "", newChatError(status, malformed("decode body: %v", err))
	}
	if raw.Response == nil || strings.TrimSpace(*raw.Response) == "" {
		return "", newChatError(status, malformed("missing response"))
	}
	return *raw.Response, nil
}

// Health probes the backend health endpoint.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	ctx, span := c.tracer.Start(ctx, "diagnosis.health")
	defer span.End()

	status, data, err := c.do(ctx, "/health", "", "application/json", nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("diagnosis: health (status %d): %w", status, err)
	}
	var health HealthStatus
	if err := json.Unmarshal(data, &health); err != nil {
		return nil, fmt.Errorf("diagnosis: health: %w", malformed("decode body: %v", err))
	}
	return &health, nil
}

// do performs one request and returns the status and body of a 2xx response.
// Errors match ErrTransport or ErrBadStatus.
func (c *Client) do(ctx context.Context, path, contentType, accept string, body io.Reader) (int, []byte, error) {
	method := http.MethodPost
	if body == nil {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("diagnosis request failed", "path", path, "error", err)
		return 0, nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	c.logger.Debug("diagnosis request completed",
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"bytes", len(data),
	)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, nil, fmt.Errorf("%w: %s", ErrBadStatus, errorDetail(data))
	}
	return resp.StatusCode, data, nil
}

// errorDetail extracts the backend's {"error": "..."} message or a body prefix.
func errorDetail(data []byte) string {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != "" {
		return envelope.Error
	}
	text := strings.TrimSpace(string(data))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	if text == "" {
		return "empty body"
	}
	return text
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
