package results

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RESTConfig configures a PostgREST (Supabase) insert target.
type RESTConfig struct {
	BaseURL    string
	APIKey     string
	Table      string
	HTTPClient *http.Client
}

// RESTStore inserts prediction rows through a PostgREST endpoint.
type RESTStore struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewRESTStore validates cfg and builds the insert endpoint.
func NewRESTStore(cfg RESTConfig) (*RESTStore, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("results: rest base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("results: rest API key is required")
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		table = "predictions"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RESTStore{
		endpoint:   base + "/rest/v1/" + url.PathEscape(table),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}, nil
}

type restRow struct {
	ID         string  `json:"id"`
	Disease    string  `json:"disease"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
	CreatedAt  string  `json:"created_at"`
}

// Record posts a single-row insert.
func (s *RESTStore) Record(ctx context.Context, rec PredictionRecord) error {
	body, err := json.Marshal([]restRow{{
		ID:         rec.ID.String(),
		Disease:    rec.Disease,
		Confidence: rec.RoundedConfidence(),
		Language:   string(rec.Language),
		CreatedAt:  rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}})
	if err != nil {
		return rejected("rest", fmt.Errorf("marshal row: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return unavailable("rest", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Prefer", "return=minimal")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return unavailable("rest", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return unavailable("rest", err)
	}
	return rejected("rest", err)
}
