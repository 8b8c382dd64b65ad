package chart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/ziwei-api/internal/domain"
	"github.com/phrazzld/ziwei-api/internal/platform/logger"
)

const maxResponseBytes = 4 << 20

// Client calls the chart service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a chart client. timeout bounds each request.
func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With(slog.String("component", "chart_client")),
	}
}

type computeRequest struct {
	Date     string `json:"date"`
	Timezone int    `json:"timezone"`
	Gender   string `json:"gender"`
}

// Compute fetches the astrolabe for a birth snapshot. Every failure is
// reported as a retryable chart-unavailable error.
func (c *Client) Compute(ctx context.Context, s domain.RequestSnapshot) (*Astrolabe, error) {
	log := logger.FromContextOrDefault(ctx, c.logger)

	endpoint := "lunar"
	if s.Calendar == domain.CalendarSolar {
		endpoint = "solar"
	}
	url := fmt.Sprintf("%s/api/astro/%s", c.baseURL, endpoint)

	body, err := json.Marshal(computeRequest{Date: s.Date, Timezone: s.Timezone, Gender: s.Gender})
	if err != nil {
		return nil, domain.ChartUnavailableError(fmt.Errorf("failed to encode chart request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, domain.ChartUnavailableError(fmt.Errorf("failed to build chart request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("chart request failed",
			slog.String("url", url),
			slog.String("error", err.Error()))
		return nil, domain.ChartUnavailableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Warn("chart service returned error status",
			slog.String("url", url),
			slog.Int("status", resp.StatusCode))
		return nil, domain.ChartUnavailableError(fmt.Errorf("chart service status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)))
	}

	var a Astrolabe
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&a); err != nil {
		return nil, domain.ChartUnavailableError(fmt.Errorf("failed to decode chart response: %w", err))
	}

	log.Debug("chart computed",
		slog.String("calendar", string(s.Calendar)),
		slog.Duration("latency", time.Since(start)))
	return &a, nil
}

// Describe computes the chart and renders its text description.
func (c *Client) Describe(ctx context.Context, s domain.RequestSnapshot) (string, error) {
	a, err := c.Compute(ctx, s)
	if err != nil {
		return "", err
	}
	return Render(a), nil
}
