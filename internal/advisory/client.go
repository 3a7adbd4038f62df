package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/careledger/health-vault-api/internal/config"
	"github.com/careledger/health-vault-api/internal/models"
)

// Suggester proposes billing codes for free-text clinical descriptions.
// Output is purely advisory: nothing here ever reaches a claim without
// explicit human acceptance, and accepted codes still pass the normal
// validation gate.
type Suggester interface {
	SuggestCodes(ctx context.Context, freeText string) ([]models.CandidateCode, error)
}

// Client talks to the external NLP code-suggestion service
type Client struct {
	httpClient *http.Client
	config     *config.AdvisoryConfig
	logger     *logrus.Logger
}

// suggestRequest is the payload sent to the advisory service
type suggestRequest struct {
	Text string `json:"text"`
}

// suggestResponse is the payload returned by the advisory service
type suggestResponse struct {
	Candidates []models.CandidateCode `json:"candidates"`
}

// NewClient creates a new advisory client
func NewClient(cfg *config.AdvisoryConfig, logger *logrus.Logger) *Client {
	timeout := 10 * time.Second
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		config: cfg,
		logger: logger,
	}
}

// IsEnabled reports whether the advisory collaborator is configured
func (c *Client) IsEnabled() bool {
	return c.config.Enabled && c.config.BaseURL != ""
}

// SuggestCodes asks the advisory service for candidate billing codes.
// When the service is disabled it returns an empty list rather than an
// error; the feature is optional by design.
func (c *Client) SuggestCodes(ctx context.Context, freeText string) ([]models.CandidateCode, error) {
	if !c.IsEnabled() {
		c.logger.Debug("Advisory service not configured, returning no suggestions")
		return nil, nil
	}

	body, err := json.Marshal(suggestRequest{Text: freeText})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal suggest request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/suggest", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create suggest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("advisory call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("advisory service returned status %d", resp.StatusCode)
	}

	var result suggestResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode suggest response: %w", err)
	}

	return result.Candidates, nil
}
