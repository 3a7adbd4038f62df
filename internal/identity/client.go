package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/careledger/health-vault-api/internal/config"
)

// Capabilities the core asks the identity-proofing collaborator to confirm
const (
	CapabilityErasure       = "erasure-authority"
	CapabilityClinicalRole  = "clinical-role"
	CapabilityClaimReviewer = "claim-reviewer"
)

// Prover confirms that an actor holds an authority capability. All
// failures — transport errors, timeouts, malformed responses — are
// reported as errors so callers fail closed.
type Prover interface {
	VerifyAuthority(ctx context.Context, actorID, capability string) (bool, error)
}

// Client talks to the external identity-proofing service
type Client struct {
	httpClient *http.Client
	config     *config.IdentityConfig
	logger     *logrus.Logger
}

// verifyRequest is the payload sent to the identity-proofing service
type verifyRequest struct {
	ActorID    string `json:"actorId"`
	Capability string `json:"capability"`
}

// verifyResponse is the payload returned by the identity-proofing service
type verifyResponse struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
}

// NewClient creates a new identity-proofing client
func NewClient(cfg *config.IdentityConfig, logger *logrus.Logger) *Client {
	timeout := 5 * time.Second
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

// VerifyAuthority asks the identity-proofing service whether the actor
// holds the capability. Timeouts and non-200 responses are errors, never
// implicit approval.
func (c *Client) VerifyAuthority(ctx context.Context, actorID, capability string) (bool, error) {
	if c.config.BaseURL == "" {
		return false, fmt.Errorf("identity proofing service is not configured")
	}

	body, err := json.Marshal(verifyRequest{ActorID: actorID, Capability: capability})
	if err != nil {
		return false, fmt.Errorf("failed to marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/verify", bytes.NewBuffer(body))
	if err != nil {
		return false, fmt.Errorf("failed to create verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"actor":      actorID,
			"capability": capability,
		}).Error("Identity proofing call failed")
		return false, fmt.Errorf("identity proofing call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("identity proofing service returned status %d", resp.StatusCode)
	}

	var result verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("failed to decode verify response: %w", err)
	}

	if !result.Verified {
		c.logger.WithFields(logrus.Fields{
			"actor":      actorID,
			"capability": capability,
			"reason":     result.Reason,
		}).Warn("Authority verification denied")
	}

	return result.Verified, nil
}
