package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"dryerlink/models"
	"dryerlink/netwatch"
)

// CloudAPI is the HTTPS client for the management service's registration and
// renewal endpoints. Every call is signed and runs through the retry helper.
type CloudAPI struct {
	baseURL       string
	signingSecret string
	retry         netwatch.RetryConfig
	client        *http.Client
	logger        *zap.Logger
}

func NewCloudAPI(baseURL, signingSecret string, retry netwatch.RetryConfig, logger *zap.Logger) *CloudAPI {
	return &CloudAPI{
		baseURL:       baseURL,
		signingSecret: signingSecret,
		retry:         retry,
		client:        &http.Client{Timeout: 15 * time.Second},
		logger:        logger,
	}
}

// Register submits the hardware fingerprint and returns serial + token.
func (a *CloudAPI) Register(ctx context.Context, req models.RegistrationRequest) (*models.RegistrationResult, error) {
	var result models.RegistrationResult
	err := netwatch.Retry(ctx, a.retry, "RegisterDevice", a.logger, func() error {
		return a.postSigned(ctx, "/devices/register", req, &result)
	})
	if err != nil {
		return nil, err
	}
	if result.Serial == "" || result.Token == "" {
		return nil, fmt.Errorf("invalid registration response")
	}
	return &result, nil
}

// RenewToken exchanges the expiring token for a fresh one.
func (a *CloudAPI) RenewToken(ctx context.Context, serial, oldToken string) (*models.RenewalResult, error) {
	var result models.RenewalResult
	err := netwatch.Retry(ctx, a.retry, "RenewToken", a.logger, func() error {
		return a.postSigned(ctx, "/devices/renew-token",
			models.RenewalRequest{Serial: serial, OldToken: oldToken}, &result)
	})
	if err != nil {
		return nil, err
	}
	if result.Token == "" {
		return nil, fmt.Errorf("renewal response missing token")
	}
	return &result, nil
}

func (a *CloudAPI) postSigned(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", Sign(body, a.signingSecret))

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				wait = time.Duration(secs) * time.Second
			}
		}
		return &netwatch.RateLimitedError{RetryAfter: wait}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
