package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"dryerlink/config"
	"dryerlink/models"
)

// DataAPI talks to the controller's local HTTP API. It is the agent's only
// window into the dryer itself: live channel values, active alarms, and
// configuration writes all go through it.
type DataAPI struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewDataAPI(baseURL string, logger *zap.Logger) *DataAPI {
	return &DataAPI{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
		logger:  logger,
	}
}

// HomeData fetches the current controller state as a flat name → value map.
func (a *DataAPI) HomeData(ctx context.Context) (map[string]float64, error) {
	var body struct {
		Data map[string]json.Number `json:"data"`
	}
	if err := a.getJSON(ctx, "/home/data", &body); err != nil {
		return nil, err
	}

	values := make(map[string]float64, len(body.Data))
	for name, num := range body.Data {
		v, err := num.Float64()
		if err != nil {
			continue
		}
		values[name] = v
	}
	return values, nil
}

// Sample implements the history collector's source: one reading per
// configured channel, keyed by channel name.
func (a *DataAPI) Sample(ctx context.Context, channels []config.Channel) (map[string]float64, error) {
	values, err := a.HomeData(ctx)
	if err != nil {
		return nil, err
	}

	readings := make(map[string]float64, len(channels))
	for _, ch := range channels {
		if v, ok := values[ch.Name]; ok {
			readings[ch.Name] = v
		}
	}
	return readings, nil
}

// Resource fetches an arbitrary local API document, used by the poll-mode
// streams that mirror controller pages to the cloud.
func (a *DataAPI) Resource(ctx context.Context, path string) (any, error) {
	var body any
	if err := a.getJSON(ctx, path, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// Alarms fetches the controller's currently active alarms.
func (a *DataAPI) Alarms(ctx context.Context) ([]models.ActiveAlarm, error) {
	var body struct {
		Alarms []models.ActiveAlarm `json:"alarms"`
	}
	if err := a.getJSON(ctx, "/alarms", &body); err != nil {
		return nil, err
	}
	return body.Alarms, nil
}

// Apply forwards cloud-issued configuration writes to the local API, one
// request per path. The first failure aborts the remainder so a partially
// valid update set does not apply out of order.
func (a *DataAPI) Apply(ctx context.Context, updates []models.APIUpdate) error {
	for _, u := range updates {
		payload, err := json.Marshal(map[string]any{"value": u.Value})
		if err != nil {
			return fmt.Errorf("marshal update %s: %w", u.Path, err)
		}

		path := u.Path
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, a.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build update %s: %w", u.Path, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return fmt.Errorf("apply update %s: %w", u.Path, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("apply update %s: local API returned %d", u.Path, resp.StatusCode)
		}
		a.logger.Info("Applied local API update", zap.String("path", u.Path))
	}
	return nil
}

func (a *DataAPI) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("local API %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("local API %s: status %d", path, resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
