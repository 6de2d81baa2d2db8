// Package provider is a thin client for the remote scraping provider's REST
// API. The provider is an opaque collaborator: this package only starts runs,
// reads run status, and streams dataset items; it carries no pipeline logic.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adlibio/adprep/models"
)

// DefaultBaseURL is the provider API root used when none is configured.
const DefaultBaseURL = "https://api.apify.com/v2"

// Client talks to the scraping provider.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a provider client. An empty baseURL falls back to
// DefaultBaseURL.
func NewClient(baseURL, token string) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("provider API token not set")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}, nil
}

// StartRun launches an actor run and returns its run id.
func (c *Client) StartRun(ctx context.Context, actorID string, input map[string]interface{}) (string, error) {
	url := fmt.Sprintf("%s/acts/%s/runs?token=%s", c.baseURL, actorID, c.token)

	body, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to encode actor input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("failed to start actor run: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Data.ID, nil
}

// RunStatus fetches the current status of a run and, once available, the id
// of its default dataset.
func (c *Client) RunStatus(ctx context.Context, runID string) (models.JobStatus, string, error) {
	url := fmt.Sprintf("%s/actor-runs/%s?token=%s", c.baseURL, runID, c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("unexpected status fetching run: %d", resp.StatusCode)
	}

	var status struct {
		Data struct {
			Status           string `json:"status"`
			DefaultDatasetID string `json:"defaultDatasetId"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", "", err
	}
	return mapStatus(status.Data.Status), status.Data.DefaultDatasetID, nil
}

// DatasetItems streams the run's result set as newline-delimited JSON.
// The caller must close the returned reader.
func (c *Client) DatasetItems(ctx context.Context, datasetID string) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/datasets/%s/items?token=%s&format=jsonl&clean=true", c.baseURL, datasetID, c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status fetching dataset items: %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// mapStatus translates the provider's status strings to the local enum.
// The provider's own timeout is a remote failure; StatusTimedOut is reserved
// for the local poll deadline.
func mapStatus(s string) models.JobStatus {
	switch s {
	case "READY":
		return models.StatusPending
	case "RUNNING":
		return models.StatusRunning
	case "SUCCEEDED":
		return models.StatusSucceeded
	case "FAILED", "TIMING-OUT", "TIMED-OUT":
		return models.StatusFailed
	case "ABORTING", "ABORTED":
		return models.StatusAborted
	default:
		return models.StatusRunning
	}
}
