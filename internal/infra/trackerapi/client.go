package trackerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"timeflow/internal/domain"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

// Client talks to the external time-tracker API. Every call authenticates
// with the tenant credential's current secret; inbound grace-window fallback
// never applies to outbound traffic.
type Client struct {
	httpClient *http.Client
}

func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{httpClient: httpClient}
}

type entryResponse struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	TagIDs      []string `json:"tagIds"`
	ProjectID   string   `json:"projectId"`
	Billable    bool     `json:"billable"`
}

func (c *Client) GetEntry(ctx context.Context, cred domain.Credential, entityID string) (domain.EntryPayload, error) {
	var entry entryResponse
	err := c.do(ctx, cred, http.MethodGet, "/time-entries/"+url.PathEscape(entityID), nil, &entry)
	if err != nil {
		return domain.EntryPayload{}, err
	}
	return domain.EntryPayload{
		Description: entry.Description,
		TagIDs:      entry.TagIDs,
		ProjectID:   entry.ProjectID,
		Billable:    entry.Billable,
	}, nil
}

func (c *Client) AddTag(ctx context.Context, cred domain.Credential, entityID, tag string) error {
	body := map[string]any{"tagId": tag}
	return c.do(ctx, cred, http.MethodPost, "/time-entries/"+url.PathEscape(entityID)+"/tags", body, nil)
}

func (c *Client) RemoveTag(ctx context.Context, cred domain.Credential, entityID, tag string) error {
	return c.do(ctx, cred, http.MethodDelete, "/time-entries/"+url.PathEscape(entityID)+"/tags/"+url.PathEscape(tag), nil, nil)
}

func (c *Client) SetDescription(ctx context.Context, cred domain.Credential, entityID, value string) error {
	body := map[string]any{"description": value}
	return c.do(ctx, cred, http.MethodPatch, "/time-entries/"+url.PathEscape(entityID), body, nil)
}

func (c *Client) SetBillable(ctx context.Context, cred domain.Credential, entityID string, billable bool) error {
	body := map[string]any{"billable": billable}
	return c.do(ctx, cred, http.MethodPatch, "/time-entries/"+url.PathEscape(entityID), body, nil)
}

func (c *Client) do(ctx context.Context, cred domain.Credential, method, path string, body any, out any) error {
	if cred.APIBase == "" {
		return errors.New("credential api base is required")
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(cred.APIBase, "/")+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", cred.CurrentSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &domain.APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return err
		}
	}
	return nil
}
