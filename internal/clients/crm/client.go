// Package crm is a client for the marketing automation platform (an
// ActiveCampaign-compatible v3 API). Contacts are upserted by email, custom
// fields and tags are created on first use so the automation side never has
// to pre-provision them.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"funnel-server/internal/observability"
)

var ErrTagNotFound = errors.New("crm tag not found")

// The API caps clients at five requests per second; spacing requests at
// 200ms keeps bursts from tripping the limit.
const requestSpacing = 200 * time.Millisecond

// Client talks to the CRM REST API.
type Client struct {
	apiRoot    string
	apiKey     string
	httpClient *http.Client
	logger     *observability.Logger

	mu          sync.Mutex
	spacing     time.Duration
	nextRequest time.Time
}

// Tag is a CRM contact tag.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"tag"`
}

// NewClient creates a CRM client. An empty base URL produces a disabled
// client so environments without a CRM account still boot.
func NewClient(baseURL, apiKey string, logger *observability.Logger) *Client {
	apiRoot := ""
	if baseURL != "" {
		apiRoot = strings.TrimRight(baseURL, "/") + "/api/3"
	}
	return &Client{
		apiRoot: apiRoot,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:  logger,
		spacing: requestSpacing,
	}
}

// IsEnabled reports whether the client is configured to reach an account.
func (c *Client) IsEnabled() bool {
	return c.apiRoot != "" && c.apiKey != ""
}

// SyncContactParams identifies a contact for upsert.
type SyncContactParams struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// SyncContact creates or updates a contact keyed by email and returns the
// CRM contact ID.
func (c *Client) SyncContact(ctx context.Context, params SyncContactParams) (string, error) {
	body := map[string]any{
		"contact": map[string]any{
			"email":     params.Email,
			"firstName": params.FirstName,
			"lastName":  params.LastName,
			"phone":     params.Phone,
		},
	}

	var result struct {
		Contact struct {
			ID string `json:"id"`
		} `json:"contact"`
	}
	if err := c.request(ctx, http.MethodPost, "/contact/sync", body, &result); err != nil {
		return "", err
	}
	if result.Contact.ID == "" {
		return "", fmt.Errorf("crm sync returned no contact id for %s", params.Email)
	}

	c.logger.Info(ctx, "crm contact synced",
		observability.Field{Key: "crm_contact_id", Value: result.Contact.ID},
	)
	return result.Contact.ID, nil
}

// UpdateContactFields writes custom field values on a contact. Fields are
// looked up by title and created as text fields when missing.
func (c *Client) UpdateContactFields(ctx context.Context, contactID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	known, err := c.listFields(ctx)
	if err != nil {
		return err
	}

	fieldValues := make([]map[string]string, 0, len(fields))
	for name, value := range fields {
		fieldID, ok := known[strings.ToLower(name)]
		if !ok {
			fieldID, err = c.createField(ctx, name)
			if err != nil {
				return err
			}
		}
		fieldValues = append(fieldValues, map[string]string{
			"field": fieldID,
			"value": value,
		})
	}

	body := map[string]any{
		"contact": map[string]any{
			"fieldValues": fieldValues,
		},
	}
	if err := c.request(ctx, http.MethodPut, "/contacts/"+contactID, body, nil); err != nil {
		return err
	}

	c.logger.Info(ctx, "crm contact fields updated",
		observability.Field{Key: "crm_contact_id", Value: contactID},
		observability.Field{Key: "field_count", Value: len(fields)},
	)
	return nil
}

// ListTags returns every tag on the account. The admin console uses this to
// populate the abandoned-checkout tag picker.
func (c *Client) ListTags(ctx context.Context) ([]Tag, error) {
	var result struct {
		Tags []Tag `json:"tags"`
	}
	if err := c.request(ctx, http.MethodGet, "/tags", nil, &result); err != nil {
		return nil, err
	}
	return result.Tags, nil
}

// ApplyTag attaches a tag to a contact, creating the tag when it does not
// exist yet. Tagging is what fires CRM-side automations.
func (c *Client) ApplyTag(ctx context.Context, contactID, tagName string) error {
	tagID, err := c.findTagID(ctx, tagName)
	if errors.Is(err, ErrTagNotFound) {
		tagID, err = c.createTag(ctx, tagName)
	}
	if err != nil {
		return err
	}

	body := map[string]any{
		"contactTag": map[string]string{
			"contact": contactID,
			"tag":     tagID,
		},
	}
	if err := c.request(ctx, http.MethodPost, "/contactTags", body, nil); err != nil {
		return err
	}

	c.logger.Info(ctx, "crm tag applied",
		observability.Field{Key: "crm_contact_id", Value: contactID},
		observability.Field{Key: "tag", Value: tagName},
	)
	return nil
}

// RemoveTag detaches a tag from a contact. A tag the contact does not carry
// is a no-op.
func (c *Client) RemoveTag(ctx context.Context, contactID, tagName string) error {
	tagID, err := c.findTagID(ctx, tagName)
	if errors.Is(err, ErrTagNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var assoc struct {
		ContactTags []struct {
			ID  string `json:"id"`
			Tag string `json:"tag"`
		} `json:"contactTags"`
	}
	if err := c.request(ctx, http.MethodGet, "/contacts/"+contactID+"/contactTags", nil, &assoc); err != nil {
		return err
	}

	for _, ct := range assoc.ContactTags {
		if ct.Tag == tagID {
			return c.request(ctx, http.MethodDelete, "/contactTags/"+ct.ID, nil, nil)
		}
	}
	return nil
}

func (c *Client) findTagID(ctx context.Context, tagName string) (string, error) {
	tags, err := c.ListTags(ctx)
	if err != nil {
		return "", err
	}
	for _, tag := range tags {
		if strings.EqualFold(tag.Name, tagName) {
			return tag.ID, nil
		}
	}
	return "", ErrTagNotFound
}

func (c *Client) createTag(ctx context.Context, tagName string) (string, error) {
	body := map[string]any{
		"tag": map[string]string{
			"tag":     tagName,
			"tagType": "contact",
		},
	}
	var result struct {
		Tag Tag `json:"tag"`
	}
	if err := c.request(ctx, http.MethodPost, "/tags", body, &result); err != nil {
		return "", err
	}
	return result.Tag.ID, nil
}

func (c *Client) listFields(ctx context.Context) (map[string]string, error) {
	var result struct {
		Fields []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"fields"`
	}
	if err := c.request(ctx, http.MethodGet, "/fields", nil, &result); err != nil {
		return nil, err
	}

	known := make(map[string]string, len(result.Fields))
	for _, field := range result.Fields {
		known[strings.ToLower(field.Title)] = field.ID
	}
	return known, nil
}

func (c *Client) createField(ctx context.Context, title string) (string, error) {
	body := map[string]any{
		"field": map[string]any{
			"type":    "text",
			"title":   title,
			"visible": 1,
		},
	}
	var result struct {
		Field struct {
			ID string `json:"id"`
		} `json:"field"`
	}
	if err := c.request(ctx, http.MethodPost, "/fields", body, &result); err != nil {
		return "", err
	}
	return result.Field.ID, nil
}

func (c *Client) request(ctx context.Context, method, endpoint string, body, out any) error {
	if err := c.pace(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal crm request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiRoot+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build crm request: %w", err)
	}
	req.Header.Set("Api-Token", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error(ctx, "crm request failed", err,
			observability.Field{Key: "endpoint", Value: endpoint},
		)
		return fmt.Errorf("crm request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("crm returned status %d: %s", resp.StatusCode, respBody)
		c.logger.Error(ctx, "crm rejected request", err,
			observability.Field{Key: "endpoint", Value: endpoint},
		)
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode crm response: %w", err)
	}
	return nil
}

// pace serializes requests so concurrent callers stay under the rate limit.
func (c *Client) pace(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	slot := c.nextRequest
	if slot.Before(now) {
		slot = now
	}
	c.nextRequest = slot.Add(c.spacing)
	c.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
