// Package client provides the Gatewise Go SDK for calling the decision
// and administrative HTTP APIs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Verdict is the result of an access check.
type Verdict struct {
	Allowed    bool     `json:"allowed"`
	Confidence *float64 `json:"confidence,omitempty"`
	RiskScore  float64  `json:"risk_score"`
	PolicyIDs  []string `json:"policy_ids,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// Context carries situational attributes applied before a check.
type Context struct {
	Location       string            `json:"location,omitempty"`
	Device         string            `json:"device,omitempty"`
	VPNEnabled     bool              `json:"vpn_enabled,omitempty"`
	FailedAttempts int               `json:"failed_attempts,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// PolicyUpsert is the payload for UpsertPolicy.
type PolicyUpsert struct {
	Rules     []map[string]any `json:"rules"`
	DataTypes []string         `json:"data_types"`
	Actions   []string         `json:"actions"`
}

// Policy is a stored policy as returned by the server.
type Policy struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
	DataTypes []string  `json:"data_types"`
	Actions   []string  `json:"actions"`
}

// Rule is a generated candidate rule.
type Rule struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	CreatedAt  time.Time         `json:"created_at"`
	Conditions map[string]string `json:"conditions"`
	Action     string            `json:"action"`
}

// Event is one audit history entry.
type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	SubjectID string            `json:"subject_id"`
	DataType  string            `json:"data_type"`
	Action    string            `json:"action"`
	Success   bool              `json:"success"`
	Context   map[string]string `json:"context,omitempty"`
}

// Client talks to a Gatewise server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets the admin bearer token used for administrative calls.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a Client for the given base URL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate exchanges the admin secret for a bearer token and stores it
// on the client for subsequent administrative calls.
func (c *Client) Authenticate(ctx context.Context, adminSecret string) error {
	var out struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/token",
		map[string]string{"admin_secret": adminSecret}, &out)
	if err != nil {
		return err
	}
	c.token = out.Token
	return nil
}

// CheckAccess asks the engine whether subjectID may perform action on
// dataType. contextUpdate may be nil.
func (c *Client) CheckAccess(ctx context.Context, subjectID, dataType, action string, contextUpdate *Context) (*Verdict, error) {
	req := map[string]any{
		"subject_id": subjectID,
		"data_type":  dataType,
		"action":     action,
	}
	if contextUpdate != nil {
		req["context"] = contextUpdate
	}

	var v Verdict
	if err := c.do(ctx, http.MethodPost, "/api/v1/access/check", req, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// UpsertPolicy creates or replaces a policy. Requires an admin token.
func (c *Client) UpsertPolicy(ctx context.Context, id string, data PolicyUpsert) (*Policy, error) {
	var p Policy
	if err := c.do(ctx, http.MethodPut, "/api/v1/policies/"+url.PathEscape(id), data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ActivePolicies lists all active policies keyed by id. Requires an admin
// token.
func (c *Client) ActivePolicies(ctx context.Context) (map[string]Policy, error) {
	var out map[string]Policy
	if err := c.do(ctx, http.MethodGet, "/api/v1/policies", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeactivatePolicy soft-disables a policy. Requires an admin token.
func (c *Client) DeactivatePolicy(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/policies/"+url.PathEscape(id), nil, nil)
}

// Train retrains the scoring model. Requires an admin token.
func (c *Client) Train(ctx context.Context, featureSets []map[string]float64, labels []int) error {
	req := map[string]any{"feature_sets": featureSets, "labels": labels}
	return c.do(ctx, http.MethodPost, "/api/v1/scorer/train", req, nil)
}

// GenerateRule derives a candidate rule from pattern data. Requires an
// admin token. Returns nil when the rule type is unknown.
func (c *Client) GenerateRule(ctx context.Context, ruleType string, riskScore *float64, conditions map[string]string) (*Rule, error) {
	req := map[string]any{
		"rule_type": ruleType,
		"pattern": map[string]any{
			"risk_score": riskScore,
			"conditions": conditions,
		},
	}
	var out struct {
		Rule *Rule `json:"rule"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/rules/generate", req, &out); err != nil {
		return nil, err
	}
	return out.Rule, nil
}

// History returns a subject's past access events, most recent first.
// Requires an admin token.
func (c *Client) History(ctx context.Context, subjectID string, limit int) ([]Event, error) {
	path := "/api/v1/audit/" + url.PathEscape(subjectID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Events []Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// do performs one JSON request/response round trip.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
