package fhir

import (
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

// ErrNotFound is returned when the server answers 404 or 410 for a read.
var ErrNotFound = errors.New("fhir: resource not found")

// maxSearchPages bounds how many next-links a search will follow.
const maxSearchPages = 10

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToken sets the bearer token attached to every request.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient overrides the HTTP client entirely.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// Client is a read-only FHIR R4 REST client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient validates the base URL and builds a client with a 30s timeout by
// default.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("fhir base url is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid fhir base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("fhir base url scheme must be http or https, got %q", u.Scheme)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// GetPatient reads Patient/{id}.
func (c *Client) GetPatient(ctx context.Context, id string) (*Patient, error) {
	var p Patient
	if err := c.get(ctx, c.baseURL+"/Patient/"+url.PathEscape(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindPatientByMRN searches Patient by identifier and returns the first
// match. System may be empty to match any identifier system.
func (c *Client) FindPatientByMRN(ctx context.Context, system, mrn string) (*Patient, error) {
	ident := mrn
	if system != "" {
		ident = system + "|" + mrn
	}
	params := url.Values{}
	params.Set("identifier", ident)

	entries, err := c.search(ctx, "Patient", params)
	if err != nil {
		return nil, err
	}
	for _, raw := range entries {
		var p Patient
		if err := json.Unmarshal(raw, &p); err != nil {
			continue
		}
		if p.ResourceType == "Patient" {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("patient with identifier %q: %w", mrn, ErrNotFound)
}

// ---------------------------------------------------------------------------
// Searches
// ---------------------------------------------------------------------------

// ListActiveMedicationRequests returns the patient's active medication orders.
func (c *Client) ListActiveMedicationRequests(ctx context.Context, patientID string) ([]MedicationRequest, error) {
	params := url.Values{}
	params.Set("subject", "Patient/"+patientID)
	params.Set("status", "active")

	entries, err := c.search(ctx, "MedicationRequest", params)
	if err != nil {
		return nil, err
	}

	out := make([]MedicationRequest, 0, len(entries))
	for _, raw := range entries {
		var m MedicationRequest
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		if m.ResourceType == "MedicationRequest" {
			out = append(out, m)
		}
	}
	return out, nil
}

// ListActiveAllergies returns the patient's allergy records whose clinical
// status is active (or unstated).
func (c *Client) ListActiveAllergies(ctx context.Context, patientID string) ([]AllergyIntolerance, error) {
	params := url.Values{}
	params.Set("patient", "Patient/"+patientID)

	entries, err := c.search(ctx, "AllergyIntolerance", params)
	if err != nil {
		return nil, err
	}

	out := make([]AllergyIntolerance, 0, len(entries))
	for _, raw := range entries {
		var a AllergyIntolerance
		if err := json.Unmarshal(raw, &a); err != nil {
			continue
		}
		if a.ResourceType == "AllergyIntolerance" && a.IsActive() {
			out = append(out, a)
		}
	}
	return out, nil
}

// LatestObservation returns the most recent observation for a code, or
// (nil, nil) when the patient has none. Code is a token search value,
// typically "system|code".
func (c *Client) LatestObservation(ctx context.Context, patientID, code string) (*Observation, error) {
	params := url.Values{}
	params.Set("subject", "Patient/"+patientID)
	params.Set("code", code)
	params.Set("_sort", "-date")
	params.Set("_count", "1")

	entries, err := c.search(ctx, "Observation", params)
	if err != nil {
		return nil, err
	}
	for _, raw := range entries {
		var o Observation
		if err := json.Unmarshal(raw, &o); err != nil {
			continue
		}
		if o.ResourceType == "Observation" {
			return &o, nil
		}
	}
	return nil, nil
}

// ListActiveConditions returns the patient's active problem-list conditions.
func (c *Client) ListActiveConditions(ctx context.Context, patientID string) ([]Condition, error) {
	params := url.Values{}
	params.Set("subject", "Patient/"+patientID)
	params.Set("clinical-status", "active")

	entries, err := c.search(ctx, "Condition", params)
	if err != nil {
		return nil, err
	}

	out := make([]Condition, 0, len(entries))
	for _, raw := range entries {
		var cond Condition
		if err := json.Unmarshal(raw, &cond); err != nil {
			continue
		}
		if cond.ResourceType == "Condition" {
			out = append(out, cond)
		}
	}
	return out, nil
}

// ListPatientIDsWithActiveMedications searches all active medication orders
// and returns the distinct subject patient IDs in first-seen order. The
// caller filters for antimicrobials; the clinical source has no such notion.
func (c *Client) ListPatientIDsWithActiveMedications(ctx context.Context) ([]string, error) {
	params := url.Values{}
	params.Set("status", "active")

	entries, err := c.search(ctx, "MedicationRequest", params)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var ids []string
	for _, raw := range entries {
		var m MedicationRequest
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		id := strings.TrimPrefix(m.Subject.Reference, "Patient/")
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// search runs a search and follows next-links, returning raw entry resources.
func (c *Client) search(ctx context.Context, resource string, params url.Values) ([]json.RawMessage, error) {
	next := c.baseURL + "/" + resource + "?" + params.Encode()

	var entries []json.RawMessage
	for page := 0; next != "" && page < maxSearchPages; page++ {
		var b Bundle
		if err := c.get(ctx, next, &b); err != nil {
			return nil, fmt.Errorf("search %s: %w", resource, err)
		}
		for _, e := range b.Entry {
			if len(e.Resource) > 0 {
				entries = append(entries, e.Resource)
			}
		}
		next = b.NextLink()
	}
	return entries, nil
}

// get fetches an absolute URL and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/fhir+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fhir request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return c.errorFromResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode fhir response: %w", err)
	}
	return nil
}

// errorFromResponse builds an error from a non-2xx response, surfacing
// OperationOutcome diagnostics when the server sent one.
func (c *Client) errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var outcome OperationOutcome
	if err := json.Unmarshal(body, &outcome); err == nil && outcome.ResourceType == "OperationOutcome" {
		if diag := outcome.Diagnostics(); diag != "" {
			return fmt.Errorf("fhir server returned %d: %s", resp.StatusCode, diag)
		}
	}
	return fmt.Errorf("fhir server returned %d", resp.StatusCode)
}
