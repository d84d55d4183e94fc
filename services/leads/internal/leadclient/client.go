// Package leadclient calls the leads service HTTP API on behalf of a signed-in user.
package leadclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"leadmachine/pkg/domain"
	"leadmachine/pkg/export"
)

// APIError is a non-2xx response from the leads service.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("leads service error (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("leads service error (%d): %s", e.Status, e.Message)
}

// GenerateResult is the body of a successful generate-leads call.
type GenerateResult struct {
	Leads    []domain.Lead `json:"leads"`
	Count    int           `json:"count"`
	Outcome  string        `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	ExportID string        `json:"exportId,omitempty"`
	Charged  bool          `json:"charged"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New returns a client for baseURL. A zero timeout means no client timeout,
// which suits generations that run for minutes.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) GenerateLeads(ctx context.Context, req domain.GenerationRequest) (GenerateResult, error) {
	var res GenerateResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/generate-leads", req, &res); err != nil {
		return GenerateResult{}, err
	}
	if res.Leads == nil {
		res.Leads = []domain.Lead{}
	}
	return res, nil
}

func (c *Client) Credits(ctx context.Context) (domain.CreditBalance, error) {
	var res domain.CreditBalance
	err := c.doJSON(ctx, http.MethodGet, "/api/credits", nil, &res)
	return res, err
}

func (c *Client) ListExports(ctx context.Context) ([]domain.LeadExport, error) {
	var res struct {
		Items []domain.LeadExport `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/exports", nil, &res); err != nil {
		return nil, err
	}
	return res.Items, nil
}

// DownloadExport streams a stored export in format to w.
func (c *Client) DownloadExport(ctx context.Context, id string, format export.Format, includeScore bool, w io.Writer) error {
	q := url.Values{}
	q.Set("format", string(format))
	if includeScore {
		q.Set("includeScore", strconv.FormatBool(true))
	}
	path := "/api/exports/" + url.PathEscape(id) + "/download?" + q.Encode()
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var errResp struct {
			Error     string `json:"error"`
			Code      string `json:"code"`
			RequestID string `json:"requestId"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return nil, &APIError{Status: resp.StatusCode, Code: errResp.Code, Message: msg, RequestID: errResp.RequestID}
	}
	return resp, nil
}
