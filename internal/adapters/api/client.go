// Package api is the REST client for the academy backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"academy/internal/adapters/http/perf"
	"academy/internal/application/clientstore"
	"academy/internal/domain/enrollment"
	"academy/internal/domain/mutation"
	"academy/internal/domain/refund"
	"academy/internal/domain/session"
)

// DefaultTimeout bounds every backend request.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
	Fields  map[string]string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, http.StatusText(e.Code))
}

// StatusCode returns the HTTP status.
func (e *StatusError) StatusCode() int { return e.Code }

// FieldErrors returns per-field validation messages, if the server sent any.
func (e *StatusError) FieldErrors() map[string]string { return e.Fields }

// errorBody is the JSON error shape of the backend. Older endpoints send
// "error" instead of "message" and "fieldErrors" instead of "errors".
type errorBody struct {
	Message     string            `json:"message"`
	Error       string            `json:"error"`
	Errors      map[string]string `json:"errors"`
	FieldErrors map[string]string `json:"fieldErrors"`
}

// Client makes REST calls to the academy backend.
type Client struct {
	baseURL   string
	token     string
	client    *http.Client
	collector *perf.Collector
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithCollector records every call's latency in collector.
func WithCollector(collector *perf.Collector) Option {
	return func(c *Client) { c.collector = collector }
}

// NewClient creates a client targeting baseURL (e.g. "https://api.example.com").
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// GetSessions fetches the sessions of a window.
// PRE: w has a scope and a date range
// POST: Returns the sessions with per-viewer flags
func (c *Client) GetSessions(ctx context.Context, w session.Window) ([]session.Session, error) {
	q := url.Values{}
	if w.Scope.ClassID > 0 {
		q.Set("classId", strconv.FormatInt(w.Scope.ClassID, 10))
	} else {
		q.Set("academyId", strconv.FormatInt(w.Scope.AcademyID, 10))
	}
	q.Set("from", w.From)
	q.Set("to", w.To)
	q.Set("mode", string(w.Mode))

	var out []session.Session
	if err := c.get(ctx, "/api/sessions?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListEnrollments fetches an enrollment collection.
func (c *Client) ListEnrollments(ctx context.Context, col clientstore.Collection) ([]enrollment.Enrollment, error) {
	var out []enrollment.Enrollment
	if err := c.get(ctx, "/api/"+string(col), &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Status = enrollment.NormalizeStatus(out[i].Status)
	}
	return out, nil
}

// ListRefunds fetches a refund collection.
func (c *Client) ListRefunds(ctx context.Context, col clientstore.Collection) ([]refund.Refund, error) {
	var out []refund.Refund
	if err := c.get(ctx, "/api/"+string(col), &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Status = strings.ToUpper(strings.TrimSpace(out[i].Status))
	}
	return out, nil
}

// CreateRefund sends POST /api/refunds.
func (c *Client) CreateRefund(ctx context.Context, req refund.Request) (refund.Refund, error) {
	var out refund.Refund
	if err := c.post(ctx, "/api/refunds", req, &out); err != nil {
		return refund.Refund{}, err
	}
	out.Status = strings.ToUpper(strings.TrimSpace(out.Status))
	return out, nil
}

// BatchEnroll sends POST /api/enrollments/batch.
func (c *Client) BatchEnroll(ctx context.Context, req enrollment.BatchEnrollRequest) (enrollment.BatchEnrollResponse, error) {
	var out enrollment.BatchEnrollResponse
	err := c.post(ctx, "/api/enrollments/batch", req, &out)
	return out, err
}

// BatchModify sends POST /api/enrollments/modify.
func (c *Client) BatchModify(ctx context.Context, req enrollment.BatchModifyRequest) (enrollment.BatchModifyResponse, error) {
	var out enrollment.BatchModifyResponse
	err := c.post(ctx, "/api/enrollments/modify", req, &out)
	return out, err
}

// PushToken is the body of a push-token registration.
type PushToken struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// RegisterPushToken sends POST /api/push-tokens.
func (c *Client) RegisterPushToken(ctx context.Context, t PushToken) error {
	return c.post(ctx, "/api/push-tokens", t, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, data, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.setAuth(req)

	start := time.Now()
	resp, err := c.client.Do(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	c.record(method, path, status, start)
	if err != nil {
		slog.Warn("api_request_failed", "method", method, "path", routeOf(path), "error", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(method, routeOf(path), resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, routeOf(path), mutation.ErrMalformedResponse, err)
	}
	return nil
}

func decodeError(method, path string, resp *http.Response) error {
	se := &StatusError{Method: method, Path: path, Code: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil {
		se.Message = eb.Message
		if se.Message == "" {
			se.Message = eb.Error
		}
		se.Fields = eb.Errors
		if len(se.Fields) == 0 {
			se.Fields = eb.FieldErrors
		}
	} else if text := strings.TrimSpace(string(raw)); text != "" && len(text) < 200 {
		se.Message = text
	}
	slog.Warn("api_request_rejected", "method", method, "path", path, "status", se.Code, "message", se.Message)
	return se
}

func (c *Client) record(method, path string, status int, start time.Time) {
	if c.collector == nil {
		return
	}
	c.collector.Record(perf.Entry{
		Kind:       perf.KindCall,
		Path:       method + " " + routeOf(path),
		StatusCode: status,
		DurationMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Timestamp:  start,
	})
}

func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// routeOf strips the query string so timings group by endpoint.
func routeOf(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
