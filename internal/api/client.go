// Package api talks to the Bosla REST API and normalizes its payloads into
// the client-side model.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bosla-edu/desk/internal/model"
)

// ErrNoToken is returned when a privileged call is made without a stored session token.
var ErrNoToken = errors.New("no session token: run `bosla login` first")

// TokenSource supplies the bearer token for every privileged call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource holding a fixed token.
type StaticToken string

// Token returns the token, or ErrNoToken when empty.
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Method  string
	Path    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Message extracts the best user-facing message from err.
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Client is a Bosla API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit caps outgoing requests per second; rps <= 0 disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New creates a client for baseURL (e.g. https://api.bosla.app) and a versioned
// path segment (e.g. "v1").
func New(baseURL, version string, tokens TokenSource, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", baseURL)
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	base := u.String() + "/api"
	if v := strings.Trim(version, "/"); v != "" {
		base += "/" + v
	}
	c := &Client{
		baseURL: base,
		http:    &http.Client{Timeout: 60 * time.Second},
		tokens:  tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// call describes one request. Route is the path template, used as metric label.
type call struct {
	method      string
	route       string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	list        bool // a 404 means "no rows", not a failure
}

// do performs c and returns the decoded JSON body (nil for empty bodies).
func (c *Client) do(ctx context.Context, rq call) (any, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	target := c.baseURL + rq.path
	if len(rq.query) > 0 {
		target += "?" + rq.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, rq.method, target, rq.body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if rq.contentType != "" {
		req.Header.Set("Content-Type", rq.contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observe(rq.method, rq.route, 0, time.Since(start))
		return nil, fmt.Errorf("%s %s: %w", rq.method, rq.path, err)
	}
	defer resp.Body.Close()
	observe(rq.method, rq.route, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	slog.Debug("api call", "method", rq.method, "path", rq.path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode == http.StatusNotFound && rq.list {
		return []any{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Status:  resp.StatusCode,
			Method:  rq.method,
			Path:    rq.path,
			Message: extractMessage(data),
		}
	}
	return decode(data)
}

func decode(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		// Some endpoints answer with a bare string or number.
		return strings.TrimSpace(string(data)), nil
	}
	return v, nil
}

// extractMessage pulls a human message out of an error body, best effort.
func extractMessage(data []byte) string {
	v, err := decode(data)
	if err != nil || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return truncate(s, 200)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	r := newRecord(m, fieldTable{
		"message": keys("message", "error", "title", "detail"),
		"errors":  keys("errors"),
	})
	if msg := r.String("message"); msg != "" {
		return msg
	}
	if errs, ok := r.Object("errors"); ok {
		var parts []string
		for field, v := range errs {
			for _, e := range toList(v) {
				parts = append(parts, field+": "+toString(e))
			}
		}
		return strings.Join(parts, "; ")
	}
	if list := r.List("errors"); len(list) > 0 {
		var parts []string
		for _, e := range list {
			parts = append(parts, toString(e))
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (c *Client) getJSON(ctx context.Context, route, path string, list bool) (any, error) {
	return c.do(ctx, call{method: http.MethodGet, route: route, path: path, list: list})
}

func (c *Client) sendJSON(ctx context.Context, method, route, path string, payload any) (any, error) {
	var body io.Reader
	contentType := ""
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", route, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, call{method: method, route: route, path: path, body: body, contentType: contentType})
}

// form is a multipart body under construction.
type form struct {
	fields [][2]string
	files  map[string]*model.File
}

func newForm() *form {
	return &form{files: map[string]*model.File{}}
}

func (f *form) set(name, value string) *form {
	f.fields = append(f.fields, [2]string{name, value})
	return f
}

func (f *form) setInt(name string, v int64) *form {
	return f.set(name, strconv.FormatInt(v, 10))
}

func (f *form) setFloat(name string, v float64) *form {
	return f.set(name, strconv.FormatFloat(v, 'f', -1, 64))
}

func (f *form) setBool(name string, v bool) *form {
	return f.set(name, strconv.FormatBool(v))
}

func (f *form) file(name string, file *model.File) *form {
	if !file.Empty() {
		f.files[name] = file
	}
	return f
}

func (f *form) encode() (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for _, kv := range f.fields {
		if err := w.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", err
		}
	}
	for name, file := range f.files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, name, fileName(file)))
		ct := file.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func fileName(f *model.File) string {
	if f.Name != "" {
		return f.Name
	}
	return "upload"
}

func (c *Client) sendForm(ctx context.Context, method, route, path string, f *form) (any, error) {
	body, contentType, err := f.encode()
	if err != nil {
		return nil, fmt.Errorf("encode %s form: %w", route, err)
	}
	return c.do(ctx, call{method: method, route: route, path: path, body: body, contentType: contentType})
}
