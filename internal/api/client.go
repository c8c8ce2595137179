// Package api is the HTTP client for the lookalike image index backend.
//
// Uploads and searches are multipart/form-data POSTs; history, dashboard
// and health are JSON GETs. The client paces requests with a token bucket
// and never retries: a failed call is reported to the caller once.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/abelbrown/lookalike/internal/intake"
	"github.com/abelbrown/lookalike/internal/otel"
)

// ErrStatus matches any *StatusError via errors.Is.
var ErrStatus = errors.New("api: unexpected status")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api: %s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("api: %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

// maxBody caps how much of a response body is read.
const maxBody = 10 << 20

// Options configures a Client. Zero values select the defaults.
type Options struct {
	Timeout           time.Duration // per-request; default 120s
	RequestsPerSecond float64       // <= 0 disables pacing
	Burst             int
	HTTPClient        *http.Client // overrides Timeout when set
	Events            *otel.Logger
}

// Client talks to one backend.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	events  *otel.Logger
}

// New creates a client for baseURL, e.g. "http://localhost:8000".
func New(baseURL string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		limiter: limiter,
		events:  opts.Events,
	}
}

// BaseURL returns the backend root the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Upload sends files in a single POST /upload/ request, one repeated
// "files" part per file. Each part carries the file's MIME type so the
// backend checks the same value intake validated.
func (c *Client) Upload(ctx context.Context, files []intake.CandidateFile) (*UploadResponse, error) {
	if len(files) == 0 {
		return nil, errors.New("api: upload: no files")
	}
	var resp UploadResponse
	err := c.postMultipart(ctx, "/upload/", len(files), func(mw *multipart.Writer) error {
		for _, f := range files {
			if err := writeFilePart(mw, "files", f); err != nil {
				return err
			}
		}
		return nil
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Search sends the query image to POST /search/?top_k=N. Results are
// returned in server order.
func (c *Client) Search(ctx context.Context, query intake.CandidateFile, topK int) (*SearchResponse, error) {
	path := "/search/?top_k=" + strconv.Itoa(topK)
	var resp SearchResponse
	err := c.postMultipart(ctx, path, 1, func(mw *multipart.Writer) error {
		return writeFilePart(mw, "file", query)
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadHistory lists the most recent uploads, newest first.
// A non-positive limit leaves the server default (50).
func (c *Client) UploadHistory(ctx context.Context, limit int) ([]UploadHistoryEntry, error) {
	path := "/upload/history"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var out []UploadHistoryEntry
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchHistory lists past searches recorded by the backend.
func (c *Client) SearchHistory(ctx context.Context) ([]SearchHistoryEntry, error) {
	var out []SearchHistoryEntry
	if err := c.getJSON(ctx, "/search/history", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DashboardStats fetches the dashboard counters and recent activity.
func (c *Client) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	var out DashboardStats
	if err := c.getJSON(ctx, "/dashboard/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health fetches backend dependency status.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, path, 0, out)
}

// postMultipart streams a multipart body produced by write through a pipe
// so file contents are never buffered whole in memory.
func (c *Client) postMultipart(ctx context.Context, path string, count int, write func(*multipart.Writer) error, out any) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := write(mw)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	err = c.do(req, path, count, out)
	// Unblocks the writer goroutine if the transport stopped reading early.
	pr.CloseWithError(io.ErrClosedPipe)
	return err
}

func (c *Client) do(req *http.Request, path string, count int, out any) error {
	ctx := req.Context()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("api: %s %s: rate limiter wait: %w", req.Method, path, err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("api: %s %s: request cancelled: %w", req.Method, path, ctx.Err())
		} else {
			err = fmt.Errorf("api: %s %s: request failed: %w", req.Method, path, err)
		}
		c.events.Emit(otel.Event{Level: otel.LevelError, Kind: otel.KindAPIError, Comp: "api",
			Msg: req.Method + " " + path, Count: count, Dur: time.Since(start), Err: err.Error()})
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("api: %s %s: read response: %w", req.Method, path, err)
	}

	c.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindAPIRequest, Comp: "api",
		Msg: req.Method + " " + path, Count: count, Dur: time.Since(start),
		Extra: map[string]any{"status": resp.StatusCode}})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Method: req.Method, Path: path, Code: resp.StatusCode, Body: detail(body)}
		c.events.Emit(otel.Event{Level: otel.LevelError, Kind: otel.KindAPIError, Comp: "api",
			Msg: req.Method + " " + path, Count: count, Err: serr.Error()})
		return serr
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("api: %s %s: decode response: %w", req.Method, path, err)
	}
	return nil
}

// detail extracts FastAPI's {"detail": "..."} message, falling back to the
// trimmed raw body.
func detail(body []byte) string {
	var d struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &d) == nil && d.Detail != "" {
		return d.Detail
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeFilePart(mw *multipart.Writer, field string, f intake.CandidateFile) error {
	if f.Open == nil {
		return fmt.Errorf("api: %s: no content", f.Name)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(f.Name)))
	h.Set("Content-Type", f.MIMEType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("api: %s: create part: %w", f.Name, err)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("api: %s: open: %w", f.Name, err)
	}
	defer rc.Close()
	if _, err := io.Copy(part, rc); err != nil {
		return fmt.Errorf("api: %s: copy: %w", f.Name, err)
	}
	return nil
}
