// Package fetch downloads remote datasheets over HTTP.
package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTimeout bounds one download attempt.
	DefaultTimeout = 30 * time.Second
	// ProbeTimeout bounds a HEAD request.
	ProbeTimeout = 10 * time.Second
	// DefaultMaxBytes caps the size of a downloaded body.
	DefaultMaxBytes = 50 << 20
	// UserAgent is sent with every request; several vendor sites answer 403
	// to clients without a browser-like agent.
	UserAgent = "Mozilla/5.0"

	maxAttempts = 2
)

// ErrNetwork marks every failure to obtain a remote resource.
var ErrNetwork = errors.New("network error")

// StatusError is returned for a non-success HTTP status.
type StatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
}

// Response is a downloaded resource.
type Response struct {
	Body        []byte
	ContentType string
	// FileName comes from the Content-Disposition header, when present.
	FileName string
}

// Head is the header metadata of a resource.
type Head struct {
	StatusCode  int
	ContentType string
	FileName    string
}

// Client fetches datasheets with a per-attempt timeout and a single retry.
type Client struct {
	httpClient *http.Client
	maxBytes   int64
	retryDelay time.Duration
}

// NewClient creates a client. Zero values select the defaults.
func NewClient(timeout time.Duration, maxBytes int64) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxBytes:   maxBytes,
		retryDelay: time.Second,
	}
}

// Get downloads url. A non-success status other than 403 Forbidden, or a
// failure to connect, is retried once; a timeout is not retried.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			log.Warn().Err(lastErr).Str("url", url).Int("attempt", attempt+1).Msg("Retrying download")
			select {
			case <-ctx.Done():
				return nil, errors.Mark(ctx.Err(), ErrNetwork)
			case <-time.After(c.retryDelay):
			}
		}

		resp, err := c.doGet(ctx, url)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// Don't retry on context cancellation.
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}

	return nil, errors.Mark(fmt.Errorf("download %s: %w", url, lastErr), ErrNetwork)
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code != http.StatusForbidden
	}
	if errors.Is(err, errBodyTooLarge) {
		return false
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return false
	}
	return true
}

var errBodyTooLarge = errors.New("response body exceeds size limit")

func (c *Client) doGet(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Method: http.MethodGet, URL: url, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, errors.Wrapf(errBodyTooLarge, "%d bytes", c.maxBytes)
	}

	log.Debug().Str("url", url).Int("bytes", len(body)).Msg("Download complete")
	return &Response{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		FileName:    dispositionFileName(resp.Header.Get("Content-Disposition")),
	}, nil
}

// Probe issues a HEAD request for url. A non-success status is an error, so
// callers never classify an error page by its content type.
func (c *Client) Probe(ctx context.Context, url string) (*Head, error) {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, errors.Mark(fmt.Errorf("create request: %w", err), ErrNetwork)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Mark(fmt.Errorf("probe %s: %w", url, err), ErrNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Mark(&StatusError{Method: http.MethodHead, URL: url, Code: resp.StatusCode}, ErrNetwork)
	}

	return &Head{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		FileName:    dispositionFileName(resp.Header.Get("Content-Disposition")),
	}, nil
}

func dispositionFileName(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := params["filename"]
	if name == "" {
		return ""
	}
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

// nonPDFTypes are content types that cannot be a datasheet.
var nonPDFTypes = []string{"text/html", "text/plain", "application/json", "application/xml", "image/"}

// IsNonPDF reports whether a Content-Type header clearly names something other
// than a PDF. Empty and ambiguous types such as application/octet-stream are
// not rejected.
func IsNonPDF(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" || strings.Contains(ct, "pdf") {
		return false
	}
	for _, t := range nonPDFTypes {
		if strings.HasPrefix(ct, t) {
			return true
		}
	}
	return false
}

// LooksLikePDF reports whether body starts with the PDF magic bytes.
func LooksLikePDF(body []byte) bool {
	return len(body) >= 4 && string(body[:4]) == "%PDF"
}
