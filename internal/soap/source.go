package soap

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
)

// ErrExternalUnavailable is returned when the upstream service remains
// unreachable after the configured number of retries.
var ErrExternalUnavailable = errors.New("soap: external service unavailable")

// ErrNonRetryable wraps a 4xx response, which must not be retried.
var ErrNonRetryable = errors.New("soap: non-retryable response")

const envelopeTemplate = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope" xmlns:sip="%s">
  <soap:Body>
    <sip:%s/>
  </soap:Body>
</soap:Envelope>`

// Source streams the response body for a SOAP method call.
type Source interface {
	// Stream POSTs the SOAP envelope for methodName and returns the response
	// body as a lazily-readable, already-decompressed stream. Callers must
	// close the returned ReadCloser. The body must be consumed incrementally
	// by the caller; Stream itself never buffers it.
	Stream(ctx context.Context, methodName string) (io.ReadCloser, error)
}

// HTTPSource is the production Source backed by net/http.
type HTTPSource struct {
	cfg    Config
	client *http.Client
}

// NewHTTPSource builds an HTTPSource whose underlying client's dial and
// response-header timeouts are derived from cfg.
func NewHTTPSource(cfg Config) *HTTPSource {
	return &HTTPSource{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.ConnectTimeout + cfg.ReadTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			},
		},
	}
}

var _ Source = (*HTTPSource)(nil)

// Stream implements Source. Exponential backoff between attempts follows
// retryBackoffMs × 2^(attempt-1) per §4.3, delegated to
// backoff.ExponentialBackOff configured with that initial interval.
func (s *HTTPSource) Stream(ctx context.Context, methodName string) (io.ReadCloser, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.RetryBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // bounded by MaxRetries instead of wall-clock

	var (
		body io.ReadCloser
		lastErr error
		attempt int
	)

	operation := func() error {
		attempt++

		resp, err := s.doRequest(ctx, methodName)
		if err != nil {
			lastErr = err

			if isRetryable(err) {
				return err
			}

			return backoff.Permanent(err)
		}

		decoded, err := decodeBody(resp)
		if err != nil {
			lastErr = err

			return backoff.Permanent(err)
		}

		body = decoded

		return nil
	}

	retryPolicy := backoff.WithMaxRetries(bo, uint64(s.cfg.MaxRetries))

	if err := backoff.Retry(operation, retryPolicy); err != nil {
		if body != nil {
			_ = body.Close()
		}

		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}

		return nil, fmt.Errorf("%w after %d attempts: %w", ErrExternalUnavailable, attempt, lastErr)
	}

	return body, nil
}

func (s *HTTPSource) doRequest(ctx context.Context, methodName string) (*http.Response, error) {
	envelope := fmt.Sprintf(envelopeTemplate, s.cfg.Namespace, methodName)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewBufferString(envelope))
	if err != nil {
		return nil, fmt.Errorf("soap: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("soap: transport failure: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp, nil
	case resp.StatusCode >= 500:
		_ = resp.Body.Close()

		return nil, fmt.Errorf("soap: retryable status %d", resp.StatusCode)
	default:
		_ = resp.Body.Close()

		return nil, fmt.Errorf("%w: status %d", ErrNonRetryable, resp.StatusCode)
	}
}

// decodeBody transparently gunzips the body when Content-Encoding: gzip is
// present, matching §4.3.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	if !strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		return resp.Body, nil
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		_ = resp.Body.Close()

		return nil, fmt.Errorf("soap: gzip decode: %w", err)
	}

	return &gzipReadCloser{gz: gz, raw: resp.Body}, nil
}

// gzipReadCloser closes both the gzip reader and the underlying HTTP body.
type gzipReadCloser struct {
	gz  *gzip.Reader
	raw io.ReadCloser
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipReadCloser) Close() error {
	gzErr := g.gz.Close()
	rawErr := g.raw.Close()

	if gzErr != nil {
		return gzErr
	}

	return rawErr
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrNonRetryable) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// transport/5xx failures wrapped by doRequest are retryable by
	// construction (anything not tagged ErrNonRetryable here).
	return true
}
