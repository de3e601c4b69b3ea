package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/mhutchins/hookline/internal/models"
)

// FailureKind classifies a transmission failure. The worker switches on this
// closed set instead of inspecting raw error types: timeouts and connection
// failures stay retryable, anything unclassified is terminal.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureTimeout
	FailureConnection
	FailureOther
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureTimeout:
		return "timeout"
	case FailureConnection:
		return "connection"
	default:
		return "other"
	}
}

// Request is one outbound transmission: a fully built header set and the
// exact body bytes that were signed.
type Request struct {
	URL     string
	Body    []byte
	Headers http.Header
}

// Result is the outcome of one transmission. Failure == FailureNone means a
// response was received; StatusCode and Body are then valid regardless of the
// status class.
type Result struct {
	StatusCode int
	Body       string
	Failure    FailureKind
	Err        string
	LatencyMs  int64
}

// Transport sends one webhook request. Implementations must bound the call
// with a hard timeout so a stalled remote cannot hold a worker.
type Transport interface {
	Post(ctx context.Context, req Request) *Result
}

type HTTPTransport struct {
	client *http.Client
}

func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{
			Timeout: timeout,
			// Anything outside 2xx is recorded as-is; redirects are not followed.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (t *HTTPTransport) Post(ctx context.Context, req Request) *Result {
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return &Result{
			Failure:   FailureOther,
			Err:       fmt.Sprintf("failed to build request: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		kind, msg := classify(err)
		return &Result{
			Failure:   kind,
			Err:       msg,
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, models.MaxResponseBody))

	return &Result{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		LatencyMs:  time.Since(start).Milliseconds(),
	}
}

func classify(err error) (FailureKind, string) {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FailureTimeout, "request timed out"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout, "request timed out"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureConnection, models.Truncate(fmt.Sprintf("dns lookup failed: %v", dnsErr), models.MaxErrorLen)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FailureConnection, models.Truncate(fmt.Sprintf("connection failed: %v", opErr), models.MaxErrorLen)
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return FailureConnection, models.Truncate(fmt.Sprintf("connection failed: %v", err), models.MaxErrorLen)
	}

	return FailureOther, models.Truncate(err.Error(), models.MaxErrorLen)
}

// IsSuccess reports whether statusCode is in the 2xx range.
func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
