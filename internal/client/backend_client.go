package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/statement-portal/internal/models"
)

// BackendClient calls the statement converter API on behalf of one visitor.
// Requests without a bearer token fall back to the cookie jar, never both.
type BackendClient struct {
	baseURL string
	// httpClient carries no jar and is used for bearer requests.
	httpClient *http.Client
	// cookieClient shares the transport but sends and stores cookies.
	cookieClient *http.Client
	log          *zap.Logger
}

// NewBackendClient creates a backend client with its own cookie jar
func NewBackendClient(baseURL string, timeout time.Duration, log *zap.Logger) *BackendClient {
	jar, _ := cookiejar.New(nil)
	return &BackendClient{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: timeout},
		cookieClient: &http.Client{Timeout: timeout, Jar: jar},
		log:          log.Named("backend"),
	}
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Detail)
}

// StatusOf extracts the HTTP status of an APIError, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// request describes one backend call.
type request struct {
	method      string
	path        string
	token       string
	headers     map[string]string
	body        io.Reader
	contentType string
}

func jsonRequest(method, path, token string, payload any) (*request, error) {
	req := &request{method: method, path: path, token: token}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		req.body = bytes.NewReader(body)
		req.contentType = "application/json"
	}
	return req, nil
}

// send performs the call and returns the raw body of a 2xx response.
func (c *BackendClient) send(ctx context.Context, r *request) ([]byte, error) {
	ctx, span := otel.Tracer("statement-portal/client").Start(ctx, r.method+" "+r.path,
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, r.body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if r.contentType != "" {
		httpReq.Header.Set("Content-Type", r.contentType)
	}
	if r.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.token)
	}
	for k, v := range r.headers {
		httpReq.Header.Set(k, v)
	}

	hc := c.cookieClient
	if r.token != "" {
		hc = c.httpClient
	}
	resp, err := hc.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send request")
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope models.ErrorResponse
		detail := ""
		if json.Unmarshal(respBody, &envelope) == nil {
			detail = envelope.Text()
		}
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Detail: detail}
		span.SetStatus(codes.Error, apiErr.Error())
		c.log.Debug("backend call failed",
			zap.String("method", r.method),
			zap.String("path", r.path),
			zap.Int("status", resp.StatusCode),
		)
		return nil, apiErr
	}

	return respBody, nil
}

// call performs the call and decodes a JSON body into out when out is non-nil.
func (c *BackendClient) call(ctx context.Context, r *request, out any) error {
	body, err := c.send(ctx, r)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w (body: %s)", err, truncate(body, 256))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
