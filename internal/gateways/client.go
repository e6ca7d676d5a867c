// Package gateway holds the HTTP clients for the engine's three
// collaborators: the payment gateway, the order system and the chat
// messenger.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

// httpClient is the shared fasthttp plumbing: one upstream, bearer
// auth, JSON in and out.
type httpClient struct {
	baseURL string
	token   string
	timeout time.Duration
	client  *fasthttp.Client
}

func newHTTPClient(baseURL, token string, timeout time.Duration) *httpClient {
	return &httpClient{
		baseURL: baseURL,
		token:   token,
		timeout: timeout,
		client: &fasthttp.Client{
			MaxConnsPerHost:     128,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}
}

// statusError carries the upstream HTTP status so callers can
// distinguish a missing resource from a failing service.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.code, e.body)
}

func (c *httpClient) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode != fasthttp.StatusOK &&
		statusCode != fasthttp.StatusCreated &&
		statusCode != fasthttp.StatusAccepted {
		return nil, &statusError{code: statusCode, body: string(resp.Body())}
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())
	return result, nil
}

func isStatus(err error, code int) bool {
	se, ok := err.(*statusError)
	return ok && se.code == code
}
