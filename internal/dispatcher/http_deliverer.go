package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// DefaultMaxResponseBytes caps how much of a response body is kept for logs.
const DefaultMaxResponseBytes = 64 << 10

type HTTPDeliverer struct {
	Client *http.Client
	Policy EgressPolicy

	Resolver resolver

	// MaxResponseBytes caps the response body kept in Result.Body. The rest
	// is drained and discarded.
	MaxResponseBytes int64
}

func NewHTTPDeliverer(client *http.Client, policy EgressPolicy) *HTTPDeliverer {
	if client == nil {
		client = &http.Client{}
	}
	d := &HTTPDeliverer{
		Client:           client,
		Policy:           policy,
		MaxResponseBytes: DefaultMaxResponseBytes,
	}
	client.CheckRedirect = d.checkRedirect
	return d
}

// Deliver performs a single request. It never retries. Transport errors,
// policy denials and body read errors are reported in Result.Err; a non-2xx
// status alone is not an error here.
func (d *HTTPDeliverer) Deliver(ctx context.Context, delivery Delivery) Result {
	if err := checkEgressPolicy(ctx, delivery.URL, d.Policy, d.Resolver); err != nil {
		return Result{Err: err}
	}
	req, err := newDeliveryRequest(ctx, delivery)
	if err != nil {
		return Result{Err: err}
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()

	body, err := d.readBody(resp.Body)
	return Result{StatusCode: resp.StatusCode, Body: body, Err: err}
}

func newDeliveryRequest(ctx context.Context, delivery Delivery) (*http.Request, error) {
	method := delivery.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, delivery.URL, bytes.NewReader(delivery.Body))
	if err != nil {
		return nil, err
	}
	if delivery.Header != nil {
		req.Header = delivery.Header.Clone()
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// readBody keeps at most MaxResponseBytes and drains the rest so the
// connection can be reused.
func (d *HTTPDeliverer) readBody(r io.Reader) ([]byte, error) {
	limit := d.MaxResponseBytes
	if limit <= 0 {
		limit = DefaultMaxResponseBytes
	}
	body, err := io.ReadAll(io.LimitReader(r, limit))
	_, _ = io.Copy(io.Discard, r)
	return body, err
}

const maxRedirects = 10

// checkRedirect applies the egress policy to every hop.
func (d *HTTPDeliverer) checkRedirect(req *http.Request, via []*http.Request) error {
	if d.Policy.NoRedirects {
		return http.ErrUseLastResponse
	}
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return checkEgressPolicyURL(req.Context(), req.URL, d.Policy, d.Resolver)
}
