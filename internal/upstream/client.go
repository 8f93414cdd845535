// Package upstream holds the HTTP clients for the black-box collaborators
// this console orchestrates: identity resolution, the proposal workflow
// backend, the counter-proposal endpoints, the signing provider and billing.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Error taxonomy. Transport and 5xx failures come back as *TransientError;
// the caller decides how to degrade.
var (
	ErrAccessDenied = errors.New("access denied")
	ErrNotFound     = errors.New("not found")
)

// FieldErrors carries server-side field validation failures to be mapped
// back onto individual form fields.
type FieldErrors struct {
	Fields map[string]string
}

func (e *FieldErrors) Error() string {
	return fmt.Sprintf("field validation failed (%d fields)", len(e.Fields))
}

// RefusalError is a business refusal with a server-reported reason, such as
// deleting a counter-proposal that already has signatures.
type RefusalError struct {
	Reason string
}

func (e *RefusalError) Error() string {
	return e.Reason
}

// TransientError is a network or unclassified server failure.
type TransientError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: upstream status %d", e.Op, e.Status)
}

func (e *TransientError) Unwrap() error { return e.Err }

type Config struct {
	IdentityURL  string
	ProposalURL  string
	CounterURL   string
	SignatureURL string
	BillingURL   string
	Timeout      time.Duration
}

type Client struct {
	http         *http.Client
	identityURL  string
	proposalURL  string
	counterURL   string
	signatureURL string
	billingURL   string
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:         &http.Client{Timeout: timeout},
		identityURL:  strings.TrimRight(cfg.IdentityURL, "/"),
		proposalURL:  strings.TrimRight(cfg.ProposalURL, "/"),
		counterURL:   strings.TrimRight(cfg.CounterURL, "/"),
		signatureURL: strings.TrimRight(cfg.SignatureURL, "/"),
		billingURL:   strings.TrimRight(cfg.BillingURL, "/"),
	}
}

// errorBody is the envelope the collaborators use for failures.
type errorBody struct {
	Error  string            `json:"error"`
	Reason string            `json:"reason"`
	Fields map[string]string `json:"fields"`
}

// doJSON performs one request and decodes a 2xx JSON response into out.
// Non-2xx responses are classified into the error taxonomy.
func (c *Client) doJSON(ctx context.Context, op, method, rawURL string, headers map[string]string, body, out any) error {
	return c.doJSONClassify(ctx, op, method, rawURL, headers, body, out, classify)
}

func (c *Client) doJSONClassify(ctx context.Context, op, method, rawURL string, headers map[string]string, body, out any, classifier func(string, *http.Response) error) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Op: op, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return classifier(op, res)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return &TransientError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func classify(op string, res *http.Response) error {
	var envelope errorBody
	_ = json.NewDecoder(res.Body).Decode(&envelope)

	switch res.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, ErrAccessDenied)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case http.StatusConflict:
		reason := envelope.Reason
		if reason == "" {
			reason = envelope.Error
		}
		if reason == "" {
			reason = "request refused"
		}
		return &RefusalError{Reason: reason}
	case http.StatusUnprocessableEntity:
		fields := envelope.Fields
		if fields == nil {
			fields = map[string]string{}
		}
		return &FieldErrors{Fields: fields}
	default:
		return &TransientError{Op: op, Status: res.StatusCode}
	}
}

// classifyLookup is classify with the workflow backend's lookup quirk: it
// answers 400 for callers it does not recognize as linked participants, so
// 400 must trigger the same fallback as 403.
func classifyLookup(op string, res *http.Response) error {
	if res.StatusCode == http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, res.Body)
		return fmt.Errorf("%s: %w", op, ErrAccessDenied)
	}
	return classify(op, res)
}

func scopeQuery(role, subject string) url.Values {
	q := url.Values{}
	if role != "" {
		q.Set("perfil", role)
	}
	if subject != "" {
		q.Set("documento", subject)
	}
	return q
}
