package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderAttemptID = "X-ApplyBot-Attempt-ID"
	HeaderSignature = "X-ApplyBot-Signature"
)

// Payload is the JSON body posted to the target.
type Payload struct {
	JobID       string `json:"job_id"`
	AttemptID   string `json:"attempt_id"`
	ResumeRef   string `json:"resume_ref"`
	CoverLetter string `json:"cover_letter"`
	JobURL      string `json:"job_url,omitempty"`
}

// HTTPSubmitter posts a signed JSON payload to a single endpoint.
type HTTPSubmitter struct {
	url    string
	secret string
	client *http.Client
	clock  func() time.Time
}

func NewHTTPSubmitter(url, secret string) *HTTPSubmitter {
	return &HTTPSubmitter{
		url:    url,
		secret: secret,
		client: &http.Client{},
		clock:  time.Now,
	}
}

// WithClient replaces the HTTP client.
func (s *HTTPSubmitter) WithClient(c *http.Client) *HTTPSubmitter {
	s.client = c
	return s
}

// Endpoint is the key the circuit breaker tracks.
func (s *HTTPSubmitter) Endpoint() string { return s.url }

// Submit sends the application. The caller bounds it with a context
// deadline.
func (s *HTTPSubmitter) Submit(ctx context.Context, sub Submission) error {
	body, err := json.Marshal(Payload{
		JobID:       sub.JobID,
		AttemptID:   sub.AttemptID.String(),
		ResumeRef:   sub.ResumeRef,
		CoverLetter: sub.CoverLetter,
		JobURL:      sub.JobURL,
	})
	if err != nil {
		return NetworkError(fmt.Errorf("marshal: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return NetworkError(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAttemptID, sub.AttemptID.String())
	req.Header.Set(HeaderSignature, computeSignature(s.secret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return NetworkError(fmt.Errorf("send: %w", err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return s.classify(resp)
}

func (s *HTTPSubmitter) classify(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), s.clock())
		return RateLimitedError(retryAfter, fmt.Errorf("target returned %s", resp.Status))
	case code >= 400 && code < 500:
		return RejectedError(code, fmt.Errorf("target returned %s", resp.Status))
	default:
		e := NetworkError(fmt.Errorf("target returned %s", resp.Status))
		e.StatusCode = code
		return e
	}
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a body against the X-ApplyBot-Signature header.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
