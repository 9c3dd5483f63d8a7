package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// maxErrorBody bounds how much of a failed response is quoted in errors.
const maxErrorBody = 512

// Doer sends HTTP requests. *http.Client implements it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// DoJSON sends a request with an optional JSON body and decodes the JSON
// response into out when out is non-nil.
func DoJSON(ctx context.Context, c Doer, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StubResponse is a canned reply for StubClient.
type StubResponse struct {
	StatusCode int
	Body       string
	Err        error
}

// StubClient replays queued responses and records the requests it saw.
// Once the queue is empty it answers 200 with an empty JSON object.
type StubClient struct {
	mu        sync.Mutex
	responses []StubResponse
	requests  []*http.Request
	bodies    []string
}

// Queue appends a canned response.
func (s *StubClient) Queue(r StubResponse) *StubClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
	return s
}

// Do implements Doer.
func (s *StubClient) Do(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		body = string(data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	s.bodies = append(s.bodies, body)

	r := StubResponse{StatusCode: http.StatusOK, Body: "{}"}
	if len(s.responses) > 0 {
		r = s.responses[0]
		s.responses = s.responses[1:]
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &http.Response{
		StatusCode: r.StatusCode,
		Body:       io.NopCloser(bytes.NewBufferString(r.Body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// Requests returns the recorded requests and their bodies.
func (s *StubClient) Requests() ([]*http.Request, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*http.Request(nil), s.requests...), append([]string(nil), s.bodies...)
}
