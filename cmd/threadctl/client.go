package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// apiClient calls the threadpost HTTP API and unwraps the response
// envelope.
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newAPIClient(opts *globalOptions) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(opts.server, "/"),
		apiKey:  opts.apiKey,
		// No overall timeout: POST /post-thread returns when the thread ends.
		http: &http.Client{},
	}
}

// apiError is a non-2xx response in the error envelope.
type apiError struct {
	Status  int
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	if len(e.Details) > 0 && string(e.Details) != "null" {
		msg += " " + string(e.Details)
	}
	return msg
}

type envelope struct {
	Data json.RawMessage `json:"data"`
	Meta json.RawMessage `json:"meta,omitempty"`
}

// do sends body (raw JSON bytes or a value to encode) and returns the data
// member of the response envelope.
func (c *apiClient) do(ctx context.Context, method, path string, body any, header http.Header) (json.RawMessage, int, error) {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		payload, err := json.Marshal(b)
		if err != nil {
			return nil, 0, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, resp.StatusCode, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errEnv struct {
			Error apiError `json:"error"`
		}
		if err := json.Unmarshal(raw, &errEnv); err != nil || errEnv.Error.Code == "" {
			return nil, resp.StatusCode, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		errEnv.Error.Status = resp.StatusCode
		return nil, resp.StatusCode, &errEnv.Error
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decoding response: %w", err)
	}
	return env.Data, resp.StatusCode, nil
}

// waitForThread polls GET /thread/{id} until the job is finished.
func (c *apiClient) waitForThread(ctx context.Context, id string, interval time.Duration) (threadStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		data, _, err := c.do(ctx, http.MethodGet, "/thread/"+id, nil, nil)
		if err != nil {
			return threadStatus{}, err
		}
		var st threadStatus
		if err := json.Unmarshal(data, &st); err != nil {
			return threadStatus{}, fmt.Errorf("decoding thread: %w", err)
		}
		if st.terminal() {
			return st, nil
		}

		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

type threadStatus struct {
	ThreadID       string `json:"thread_id"`
	State          string `json:"state"`
	PublishedPosts []struct {
		ID string `json:"id"`
	} `json:"published_posts"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s threadStatus) terminal() bool {
	return s.State == "completed" || s.State == "failed" || s.State == "cancelled"
}

func printJSON(w io.Writer, data json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, werr := fmt.Fprintln(w, string(data))
		return werr
	}
	_, err := fmt.Fprintln(w, buf.String())
	return err
}
