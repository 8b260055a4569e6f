package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/kiranshivaraju/threadpost/internal/config"
	"github.com/kiranshivaraju/threadpost/pkg/models"
)

// XClient publishes posts through the X API v2 create-post endpoint.
type XClient struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewXClient creates a new X API client. The request timeout bounds every
// publish call, including reading the response.
func NewXClient(cfg config.XConfig) *XClient {
	return &XClient{
		endpoint: cfg.BaseURL,
		token:    cfg.BearerToken,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *XClient) Name() string { return "x" }

func (c *XClient) Ready() error {
	if !(config.XConfig{BearerToken: c.token}).Configured() {
		return &ConfigurationError{Reason: "X_BEARER_TOKEN is missing or still the placeholder value"}
	}
	return nil
}

func (c *XClient) Publish(ctx context.Context, text, replyToID string) (string, error) {
	if err := c.Ready(); err != nil {
		return "", err
	}

	body := createPostRequest{Text: text}
	if replyToID != "" {
		body.Reply = &postReply{InReplyToTweetID: replyToID}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding post: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		pe := classifyError(err)
		pe.StatusCode = resp.StatusCode
		return "", pe
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &PlatformError{StatusCode: resp.StatusCode, RawBody: truncateBody(raw)}
	}

	var out createPostResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.Data.ID == "" {
		return "", &PlatformError{
			StatusCode: resp.StatusCode,
			RawBody:    truncateBody(raw),
			Cause:      ErrInvalidResponse,
		}
	}

	return out.Data.ID, nil
}

func (c *XClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// classifyError maps transport-level errors to a PlatformError with a
// sentinel cause.
func classifyError(err error) *PlatformError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &PlatformError{Cause: fmt.Errorf("%w: %v", ErrTimeout, err)}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &PlatformError{Cause: fmt.Errorf("%w: %v", ErrTimeout, err)}
	}

	return &PlatformError{Cause: fmt.Errorf("%w: %v", ErrTransport, err)}
}

// --- X API payloads ---

type createPostRequest struct {
	Text  string     `json:"text"`
	Reply *postReply `json:"reply,omitempty"`
}

type postReply struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type createPostResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// Compile-time check that XClient implements Publisher.
var _ models.Publisher = (*XClient)(nil)
