package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"classquiz/internal/domain"
	transport "classquiz/internal/transport/http"
)

// Client implements app.SessionStore against the store API served by `classquiz serve`.
type Client struct {
	baseURL string
	client  *http.Client
}

// DefaultTimeout bounds a single store call so a hung request only delays one poll.
const DefaultTimeout = 5 * time.Second

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func (c *Client) GetRoster(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	var out []domain.Participant
	err := c.do(ctx, http.MethodGet, "/api/roster"+sessionQuery(sessionID), nil, &out)
	return out, err
}

func (c *Client) AddParticipant(ctx context.Context, name, sessionID string) (domain.Participant, error) {
	var out domain.Participant
	err := c.do(ctx, http.MethodPost, "/api/roster", map[string]string{"name": name, "sessionId": sessionID}, &out)
	return out, err
}

func (c *Client) GetQuestions(ctx context.Context) ([]domain.Question, error) {
	var out []domain.Question
	err := c.do(ctx, http.MethodGet, "/api/questions", nil, &out)
	return out, err
}

func (c *Client) SaveQuestion(ctx context.Context, q domain.Question) (domain.Question, error) {
	var out domain.Question
	err := c.do(ctx, http.MethodPost, "/api/questions", q, &out)
	return out, err
}

func (c *Client) SubmitAnswer(ctx context.Context, sub domain.AnswerSubmission) (domain.SubmitResult, error) {
	var out domain.SubmitResult
	err := c.do(ctx, http.MethodPost, "/api/answers", sub, &out)
	return out, err
}

func (c *Client) GetAnswers(ctx context.Context, questionID, sessionID string) ([]domain.Answer, error) {
	var out []domain.Answer
	err := c.do(ctx, http.MethodGet, "/api/answers/"+url.PathEscape(questionID)+sessionQuery(sessionID), nil, &out)
	return out, err
}

func (c *Client) GetGameState(ctx context.Context) (domain.GameStateRecord, error) {
	var out domain.GameStateRecord
	err := c.do(ctx, http.MethodGet, "/api/state", nil, &out)
	return out, err
}

func (c *Client) SetGameState(ctx context.Context, rec domain.GameStateRecord) (domain.GameStateRecord, error) {
	var out domain.GameStateRecord
	err := c.do(ctx, http.MethodPut, "/api/state", rec, &out)
	return out, err
}

func (c *Client) ResetSession(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/session/reset", struct{}{}, nil)
}

// do sends body as JSON and decodes the envelope's data into out. Sentinel errors survive
// the round trip by their code; anything that never produced an envelope is ErrUnavailable.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrUnavailable, err)
	}
	var env envelope[json.RawMessage]
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: status %d: %s", domain.ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s: %w", endpoint, err)
		}
	}
	if env.Success {
		return nil
	}
	if sentinel := transport.ErrorFromCode(env.Code); sentinel != nil {
		if env.Error == "" || env.Error == sentinel.Error() {
			return sentinel
		}
		return fmt.Errorf("%w (%s)", sentinel, env.Error)
	}
	return fmt.Errorf("%w: status %d: %s", domain.ErrUnavailable, resp.StatusCode, env.Error)
}

func sessionQuery(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	return "?sessionId=" + url.QueryEscape(sessionID)
}
