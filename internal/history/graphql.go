package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/alanyoungcy/synthex/internal/domain"
)

// maxResponse caps how much of a subgraph reply is read.
const maxResponse = 8 << 20

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlEnvelope[T any] struct {
	Data   *T             `json:"data"`
	Errors []graphqlError `json:"errors"`
}

// query posts one GraphQL operation and decodes its data field into T. HTTP
// 404/503 and the indexer's "not synced" errors wrap domain.ErrIndexNotReady.
func query[T any](ctx context.Context, c *Client, op, document string, vars map[string]any) (T, error) {
	var zero T
	payload, err := json.Marshal(graphqlRequest{Query: document, Variables: vars})
	if err != nil {
		return zero, fmt.Errorf("history: %s: encode: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(payload))
	if err != nil {
		return zero, fmt.Errorf("history: %s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zero, fmt.Errorf("history: %s: %w", op, err)
	}
	defer resp.Body.Close()
	body := io.LimitReader(resp.Body, maxResponse)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusServiceUnavailable:
		return zero, fmt.Errorf("history: %s: %w: HTTP %d", op, domain.ErrIndexNotReady, resp.StatusCode)
	default:
		snippet, _ := io.ReadAll(io.LimitReader(body, 512))
		return zero, fmt.Errorf("history: %s: HTTP %d: %s", op, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var env graphqlEnvelope[T]
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		return zero, fmt.Errorf("history: %s: decode: %w", op, err)
	}
	if len(env.Errors) > 0 {
		msgs := make([]string, len(env.Errors))
		for i, e := range env.Errors {
			msgs[i] = e.Message
		}
		msg := strings.Join(msgs, "; ")
		if notReadyMessage(msg) {
			return zero, fmt.Errorf("history: %s: %w: %s", op, domain.ErrIndexNotReady, msg)
		}
		return zero, fmt.Errorf("history: %s: graphql: %s", op, msg)
	}
	if env.Data == nil {
		return zero, fmt.Errorf("history: %s: response has no data", op)
	}
	return *env.Data, nil
}

func notReadyMessage(msg string) bool {
	m := strings.ToLower(msg)
	for _, s := range []string{"not yet synced", "has not started syncing", "indexing_error", "indexing error"} {
		if strings.Contains(m, s) {
			return true
		}
	}
	return false
}
