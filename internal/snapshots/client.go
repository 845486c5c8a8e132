// Package snapshots is the request/response collaborator that returns
// authoritative activity state outside the push channel: cold-start
// loads, reconciliation refetches, and result tallies. Responses may
// race push messages for the same activity; merging by status order is
// the state machines' job, not this client's.
package snapshots

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cosolive/livesync/internal/protocol"
)

// Client is a thin JSON-over-HTTP client for the activity API.
type Client struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

// NewClient creates a client for the given API base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		headers: make(map[string]string),
	}
}

// SetHeader sets a header sent with every request (auth token etc).
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetTimeout overrides the per-request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API returned status %d for %s: %s", resp.StatusCode, endpoint, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// GetVote fetches the authoritative snapshot for one vote.
func (c *Client) GetVote(ctx context.Context, activityID int) (*protocol.ActivitySnapshot, error) {
	var snap protocol.ActivitySnapshot
	if err := c.get(ctx, fmt.Sprintf("/api/votes/%d", activityID), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetVoteResult fetches the tallied result for a closed or already-acted
// vote.
func (c *Client) GetVoteResult(ctx context.Context, activityID int) (*protocol.VoteResult, error) {
	var res protocol.VoteResult
	if err := c.get(ctx, fmt.Sprintf("/api/votes/%d/result", activityID), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListActiveVotes fetches the votes currently observable in a room.
func (c *Client) ListActiveVotes(ctx context.Context, roomID string) ([]protocol.ActivitySnapshot, error) {
	var snaps []protocol.ActivitySnapshot
	if err := c.get(ctx, fmt.Sprintf("/api/rooms/%s/votes", roomID), &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// ListActiveDraws fetches the draws currently live in a room.
func (c *Client) ListActiveDraws(ctx context.Context, roomID string) ([]protocol.DrawSummary, error) {
	var draws []protocol.DrawSummary
	if err := c.get(ctx, fmt.Sprintf("/api/rooms/%s/draws", roomID), &draws); err != nil {
		return nil, err
	}
	return draws, nil
}

// GetRoundState fetches the authoritative draw round state.
func (c *Client) GetRoundState(ctx context.Context, activityID int) (*protocol.RoundState, error) {
	var state protocol.RoundState
	if err := c.get(ctx, fmt.Sprintf("/api/draws/%d/round", activityID), &state); err != nil {
		return nil, err
	}
	return &state, nil
}
