package snapshots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetVote(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/api/votes/7", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":7,"title":"Budget vote","status":"active","durationSeconds":60,"userHasActed":true}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	c.SetHeader("Authorization", "Bearer tok")

	snap, err := c.GetVote(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, 7, snap.ID)
	assert.Equal(t, "active", snap.Status)
	assert.True(t, snap.UserHasActed)
}

func TestGetVoteResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/votes/7/result", r.URL.Path)
		w.Write([]byte(`{"activityId":7,"totalVoters":12,"results":[{"optionId":1,"content":"Yes","count":8,"percent":66.7}]}`))
	}))
	defer server.Close()

	res, err := NewClient(server.URL).GetVoteResult(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 12, res.TotalVoters)
	require.Len(t, res.Results, 1)
	assert.Equal(t, 8, res.Results[0].Count)
}

func TestListActiveVotes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rooms/meeting-1/votes", r.URL.Path)
		w.Write([]byte(`[{"id":7,"status":"active"},{"id":8,"status":"draft"}]`))
	}))
	defer server.Close()

	snaps, err := NewClient(server.URL).ListActiveVotes(context.Background(), "meeting-1")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 8, snaps[1].ID)
}

func TestListActiveDraws(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rooms/meeting-1/draws", r.URL.Path)
		w.Write([]byte(`[{"activityId":3,"title":"Year-end draw"}]`))
	}))
	defer server.Close()

	draws, err := NewClient(server.URL).ListActiveDraws(context.Background(), "meeting-1")
	require.NoError(t, err)
	require.Len(t, draws, 1)
	assert.Equal(t, 3, draws[0].ActivityID)
	assert.Equal(t, "Year-end draw", draws[0].Title)
}

func TestGetRoundState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/draws/3/round", r.URL.Path)
		w.Write([]byte(`{"roundId":"r1","status":"idle","participantCount":5}`))
	}))
	defer server.Close()

	state, err := NewClient(server.URL).GetRoundState(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "r1", state.RoundID)
	assert.Equal(t, 5, state.ParticipantCount)
}

func TestGet_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewClient(server.URL).GetVote(context.Background(), 99)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
