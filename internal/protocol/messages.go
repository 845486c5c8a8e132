package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType tags every wire message and drives routing at the
// transport boundary.
type MessageType string

// Inbound message types.
const (
	TypeActivitySnapshot   MessageType = "activity_snapshot"
	TypeActivityEnded      MessageType = "activity_ended"
	TypeRoundStateChange   MessageType = "round_state_change"
	TypeRoundStateSync     MessageType = "round_state_sync"
	TypeParticipantsUpdate MessageType = "participants_update"
	TypeActionError        MessageType = "action_error"
)

// Outbound message types.
const (
	TypeJoinRoom      MessageType = "join_room"
	TypeLeaveRoom     MessageType = "leave_room"
	TypeSubmitAction  MessageType = "submit_action"
	TypeLotteryAction MessageType = "lottery_action"
	TypeGetSnapshot   MessageType = "get_snapshot"
)

// Envelope is the base structure for every message on the push channel.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into an outbound envelope.
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: data}, nil
}

// OptionPayload is one choice inside a vote snapshot. Count and Percent
// are only present once a result is known.
type OptionPayload struct {
	ID        int      `json:"id"`
	Content   string   `json:"content"`
	SortOrder int      `json:"sortOrder"`
	Count     *int     `json:"count,omitempty"`
	Percent   *float64 `json:"percent,omitempty"`
}

// ActivitySnapshot is the full authoritative state of one vote,
// used both for initial load and for reconciliation after reconnect.
type ActivitySnapshot struct {
	ID               int             `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	Multiple         bool            `json:"isMultiple"`
	MaxSelections    int             `json:"maxSelections"`
	Status           string          `json:"status"`
	Options          []OptionPayload `json:"options"`
	StartedAt        *time.Time      `json:"startedAt,omitempty"`
	DurationSeconds  int             `json:"durationSeconds"`
	WaitSeconds      int             `json:"waitSeconds,omitempty"`
	RemainingSeconds *int            `json:"remainingSeconds,omitempty"`
	UserHasActed     bool            `json:"userHasActed"`
}

// ActivityEnded forces a vote to closed regardless of prior state.
type ActivityEnded struct {
	ID int `json:"id"`
}

// Participant identifies one member of a draw round.
type Participant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Department string `json:"department,omitempty"`
}

// RoundState carries the draw round lifecycle. The same shape is used
// for round_state_change and round_state_sync; the sync variant is the
// authoritative one requested after reconnect.
type RoundState struct {
	RoundID          string        `json:"roundId"`
	Status           string        `json:"status"`
	CurrentTitle     string        `json:"currentTitle"`
	CurrentCount     int           `json:"currentCount"`
	ParticipantCount int           `json:"participantCount"`
	Participants     []Participant `json:"participants,omitempty"`
	Winners          []string      `json:"winners,omitempty"`
}

// ParticipantsUpdate is a non-authoritative roster hint; a later
// round_state_sync always wins on conflict.
type ParticipantsUpdate struct {
	ParticipantCount int           `json:"participantCount"`
	Participants     []Participant `json:"participants,omitempty"`
	RemovedUserID    string        `json:"removedUserId,omitempty"`
}

// ActionError reports a server-side action failure.
type ActionError struct {
	ActivityID int    `json:"activityId,omitempty"`
	Message    string `json:"message"`
}

// VoteResultEntry is a per-option tally inside a VoteResult.
type VoteResultEntry struct {
	OptionID int     `json:"optionId"`
	Content  string  `json:"content"`
	Count    int     `json:"count"`
	Percent  float64 `json:"percent"`
}

// VoteResult is the tallied outcome of a closed (or already-acted) vote.
type VoteResult struct {
	ActivityID  int               `json:"activityId"`
	Title       string            `json:"title"`
	TotalVoters int               `json:"totalVoters"`
	Results     []VoteResultEntry `json:"results"`
}

// DrawSummary identifies one live draw in a room listing.
type DrawSummary struct {
	ActivityID int    `json:"activityId"`
	Title      string `json:"title"`
}

// JoinRoom subscribes to a room on the push channel.
type JoinRoom struct {
	RoomID string `json:"roomId"`
}

// LeaveRoom unsubscribes from a room.
type LeaveRoom struct {
	RoomID string `json:"roomId"`
}

// SubmitAction submits vote selections. The idempotency key lets the
// server and the client's own dedup logic recognize a resubmission.
type SubmitAction struct {
	ActivityID     int    `json:"activityId"`
	Selections     []int  `json:"selections"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// Lottery actions.
const (
	LotteryJoin = "join"
	LotteryQuit = "quit"
)

// LotteryAction joins or quits a draw round.
type LotteryAction struct {
	Action         string `json:"action"`
	ActivityID     int    `json:"activityId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	UserDepartment string `json:"userDepartment,omitempty"`
}

// GetSnapshot requests an authoritative snapshot over the push channel.
type GetSnapshot struct {
	ActivityID int `json:"activityId"`
}

// Decode parses an envelope's payload into its typed variant. Unknown
// message types return (nil, nil) so new server messages degrade to
// no-ops instead of errors.
func Decode(env Envelope) (any, error) {
	switch env.Type {
	case TypeActivitySnapshot:
		var p ActivitySnapshot
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return p, nil

	case TypeActivityEnded:
		var p ActivityEnded
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return p, nil

	case TypeRoundStateChange, TypeRoundStateSync:
		var p RoundState
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return p, nil

	case TypeParticipantsUpdate:
		var p ParticipantsUpdate
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return p, nil

	case TypeActionError:
		var p ActionError
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return p, nil

	default:
		return nil, nil
	}
}
