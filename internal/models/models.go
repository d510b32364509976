package models

import "time"

// User represents a user in the system
type User struct {
	ID               string    `json:"id"`
	Code             string    `json:"code"`
	Token            string    `json:"token"`
	DisplayName      *string   `json:"display_name,omitempty"`
	Email            *string   `json:"email,omitempty"`
	PhoneNumber      *string   `json:"phone_number,omitempty"`
	VideoCallContact *string   `json:"video_call_contact,omitempty"`
	PushToken        *string   `json:"push_token,omitempty"`
	PartnerID        *string   `json:"partner_id,omitempty"`
	PairKey          *string   `json:"pair_key,omitempty"`
	OneTapSOS        bool      `json:"one_tap_sos"`
	CreatedAt        time.Time `json:"created_at"`
}

// PairStatus is the lifecycle state of a pair.
type PairStatus string

const (
	PairActive   PairStatus = "active"
	PairInactive PairStatus = "inactive"
)

// Pair represents a pair of users. PairKey is derived from the two member
// IDs and is identical no matter which member computes it.
type Pair struct {
	PairKey   string     `json:"pair_key"`
	MemberA   string     `json:"member_a"`
	MemberB   string     `json:"member_b"`
	Status    PairStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// SignalKind distinguishes the two ephemeral signal types.
type SignalKind string

const (
	SignalPulse SignalKind = "pulse"
	SignalSOS   SignalKind = "sos"
)

// Signal is an ephemeral event between paired users. CorrelationID is
// client-generated and used for dedup independent of store-assigned IDs.
type Signal struct {
	ID              string            `json:"id"`
	FromUser        string            `json:"from_user"`
	ToUser          string            `json:"to_user"`
	Kind            SignalKind        `json:"kind"`
	ClientTimestamp int64             `json:"client_timestamp"`
	CorrelationID   string            `json:"correlation_id"`
	Payload         map[string]string `json:"payload,omitempty"`
}

// Presence is one user's live online state within a pair. Overwritten in
// place, never deleted.
type Presence struct {
	PairKey    string    `json:"pair_key"`
	UserID     string    `json:"user_id"`
	IsOnline   bool      `json:"is_online"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// SOSEvent is an emergency alert. Responded flips false to true once and
// never reverts.
type SOSEvent struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	PairKey   string `json:"pair_key"`
	Message   string `json:"message"`
	Responded bool   `json:"responded"`
	Timestamp int64  `json:"timestamp"`
}

// EchoAnswer is one member's answer to the day's question.
type EchoAnswer struct {
	UserID     string `json:"user_id"`
	Text       string `json:"text"`
	AnsweredAt int64  `json:"answered_at"`
}

// DailyEcho is the day's question and both answers for a pair. The document
// ID is pairKey_date; Date uses a 06:00-local day boundary.
type DailyEcho struct {
	ID         string      `json:"id"`
	PairKey    string      `json:"pair_key"`
	Date       string      `json:"date"`
	Question   string      `json:"question"`
	AnswerA    *EchoAnswer `json:"answer_a,omitempty"`
	AnswerB    *EchoAnswer `json:"answer_b,omitempty"`
	RevealTime int64       `json:"reveal_time"`
	IsRevealed bool        `json:"is_revealed"`
	CreatedAt  int64       `json:"created_at"`
}

// Mood is a user's mood entry for a pair. The newest entry wins.
type Mood struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	PairKey   string `json:"pair_key"`
	Mood      string `json:"mood"`
	Note      string `json:"note,omitempty"`
	CreatedAt int64  `json:"created_at"`
}
