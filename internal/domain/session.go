package domain

import "time"

type SessionID string

type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionInactive SessionStatus = "inactive"
)

type Stage string

const (
	StageIdentity Stage = "identity"
	StageTask     Stage = "task"
)

type Session struct {
	ID           SessionID     `json:"id"`
	Name         string        `json:"name"`
	CreatedBy    string        `json:"createdBy"`
	Status       SessionStatus `json:"status"`
	CurrentStage Stage         `json:"currentStage"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    *time.Time    `json:"updatedAt,omitempty"`
	ClosedAt     *time.Time    `json:"closedAt,omitempty"`
}

func (s Session) Active() bool {
	return s.Status == SessionActive
}

type SessionMeta struct {
	Name      string
	CreatedBy string
}

type ParticipantID string

type ParticipantStatus string

const ParticipantActive ParticipantStatus = "active"

type Participant struct {
	ID        ParticipantID     `json:"id"`
	SessionID SessionID         `json:"sessionId"`
	Name      string            `json:"name"`
	Status    ParticipantStatus `json:"status"`
	JoinedAt  time.Time         `json:"joinedAt"`
}
