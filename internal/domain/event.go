package domain

import "time"

// EventType represents the kind of inbound platform event
type EventType string

const (
	EventMessage     EventType = "message"
	EventMemberJoin  EventType = "member_join"
	EventMemberLeave EventType = "member_leave"
	EventLevelUp     EventType = "level_up"
	EventXPAdd       EventType = "xp_add"
	EventBalanceAdd  EventType = "balance_add"
)

// PlatformEvent is an inbound activity notification from the chat platform
type PlatformEvent struct {
	ID          string        `json:"id,omitempty"`
	Type        EventType     `json:"type"`
	CommunityID string        `json:"community_id"`
	MemberID    string        `json:"member_id"`
	ChannelID   string        `json:"channel_id,omitempty"`
	Bot         bool          `json:"bot,omitempty"`
	Payload     MetricPayload `json:"payload"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Validate checks that the event carries the fields every handler needs
func (e *PlatformEvent) Validate() error {
	if e.Type == "" {
		return RequiredParameterMissing("type")
	}
	if e.CommunityID == "" {
		return RequiredParameterMissing("community_id")
	}
	if e.MemberID == "" {
		return RequiredParameterMissing("member_id")
	}
	switch e.Type {
	case EventMessage, EventMemberJoin, EventMemberLeave, EventLevelUp, EventXPAdd, EventBalanceAdd:
		return nil
	}
	return InvalidValue("type", "is not a known event type")
}

// Member returns the boundary member described by the event
func (e *PlatformEvent) Member() Member {
	return Member{ID: e.MemberID, CommunityID: e.CommunityID, Bot: e.Bot}
}

// Outbound achievement event names
const (
	EventAchievementProgress = "achievementProgress"
	EventAchievementComplete = "achievementComplete"
)

// ProgressEvent is emitted when a member's progress towards an achievement changes
type ProgressEvent struct {
	CommunityID string            `json:"community_id"`
	MemberID    string            `json:"member_id"`
	ChannelID   string            `json:"channel_id,omitempty"`
	Achievement AchievementRecord `json:"achievement"`
	Progress    int               `json:"progress"`
}

// CompletionEvent is emitted when a member is granted an achievement
type CompletionEvent struct {
	CommunityID string            `json:"community_id"`
	MemberID    string            `json:"member_id"`
	ChannelID   string            `json:"channel_id,omitempty"`
	Achievement AchievementRecord `json:"achievement"`
	Completion  CompletionEntry   `json:"completion"`
}

// AuditEntry is one row of the achievement event log
type AuditEntry struct {
	ID            int64     `json:"id"`
	EventType     string    `json:"event_type"`
	CommunityID   string    `json:"community_id"`
	MemberID      string    `json:"member_id"`
	AchievementID int       `json:"achievement_id"`
	Progress      int       `json:"progress"`
	Metadata      any       `json:"metadata,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
