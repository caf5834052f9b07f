package domain

// MetricType names the member statistic an achievement tracks
type MetricType string

const (
	MetricMoney    MetricType = "MONEY"
	MetricMessages MetricType = "MESSAGES"
	MetricLevels   MetricType = "LEVELS"
	MetricXP       MetricType = "XP"
)

// Valid reports whether m is one of the known metric types
func (m MetricType) Valid() bool {
	switch m {
	case MetricMoney, MetricMessages, MetricLevels, MetricXP:
		return true
	}
	return false
}

// TrackingTarget is the rule that lets an achievement progress automatically
type TrackingTarget struct {
	Type   MetricType `json:"type"`
	Target float64    `json:"target"`
}

// AchievementRecord is the persisted form of an achievement,
// stored in order under <community>.achievements
type AchievementRecord struct {
	ID                   int               `json:"id"`
	CommunityID          string            `json:"community_id"`
	Name                 string            `json:"name"`
	Description          string            `json:"description"`
	Reward               float64           `json:"reward"`
	Icon                 string            `json:"icon,omitempty"`
	TrackingTarget       *TrackingTarget   `json:"tracking_target,omitempty"`
	Completions          []CompletionEntry `json:"completions"`
	CompletionPercentage float64           `json:"completion_percentage"`
	CreatedAt            string            `json:"created_at"`
	Custom               any               `json:"custom,omitempty"`
}

// AchievementInput carries the caller-supplied fields for a new achievement
type AchievementInput struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Reward         *float64        `json:"reward"`
	Icon           string          `json:"icon,omitempty"`
	TrackingTarget *TrackingTarget `json:"tracking_target,omitempty"`
	Custom         any             `json:"custom,omitempty"`
}

// CompletionEntry records that a member completed an achievement
type CompletionEntry struct {
	AchievementID int    `json:"achievement_id"`
	Icon          string `json:"icon,omitempty"`
	CommunityID   string `json:"community_id"`
	MemberID      string `json:"member_id"`
	CompletedAt   string `json:"completed_at"`
}

// ProgressEntry is a member's current percentage towards an achievement
type ProgressEntry struct {
	AchievementID   int    `json:"achievement_id"`
	AchievementName string `json:"achievement_name"`
	Progress        int    `json:"progress"`
}

// Member identifies a community member at the service boundary
type Member struct {
	ID          string `json:"id"`
	CommunityID string `json:"community_id"`
	Bot         bool   `json:"bot"`
}

// MemberEntry is the member directory record kept under <community>.members
type MemberEntry struct {
	Bot      bool   `json:"bot"`
	JoinedAt string `json:"joined_at,omitempty"`
}

// MetricPayload carries the statistics that accompany a progress update.
// Only the field matching the metric being updated is read.
type MetricPayload struct {
	Level    *float64 `json:"level,omitempty"`
	TotalXP  *float64 `json:"total_xp,omitempty"`
	GainedXP *float64 `json:"gained_xp,omitempty"`
	Balance  *float64 `json:"balance,omitempty"`
}

// MetricUpdate pairs a metric type with its payload for batched updates
type MetricUpdate struct {
	Type    MetricType    `json:"type"`
	Payload MetricPayload `json:"payload"`
}
