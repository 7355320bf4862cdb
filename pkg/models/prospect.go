package models

import (
	"time"

	"github.com/google/uuid"
)

// Stage represents where a prospect sits in the qualification funnel.
type Stage string

const (
	StageNew         Stage = "NEW"
	StageConsulting  Stage = "CONSULTING"
	StageFollowUp    Stage = "FOLLOW_UP"
	StageQualified   Stage = "QUALIFIED"
	StageMeasurement Stage = "MEASUREMENT"
	StageEstimate    Stage = "ESTIMATE"
	StageContract    Stage = "CONTRACT"
	StageWon         Stage = "WON"
	StageLost        Stage = "LOST"
	StageSpam        Stage = "SPAM"
)

// IsValid reports whether s is a recognized funnel stage.
func (s Stage) IsValid() bool {
	switch s {
	case StageNew, StageConsulting, StageFollowUp, StageQualified,
		StageMeasurement, StageEstimate, StageContract, StageWon,
		StageLost, StageSpam:
		return true
	}
	return false
}

// Qualification represents the AI's assessment of a prospect.
type Qualification string

const (
	QualificationInProgress    Qualification = "in_progress"
	QualificationQualified     Qualification = "qualified"
	QualificationNotInterested Qualification = "not_interested"
	QualificationHandoff       Qualification = "handoff_required"
)

// ReadinessGrade is an optional A/B/C buying-readiness grade emitted by the model.
type ReadinessGrade string

const (
	GradeA ReadinessGrade = "A"
	GradeB ReadinessGrade = "B"
	GradeC ReadinessGrade = "C"
)

// IsValid reports whether g is a recognized readiness grade.
func (g ReadinessGrade) IsValid() bool {
	return g == GradeA || g == GradeB || g == GradeC
}

// Prospect source channels.
const (
	SourceBot       = "bot"       // direct bot-credential channel
	SourceHumanlike = "humanlike" // per-tenant human-like session channel
	SourceManual    = "manual"    // created by an operator, no channel identity yet
)

// Prospect is a tenant-scoped potential client being qualified through
// conversation. (tenant_id, channel_user_id) is unique when the channel
// identity is present; manually created prospects may not have one.
type Prospect struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`

	// Channel identity. Nil for manually created prospects.
	ChannelUserID *int64  `json:"channel_user_id,omitempty"`
	Username      *string `json:"username,omitempty"`

	FullName string `json:"full_name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Source   string `json:"source"`

	Stage         Stage           `json:"stage"`
	Qualification Qualification   `json:"qualification"`
	Readiness     *ReadinessGrade `json:"readiness,omitempty"`

	// ExtractedFacts is the raw serialized fact map from the latest turn.
	ExtractedFacts string `json:"extracted_facts,omitempty"`

	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	UnreadCount    int        `json:"unread_count"`
	FollowUpCount  int        `json:"followup_count"`
	LastFollowUpAt *time.Time `json:"last_followup_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EligibleForFollowUp reports whether the prospect's stage still allows
// re-engagement nudges. Further-progressed stages mean the deal is moving
// and must not be nagged.
func (p *Prospect) EligibleForFollowUp() bool {
	switch p.Stage {
	case StageNew, StageConsulting, StageFollowUp:
		return true
	}
	return false
}
