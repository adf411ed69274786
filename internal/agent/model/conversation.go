package model

import (
	"context"
	"strings"
	"time"
)

// Field names used in missing_info and in the extracted-info merge rule.
const (
	FieldLocation        = "location"
	FieldDateRange       = "date_range"
	FieldHealthCondition = "health_condition"
)

// KnownFields lists the slot names in their canonical order.
var KnownFields = []string{FieldLocation, FieldDateRange, FieldHealthCondition}

const isoDate = "2006-01-02"

// UserInfo is the health profile captured at session start.
type UserInfo struct {
	Name       string   `json:"name"`
	Conditions []string `json:"conditions"`
}

// DateRange holds ISO calendar dates; either end may be unset.
type DateRange struct {
	Start *string `json:"start"`
	End   *string `json:"end"`
}

// Complete reports whether both ends are set.
func (d *DateRange) Complete() bool {
	return d != nil && nonEmpty(d.Start) && nonEmpty(d.End)
}

// Valid reports whether both ends are set and are real calendar dates.
func (d *DateRange) Valid() bool {
	if !d.Complete() {
		return false
	}
	_, okStart := ParseISODate(*d.Start)
	_, okEnd := ParseISODate(*d.End)
	return okStart && okEnd
}

// Bounds returns the parsed start and end dates.
func (d *DateRange) Bounds() (start, end time.Time, ok bool) {
	if !d.Complete() {
		return time.Time{}, time.Time{}, false
	}
	start, okStart := ParseISODate(*d.Start)
	end, okEnd := ParseISODate(*d.End)
	return start, end, okStart && okEnd
}

// ParseISODate parses YYYY-MM-DD, rejecting impossible dates such as 2025-02-30.
func ParseISODate(s string) (time.Time, bool) {
	t, err := time.Parse(isoDate, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FormatISODate renders t as YYYY-MM-DD.
func FormatISODate(t time.Time) string {
	return t.Format(isoDate)
}

// ExtractedInfo is the slot set filled across turns.
type ExtractedInfo struct {
	Location        *string    `json:"location"`
	DateRange       *DateRange `json:"date_range"`
	HealthCondition *string    `json:"health_condition"`
}

// HasLocation reports whether a non-blank location is present.
func (e ExtractedInfo) HasLocation() bool {
	return nonEmpty(e.Location)
}

// HasHealthCondition reports whether a non-blank condition is present.
func (e ExtractedInfo) HasHealthCondition() bool {
	return nonEmpty(e.HealthCondition)
}

// Clone returns a deep copy.
func (e ExtractedInfo) Clone() ExtractedInfo {
	out := ExtractedInfo{
		Location:        cloneString(e.Location),
		HealthCondition: cloneString(e.HealthCondition),
	}
	if e.DateRange != nil {
		out.DateRange = &DateRange{Start: cloneString(e.DateRange.Start), End: cloneString(e.DateRange.End)}
	}
	return out
}

// QueryRecord is one entry of the previous-queries log.
type QueryRecord struct {
	Query           string          `json:"query"`
	Intent          Intent          `json:"intent"`
	ExtractedInfo   ExtractedInfo   `json:"extracted_info"`
	RequiredActions RequiredActions `json:"required_actions"`
}

// ConversationContext is the multi-turn state owned by one session.
// UserInfo is set at session start and only replaced through an explicit
// profile update; PreviousQueries is append-only.
type ConversationContext struct {
	UserInfo            UserInfo         `json:"user_info"`
	PreviousQueries     []QueryRecord    `json:"previous_queries"`
	ExtractedInfo       ExtractedInfo    `json:"extracted_info"`
	LastIntent          *Intent          `json:"last_intent"`
	LastRequiredActions *RequiredActions `json:"last_required_actions"`
}

// NewConversationContext returns an empty context for the given profile.
func NewConversationContext(user UserInfo) *ConversationContext {
	if user.Conditions == nil {
		user.Conditions = []string{}
	}
	return &ConversationContext{
		UserInfo:        user,
		PreviousQueries: []QueryRecord{},
	}
}

// Reset clears the accumulated state in place. The profile survives when
// keepUser is set (clear history) and is wiped otherwise (logout).
func (c *ConversationContext) Reset(keepUser bool) {
	user := c.UserInfo
	*c = *NewConversationContext(UserInfo{})
	if keepUser {
		c.UserInfo = user
	}
}

// SessionStore persists AgentState between turns.
type SessionStore interface {
	// Load returns the stored state or errx.ErrSessionNotFound.
	Load(ctx context.Context, sessionID string) (*AgentState, error)

	// Save writes the full state, replacing the previous version.
	Save(ctx context.Context, state *AgentState) error

	// Delete removes the session.
	Delete(ctx context.Context, sessionID string) error
}

func nonEmpty(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
