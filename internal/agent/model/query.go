package model

import "encoding/json"

// Intent is the classified purpose of a user message.
type Intent string

const (
	IntentWeatherHealth   Intent = "weather_health"
	IntentMedicalResearch Intent = "medical_research"
	IntentGeneralHealth   Intent = "general_health"
	IntentIrrelevant      Intent = "irrelevant"
	IntentError           Intent = "error"
)

// Valid reports whether i is one of the known intents.
func (i Intent) Valid() bool {
	switch i {
	case IntentWeatherHealth, IntentMedicalResearch, IntentGeneralHealth, IntentIrrelevant, IntentError:
		return true
	}
	return false
}

// ResponseType tags the parser's pre-authored reply.
type ResponseType string

const (
	ResponseRequestInfo    ResponseType = "request_info"
	ResponseHealthAdvisory ResponseType = "health_advisory"
	ResponseIrrelevant     ResponseType = "irrelevant"
	ResponseError          ResponseType = "error"
)

// Valid reports whether t is one of the known response types.
func (t ResponseType) Valid() bool {
	switch t {
	case ResponseRequestInfo, ResponseHealthAdvisory, ResponseIrrelevant, ResponseError:
		return true
	}
	return false
}

// Action names derived from RequiredActions.
const (
	ActionAskLocation         = "ask_location"
	ActionAskDates            = "ask_dates"
	ActionAskHealthCondition  = "ask_health_condition"
	ActionExplainPurpose      = "explain_purpose"
	ActionFetchWeatherData    = "fetch_weather_data"
	ActionAnalyzeHealthImpact = "analyze_health_impact"
)

// ErrorResponseText is the apology carried by the canonical error ParsedQuery.
const ErrorResponseText = "I apologize, but I encountered an error processing your request. Please try again."

type Relevance struct {
	IsRelevant bool    `json:"is_relevant"`
	Reason     *string `json:"reason"`
}

type RequiredActions struct {
	NeedsWeatherData     bool     `json:"needs_weather_data"`
	NeedsMedicalResearch bool     `json:"needs_medical_research"`
	MissingInfo          []string `json:"missing_info"`
	// Explain is set for queries outside the assistant's purpose.
	Explain bool `json:"explain_purpose,omitempty"`
}

// Actions lists the concrete steps implied by the flags. Explanatory
// queries never carry data-fetch actions.
func (r RequiredActions) Actions() []string {
	if r.Explain {
		return []string{ActionExplainPurpose}
	}
	out := []string{}
	for _, f := range r.MissingInfo {
		switch f {
		case FieldLocation:
			out = append(out, ActionAskLocation)
		case FieldDateRange:
			out = append(out, ActionAskDates)
		case FieldHealthCondition:
			out = append(out, ActionAskHealthCondition)
		}
	}
	if r.NeedsWeatherData {
		out = append(out, ActionFetchWeatherData)
	}
	if r.NeedsMedicalResearch {
		out = append(out, ActionAnalyzeHealthImpact)
	}
	return out
}

// MarshalJSON adds the derived action list next to the flags.
func (r RequiredActions) MarshalJSON() ([]byte, error) {
	type flags RequiredActions
	return json.Marshal(struct {
		flags
		Actions []string `json:"actions"`
	}{flags(r), r.Actions()})
}

// Missing reports whether field is listed in MissingInfo.
func (r RequiredActions) Missing(field string) bool {
	for _, f := range r.MissingInfo {
		if f == field {
			return true
		}
	}
	return false
}

type Response struct {
	Text string       `json:"text"`
	Type ResponseType `json:"type"`
}

// ParsedQuery is the structured reading of one user message.
type ParsedQuery struct {
	Intent          Intent          `json:"intent"`
	ExtractedInfo   ExtractedInfo   `json:"extracted_info"`
	Relevance       Relevance       `json:"relevance"`
	RequiredActions RequiredActions `json:"required_actions"`
	IsComplete      bool            `json:"is_complete"`
	CanAnswer       bool            `json:"can_answer"`
	Response        Response        `json:"response"`
}

// NewErrorParsedQuery builds the canonical error result handed to the graph
// whenever parsing fails.
func NewErrorParsedQuery(reason string) *ParsedQuery {
	r := reason
	return &ParsedQuery{
		Intent:    IntentError,
		Relevance: Relevance{IsRelevant: false, Reason: &r},
		RequiredActions: RequiredActions{
			MissingInfo: []string{},
		},
		IsComplete: false,
		CanAnswer:  false,
		Response: Response{
			Text: ErrorResponseText,
			Type: ResponseError,
		},
	}
}
