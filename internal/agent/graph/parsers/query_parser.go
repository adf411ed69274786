package parsers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vayu-advisor/server/internal/agent/graph/prompts"
	"github.com/vayu-advisor/server/internal/agent/model"
	"github.com/vayu-advisor/server/internal/agent/responder"
	logx "github.com/vayu-advisor/server/pkg/logger"
)

// Size limits for model output and logged snippets.
const (
	maxContentLen = 128 * 1024 // 128KB
	maxErrSnippet = 200        // limit error snippet size
)

var (
	errEmptyOutput   = errors.New("empty model output")
	errOutputTooLong = errors.New("model output too large")
	errNoJSONObject  = errors.New("no JSON object in model output")
	errUnknownIntent = errors.New("unknown intent")
)

// Responder is the model boundary used by the parser.
type Responder interface {
	Respond(ctx context.Context, req responder.Request) (string, error)
}

// QueryParser turns one user message into a normalized ParsedQuery and
// folds the result into the session's ConversationContext.
type QueryParser struct {
	responder Responder
	// Now is the clock used for the future-date rule.
	Now func() time.Time
}

func NewQueryParser(r Responder) *QueryParser {
	return &QueryParser{responder: r, Now: time.Now}
}

// Parse never fails: any problem yields the canonical error ParsedQuery.
// The query is always appended to cc.PreviousQueries.
func (p *QueryParser) Parse(ctx context.Context, query string, cc *model.ConversationContext, prefs model.ModelPreferences) *model.ParsedQuery {
	if cc == nil {
		return model.NewErrorParsedQuery("missing conversation context")
	}
	pq := p.parse(ctx, query, cc, prefs)
	record(cc, query, pq)
	return pq
}

func (p *QueryParser) parse(ctx context.Context, query string, cc *model.ConversationContext, prefs model.ModelPreferences) (pq *model.ParsedQuery) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Interface("panic", r).Msg("query parser panicked")
			pq = model.NewErrorParsedQuery(fmt.Sprintf("unexpected error: %v", r))
		}
	}()

	today := p.today()
	msgs, err := prompts.RenderParser(ctx, prompts.ParserInput{
		Query:   query,
		Context: cc,
		Today:   model.FormatISODate(today),
	})
	if err != nil {
		logx.Error().Err(err).Msg("render parser prompt")
		return model.NewErrorParsedQuery(err.Error())
	}

	raw, err := p.responder.Respond(ctx, responder.Request{Messages: msgs, Preferences: prefs})
	if err != nil {
		logx.Error().Err(err).Msg("query parser model call failed")
		return model.NewErrorParsedQuery(responder.Describe(err))
	}

	pq, err = Decode(raw)
	if err != nil {
		logx.Warn().Err(err).Str("output", snippet(raw)).Msg("invalid parser output")
		return model.NewErrorParsedQuery("Invalid response format")
	}

	Normalize(pq, cc, today)
	logx.Debug().
		Str("intent", string(pq.Intent)).
		Bool("is_complete", pq.IsComplete).
		Strs("missing_info", pq.RequiredActions.MissingInfo).
		Msg("query parsed")
	return pq
}

func (p *QueryParser) today() time.Time {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	t := now()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Decode reads a ParsedQuery from raw model text. A surrounding markdown
// code fence or leading prose is tolerated; the intent must be known.
func Decode(raw string) (*model.ParsedQuery, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errEmptyOutput
	}
	if len(s) > maxContentLen {
		return nil, errOutputTooLong
	}
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("model output invalid utf8")
	}
	s = stripFence(s)

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return nil, errNoJSONObject
	}

	var pq model.ParsedQuery
	if err := json.Unmarshal([]byte(s[start:end+1]), &pq); err != nil {
		return nil, fmt.Errorf("decode parsed query: %w", err)
	}
	if !pq.Intent.Valid() || pq.Intent == model.IntentError {
		return nil, fmt.Errorf("%w: %q", errUnknownIntent, pq.Intent)
	}
	return &pq, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line, e.g. ```json
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// Normalize enforces the ParsedQuery invariants and merges the turn's
// extraction into cc. today is the date used for the future-start rule.
func Normalize(pq *model.ParsedQuery, cc *model.ConversationContext, today time.Time) {
	if pq.Intent == model.IntentIrrelevant {
		pq.Relevance.IsRelevant = false
	}
	pq.RequiredActions.MissingInfo = canonicalFields(pq.RequiredActions.MissingInfo)
	if len(pq.RequiredActions.MissingInfo) > 0 {
		pq.IsComplete = false
	}

	Merge(&cc.ExtractedInfo, pq.ExtractedInfo, pq.RequiredActions)
	// Drop a stored range that fails the date rule; a later turn may supply a new one.
	if dr := cc.ExtractedInfo.DateRange; dr.Complete() && !usableRange(dr, today) {
		cc.ExtractedInfo.DateRange = nil
	}

	if !pq.Relevance.IsRelevant {
		markIrrelevant(pq)
		return
	}

	if pq.IsComplete {
		missing := checkComplete(cc, today)
		if len(missing) > 0 {
			pq.IsComplete = false
			pq.RequiredActions.MissingInfo = canonicalFields(append(pq.RequiredActions.MissingInfo, missing...))
			// The model's acknowledgement no longer matches the outcome.
			pq.Response.Text = ""
		}
	}

	if pq.IsComplete {
		pq.RequiredActions.NeedsWeatherData = true
		pq.RequiredActions.NeedsMedicalResearch = true
		pq.RequiredActions.MissingInfo = []string{}
		pq.CanAnswer = true
		if pq.Response.Type != model.ResponseHealthAdvisory {
			pq.Response.Type = model.ResponseHealthAdvisory
		}
		return
	}

	pq.CanAnswer = false
	pq.Response.Type = model.ResponseRequestInfo
	if strings.TrimSpace(pq.Response.Text) == "" {
		pq.Response.Text = RequestInfoText(pq.RequiredActions.MissingInfo)
	}
}

func markIrrelevant(pq *model.ParsedQuery) {
	pq.IsComplete = false
	pq.CanAnswer = false
	pq.RequiredActions.NeedsWeatherData = false
	pq.RequiredActions.NeedsMedicalResearch = false
	pq.RequiredActions.MissingInfo = []string{}
	pq.RequiredActions.Explain = true
	pq.Response.Type = model.ResponseIrrelevant
	if strings.TrimSpace(pq.Response.Text) == "" {
		pq.Response.Text = PurposeText
	}
}

// PurposeText explains what the assistant can help with.
const PurposeText = "I can help you plan travel around your respiratory health: tell me where you're going, when, and any conditions you have, and I'll check the weather, air quality and medical research for you."

// Merge folds a turn's extraction into the accumulated info. A field is
// overwritten only with a non-empty value the parser did not flag as
// missing. A date range is replaced only by a valid one, and never when the
// current range is already fully populated.
func Merge(dst *model.ExtractedInfo, src model.ExtractedInfo, actions model.RequiredActions) {
	if src.HasLocation() && !actions.Missing(model.FieldLocation) {
		dst.Location = model.StringPtr(strings.TrimSpace(*src.Location))
	}
	if src.HasHealthCondition() && !actions.Missing(model.FieldHealthCondition) {
		dst.HealthCondition = model.StringPtr(strings.TrimSpace(*src.HealthCondition))
	}
	if src.DateRange.Valid() && !actions.Missing(model.FieldDateRange) && !dst.DateRange.Complete() {
		dst.DateRange = &model.DateRange{
			Start: model.StringPtr(strings.TrimSpace(*src.DateRange.Start)),
			End:   model.StringPtr(strings.TrimSpace(*src.DateRange.End)),
		}
	}
}

// checkComplete verifies the merged context and returns the fields that
// fail the completeness rules.
func checkComplete(cc *model.ConversationContext, today time.Time) []string {
	var missing []string
	info := cc.ExtractedInfo
	if !info.HasLocation() {
		missing = append(missing, model.FieldLocation)
	}
	if !usableRange(info.DateRange, today) {
		missing = append(missing, model.FieldDateRange)
	}
	if !info.HasHealthCondition() && !hasProfileCondition(cc.UserInfo) {
		missing = append(missing, model.FieldHealthCondition)
	}
	return missing
}

// usableRange reports whether d holds real dates, ends no earlier than it
// starts and starts after today.
func usableRange(d *model.DateRange, today time.Time) bool {
	start, end, ok := d.Bounds()
	return ok && !end.Before(start) && start.After(today)
}

func hasProfileCondition(u model.UserInfo) bool {
	for _, c := range u.Conditions {
		if strings.TrimSpace(c) != "" {
			return true
		}
	}
	return false
}

// canonicalFields keeps known field names once, in canonical order.
func canonicalFields(in []string) []string {
	seen := make(map[string]bool, len(in))
	for _, f := range in {
		seen[strings.ToLower(strings.TrimSpace(f))] = true
	}
	out := []string{}
	for _, f := range model.KnownFields {
		if seen[f] {
			out = append(out, f)
		}
	}
	return out
}

var fieldPrompts = map[string]string{
	model.FieldLocation:        "where you are travelling",
	model.FieldDateRange:       "your travel dates (start and end, in the future)",
	model.FieldHealthCondition: "any respiratory or health conditions you have",
}

// RequestInfoText builds the clarification request for missing fields.
func RequestInfoText(missing []string) string {
	parts := make([]string, 0, len(missing))
	for _, f := range missing {
		if p, ok := fieldPrompts[f]; ok {
			parts = append(parts, p)
		}
	}
	switch len(parts) {
	case 0:
		return "Could you tell me a bit more about your trip?"
	case 1:
		return "To give you a useful advisory, could you tell me " + parts[0] + "?"
	}
	return "To give you a useful advisory, could you tell me " +
		strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1] + "?"
}

func record(cc *model.ConversationContext, query string, pq *model.ParsedQuery) {
	actions := pq.RequiredActions
	actions.MissingInfo = append([]string{}, actions.MissingInfo...)
	intent := pq.Intent

	cc.PreviousQueries = append(cc.PreviousQueries, model.QueryRecord{
		Query:           query,
		Intent:          intent,
		ExtractedInfo:   pq.ExtractedInfo.Clone(),
		RequiredActions: actions,
	})
	cc.LastIntent = &intent
	cc.LastRequiredActions = &actions
}

func snippet(s string) string {
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet] + "..."
}
