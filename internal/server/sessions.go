package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vayu-advisor/server/internal/agent/model"
)

// CreateSessionRequest is the profile entered at session start.
type CreateSessionRequest struct {
	Name        string                  `json:"name"`
	Conditions  []string                `json:"conditions"`
	Preferences *model.ModelPreferences `json:"preferences,omitempty"`
}

type MessageRequest struct {
	Text string `json:"text"`
}

type ProfileRequest struct {
	Name       string   `json:"name"`
	Conditions []string `json:"conditions"`
}

// SessionResponse summarizes a session.
type SessionResponse struct {
	SessionID        string                 `json:"session_id"`
	Profile          model.UserInfo         `json:"profile"`
	Messages         []MessageView          `json:"messages"`
	ExtractedInfo    model.ExtractedInfo    `json:"extracted_info"`
	ValidationStatus model.ValidationStatus `json:"validation_status"`
	Preferences      model.ModelPreferences `json:"preferences"`
	PreviousQueries  int                    `json:"previous_queries"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

type MessageView struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnResponse is returned for every user message.
type TurnResponse struct {
	Reply            string                 `json:"reply"`
	Suspended        bool                   `json:"suspended"`
	Path             []string               `json:"path"`
	ValidationStatus model.ValidationStatus `json:"validation_status"`
	ParsedQuery      *model.ParsedQuery     `json:"parsed_query,omitempty"`
}

func sessionView(s *model.AgentState) SessionResponse {
	out := SessionResponse{
		SessionID:        s.SessionID,
		Messages:         make([]MessageView, 0, len(s.Messages)),
		ValidationStatus: s.ValidationStatus,
		Preferences:      s.ModelPreferences,
		UpdatedAt:        s.UpdatedAt,
	}
	if cc := s.ConversationContext; cc != nil {
		out.Profile = cc.UserInfo
		out.ExtractedInfo = cc.ExtractedInfo
		out.PreviousQueries = len(cc.PreviousQueries)
	}
	for _, m := range s.Messages {
		if m == nil {
			continue
		}
		out.Messages = append(out.Messages, MessageView{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ListModels returns the selectable model catalog.
// GET /v1/models
func (h *Handler) ListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"selector_enabled": h.selectorEnabled,
		"defaults":         h.defaults,
		"providers": map[string][]model.CatalogEntry{
			model.ProviderIBM:    model.GraniteModels,
			model.ProviderOpenAI: model.OpenAIModels,
			model.ProviderGemini: model.GeminiModels,
		},
	})
}

// CreateSession starts a session.
// POST /v1/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	state, err := h.sessions.Create(c.Request().Context(), model.UserInfo{Name: req.Name, Conditions: req.Conditions}, req.Preferences)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusCreated, sessionView(state))
}

// GetSession returns a session summary.
// GET /v1/sessions/:id
func (h *Handler) GetSession(c echo.Context) error {
	state, err := h.sessions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, sessionView(state))
}

// DeleteSession ends a session.
// DELETE /v1/sessions/:id
func (h *Handler) DeleteSession(c echo.Context) error {
	if err := h.sessions.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return errorJSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SendMessage runs one conversation turn.
// POST /v1/sessions/:id/messages
func (h *Handler) SendMessage(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "text is required"})
	}

	res, err := h.sessions.ProcessTurn(c.Request().Context(), c.Param("id"), req.Text)
	if err != nil {
		return errorJSON(c, err)
	}
	path := make([]string, len(res.Path))
	for i, p := range res.Path {
		path[i] = string(p)
	}
	return c.JSON(http.StatusOK, TurnResponse{
		Reply:            res.Reply,
		Suspended:        res.Suspended,
		Path:             path,
		ValidationStatus: res.State.ValidationStatus,
		ParsedQuery:      res.State.ParsedQuery,
	})
}

// UpdateProfile replaces the profile.
// PUT /v1/sessions/:id/profile
func (h *Handler) UpdateProfile(c echo.Context) error {
	var req ProfileRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	state, err := h.sessions.UpdateProfile(c.Request().Context(), c.Param("id"), model.UserInfo{Name: req.Name, Conditions: req.Conditions})
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, sessionView(state))
}

// UpdatePreferences changes provider and model choices.
// PUT /v1/sessions/:id/preferences
func (h *Handler) UpdatePreferences(c echo.Context) error {
	var req model.ModelPreferences
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	state, err := h.sessions.UpdatePreferences(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, sessionView(state))
}

// ClearHistory drops the conversation, keeping the profile.
// POST /v1/sessions/:id/clear
func (h *Handler) ClearHistory(c echo.Context) error {
	state, err := h.sessions.ClearHistory(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, sessionView(state))
}

// Logout resets the session entirely.
// POST /v1/sessions/:id/logout
func (h *Handler) Logout(c echo.Context) error {
	state, err := h.sessions.Logout(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, sessionView(state))
}
