package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/medtriage/internal/dialogue"
	"github.com/mohammad-safakhou/medtriage/internal/patient"
	"github.com/mohammad-safakhou/medtriage/internal/store"
	"github.com/mohammad-safakhou/medtriage/internal/summary"
	"github.com/mohammad-safakhou/medtriage/internal/triage"
)

// Conversation is the dialogue core as seen by the transport.
type Conversation interface {
	Respond(ctx context.Context, req dialogue.TurnRequest) (dialogue.Reply, error)
	Close(ctx context.Context, sessionID, targetLanguage string) (summary.CaseRecord, error)
	Reset(ctx context.Context, sessionID string) error
	Normalize(ctx context.Context, text string) (dialogue.Normalized, error)
}

// Assessor runs a standalone emergency assessment.
type Assessor interface {
	AssessWithGuidance(ctx context.Context, text string) triage.Assessment
}

// RecordLister reads archived case records.
type RecordLister interface {
	ListCaseRecords(ctx context.Context, sessionID string, limit int) ([]summary.CaseRecord, error)
	GetCaseRecord(ctx context.Context, id string) (summary.CaseRecord, error)
}

// Handler serves the triage API. Records may be nil when no archive is
// configured.
type Handler struct {
	Conv    Conversation
	Triage  Assessor
	Records RecordLister
	Logger  *log.Logger
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("/chat_with_guidelines", h.chat)
	g.POST("/generate_summary", h.summary)
	g.POST("/check_emergency", h.assess)
	g.POST("/triage", h.assess)
	g.POST("/translate_text", h.normalize)
	g.DELETE("/sessions/:id", h.reset)
	g.GET("/records", h.records)
	g.GET("/records/:id", h.record)
}

type chatResponse struct {
	Reply dialogue.Reply `json:"reply"`
}

func (h *Handler) chat(c echo.Context) error {
	var req dialogue.TurnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" || strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id and message are required")
	}
	reply, err := h.Conv.Respond(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, dialogue.ErrInvalidInput) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "request cancelled")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, chatResponse{Reply: reply})
}

func (h *Handler) summary(c echo.Context) error {
	var req struct {
		SessionID      string `json:"session_id"`
		TargetLanguage string `json:"target_language"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := h.Conv.Close(c.Request().Context(), req.SessionID, req.TargetLanguage)
	if err != nil {
		if errors.Is(err, patient.ErrSessionIDRequired) {
			return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

// assessRequest accepts the symptom text under any of the keys older
// clients send; symptoms may also be a list.
type assessRequest struct {
	Text        string          `json:"text"`
	Symptoms    json.RawMessage `json:"symptoms"`
	Symptom     string          `json:"symptom"`
	SymptomText string          `json:"symptom_text"`
}

func (r assessRequest) text() string {
	if t := strings.TrimSpace(r.Text); t != "" {
		return t
	}
	if len(r.Symptoms) > 0 {
		var one string
		if err := json.Unmarshal(r.Symptoms, &one); err == nil && strings.TrimSpace(one) != "" {
			return strings.TrimSpace(one)
		}
		var many []string
		if err := json.Unmarshal(r.Symptoms, &many); err == nil {
			var parts []string
			for _, m := range many {
				if m = strings.TrimSpace(m); m != "" {
					parts = append(parts, m)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, ", ")
			}
		}
	}
	if t := strings.TrimSpace(r.Symptom); t != "" {
		return t
	}
	return strings.TrimSpace(r.SymptomText)
}

func (h *Handler) assess(c echo.Context) error {
	var req assessRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	text := req.text()
	if text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text or symptoms is required")
	}
	return c.JSON(http.StatusOK, h.Triage.AssessWithGuidance(c.Request().Context(), text))
}

func (h *Handler) normalize(c echo.Context) error {
	var req struct {
		Message string `json:"message"`
		Text    string `json:"text"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	text := req.Message
	if strings.TrimSpace(text) == "" {
		text = req.Text
	}
	out, err := h.Conv.Normalize(c.Request().Context(), text)
	if err != nil {
		if errors.Is(err, dialogue.ErrEmptyText) {
			return echo.NewHTTPError(http.StatusBadRequest, "message is required")
		}
		if h.Logger != nil {
			h.Logger.Printf("translate text: %v", err)
		}
		return echo.NewHTTPError(http.StatusBadGateway, "translation unavailable")
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) reset(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	if err := h.Conv.Reset(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"session_id": id, "cleared": true})
}

func (h *Handler) records(c echo.Context) error {
	if h.Records == nil {
		return echo.NewHTTPError(http.StatusNotFound, "case archive not configured")
	}
	id := strings.TrimSpace(c.QueryParam("session_id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	recs, err := h.Records.ListCaseRecords(c.Request().Context(), id, limit)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Printf("list records: %v", err)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "could not list case records")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"records": recs})
}

func (h *Handler) record(c echo.Context) error {
	if h.Records == nil {
		return echo.NewHTTPError(http.StatusNotFound, "case archive not configured")
	}
	rec, err := h.Records.GetCaseRecord(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "case record not found")
		}
		if h.Logger != nil {
			h.Logger.Printf("get record: %v", err)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "could not load case record")
	}
	return c.JSON(http.StatusOK, rec)
}
