package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/attend/internal/config"
	"github.com/your-org/attend/internal/ledger"
	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/internal/session"
	"github.com/your-org/attend/pkg/dto"
)

// SessionController is the session controller as used by the HTTP layer.
type SessionController interface {
	Start(ctx context.Context, opts session.Options) (*session.Session, error)
	Stop() error
	Cancel() error
	Status() session.Status
	Preview() ([]byte, error)
	Resolutions() []session.Resolution
	Resolve(ctx context.Context, resolutionID string, identityID uuid.UUID) (ledger.Result, error)
}

type SessionHandler struct {
	ctrl SessionController
}

func NewSessionHandler(ctrl SessionController) *SessionHandler {
	return &SessionHandler{ctrl: ctrl}
}

// OptionsFrom converts a start request into session options.
func OptionsFrom(req dto.StartSessionRequest) (session.Options, error) {
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		return session.Options{}, err
	}
	opts := session.Options{
		Mode:           mode,
		MultiPerson:    req.MultiPerson,
		KeepScanning:   req.KeepScanning,
		Target:         req.Target,
		RequiredFrames: req.RequiredFrames,
	}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			return session.Options{}, fmt.Errorf("invalid timeout: %w", err)
		}
		opts.Timeout = d
	}
	if req.DayParts != nil {
		sched, err := config.DayPartsConfig(*req.DayParts).Schedule()
		if err != nil {
			return session.Options{}, fmt.Errorf("invalid day parts: %w", err)
		}
		opts.DayParts = &sched
	}
	return opts, nil
}

func toSessionResponse(s *session.Session) dto.SessionResponse {
	return dto.SessionResponse{
		ID:             s.ID,
		Mode:           string(s.Mode),
		MultiPerson:    s.Options.MultiPerson,
		RequiredFrames: s.Options.RequiredFrames,
		StartedAt:      s.StartedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Start begins a session. With ?wait=true a gated session blocks until its
// outcome is known and responds with it.
func (h *SessionHandler) Start(c *gin.Context) {
	var req dto.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	opts, err := OptionsFrom(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.ctrl.Start(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}

	if s.Mode != session.ModeGated || c.Query("wait") != "true" {
		c.JSON(http.StatusAccepted, toSessionResponse(s))
		return
	}

	if err := s.Wait(c.Request.Context()); err != nil && s.Outcome() == nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session": toSessionResponse(s),
		"outcome": s.Outcome(),
	})
}

func (h *SessionHandler) Stop(c *gin.Context) {
	if err := h.ctrl.Stop(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
}

func (h *SessionHandler) Cancel(c *gin.Context) {
	if err := h.ctrl.Cancel(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

func (h *SessionHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctrl.Status())
}

// Preview serves the latest annotated frame.
func (h *SessionHandler) Preview(c *gin.Context) {
	jpeg, err := h.ctrl.Preview()
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", jpeg)
}

func toCandidates(cands []models.MatchCandidate) []dto.CandidateResponse {
	out := make([]dto.CandidateResponse, 0, len(cands))
	for _, m := range cands {
		out = append(out, dto.CandidateResponse{
			Identity: toIdentityResponse(m.Identity),
			Distance: m.Distance,
		})
	}
	return out
}

func (h *SessionHandler) ListResolutions(c *gin.Context) {
	pending := h.ctrl.Resolutions()
	resp := make([]dto.ResolutionResponse, 0, len(pending))
	for _, r := range pending {
		resp = append(resp, dto.ResolutionResponse{
			ID:         r.ID,
			SessionID:  r.SessionID,
			At:         r.At.UTC().Format(time.RFC3339Nano),
			Candidates: toCandidates(r.Candidates),
		})
	}
	c.JSON(http.StatusOK, gin.H{"resolutions": resp, "total": len(resp)})
}

// Resolve checks in the candidate a person picked for an ambiguous match.
func (h *SessionHandler) Resolve(c *gin.Context) {
	var req dto.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.ctrl.Resolve(c.Request.Context(), c.Param("id"), req.IdentityID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResultResponse(res))
}

func toResultResponse(r ledger.Result) dto.CheckInResultResponse {
	resp := dto.CheckInResultResponse{
		IdentityID:  r.IdentityID,
		Date:        r.Date.Format(time.DateOnly),
		DayPart:     r.Part.String(),
		Changed:     r.Changed,
		SnapshotKey: r.SnapshotKey,
	}
	if r.Identity != nil {
		resp.DisplayName = r.Identity.DisplayName
	}
	return resp
}
