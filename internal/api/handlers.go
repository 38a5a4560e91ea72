package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/organ-match-server/internal/domain"
	"github.com/organ-match-server/internal/inbox"
)

// bindOptionalJSON binds a JSON body, accepting an empty one.
func bindOptionalJSON(c *gin.Context, v interface{}) error {
	err := c.ShouldBindJSON(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) handleAutoMatch(c *gin.Context) {
	var req domain.AutoMatchRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		s.badRequest(c, err)
		return
	}

	var (
		report *domain.AutoMatchReport
		err    error
	)
	if len(req.RecipientIDs) == 0 && len(req.DonorIDs) == 0 {
		report, err = s.services.AutoMatch.RunEligible(c.Request.Context(), req.IncludeFinalized)
	} else {
		report, err = s.services.AutoMatch.RunAutoMatch(c.Request.Context(), req)
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type transitionBody struct {
	NewState domain.LifecycleState `json:"new_state"`
	EventID  string                `json:"event_id"`
	Note     string                `json:"note"`
}

func (s *Server) handleTransition(c *gin.Context) {
	var body transitionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, err)
		return
	}
	if body.EventID == "" {
		body.EventID = c.GetHeader("Idempotency-Key")
	}

	outcome, err := s.services.Lifecycle.TransitionMatch(c.Request.Context(), domain.TransitionRequest{
		MatchID:  c.Param("id"),
		NewState: body.NewState,
		EventID:  body.EventID,
		Note:     body.Note,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (s *Server) handleVitalReading(c *gin.Context) {
	var reading domain.VitalReading
	if err := c.ShouldBindJSON(&reading); err != nil {
		s.badRequest(c, err)
		return
	}
	if reading.EventID == "" {
		reading.EventID = c.GetHeader("Idempotency-Key")
	}

	outcome, err := s.services.Clinical.RecordVitalReading(c.Request.Context(), c.Param("id"), reading)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (s *Server) handleSurgicalReport(c *gin.Context) {
	var report domain.SurgicalReport
	if err := c.ShouldBindJSON(&report); err != nil {
		s.badRequest(c, err)
		return
	}
	if report.ID == "" {
		report.ID = c.GetHeader("Idempotency-Key")
	}

	outcome, err := s.services.Clinical.RecordSurgicalReport(c.Request.Context(), c.Param("id"), report)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, outcome)
}

func (s *Server) handleGetPriority(c *gin.Context) {
	rec, err := s.services.Priority.Priority(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleRecomputePriority(c *gin.Context) {
	rec, err := s.services.Priority.RecomputePriority(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleSaveHospital(c *gin.Context) {
	var h domain.Hospital
	if err := c.ShouldBindJSON(&h); err != nil {
		s.badRequest(c, err)
		return
	}
	h.ID = c.Param("id")
	if err := s.services.Registry.SaveHospital(c.Request.Context(), &h); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) handleSavePerson(c *gin.Context) {
	var p domain.Person
	if err := c.ShouldBindJSON(&p); err != nil {
		s.badRequest(c, err)
		return
	}
	p.ID = c.Param("id")
	if err := s.services.Registry.SavePerson(c.Request.Context(), &p); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// profileBody is the wire form of either profile variant; Role selects which one.
type profileBody struct {
	Role           domain.Role      `json:"role"`
	OrganNeeded    domain.OrganType `json:"organ_needed,omitempty"`
	OrganAvailable domain.OrganType `json:"organ_available,omitempty"`
	domain.ClinicalFacts
}

func (b *profileBody) toProfile(personID string) (domain.ClinicalProfile, error) {
	switch b.Role {
	case domain.RoleRecipient:
		return &domain.RecipientProfile{Person: personID, OrganNeeded: b.OrganNeeded, ClinicalFacts: b.ClinicalFacts}, nil
	case domain.RoleDonor:
		return &domain.DonorProfile{Person: personID, OrganAvailable: b.OrganAvailable, ClinicalFacts: b.ClinicalFacts}, nil
	default:
		return nil, domain.NewValidationError("role", "role must be recipient or donor", b.Role)
	}
}

func (s *Server) handleSaveProfile(c *gin.Context) {
	var body profileBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, err)
		return
	}
	profile, err := body.toProfile(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	priority, err := s.services.Registry.SaveProfile(c.Request.Context(), profile)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"profile":  profile,
		"priority": priority,
	})
}

func (s *Server) handleSaveSurgery(c *gin.Context) {
	var sc domain.SurgicalContext
	if err := c.ShouldBindJSON(&sc); err != nil {
		s.badRequest(c, err)
		return
	}
	sc.ID = c.Param("id")
	if err := s.services.Registry.SaveSurgicalContext(c.Request.Context(), &sc); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

func (s *Server) handleListNotifications(c *gin.Context) {
	target, err := inbox.ParseTarget(c.Query("target"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	unreadOnly, _ := strconv.ParseBool(c.DefaultQuery("unread", "false"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	if offset < 0 {
		offset = 0
	}

	ctx := c.Request.Context()
	list, err := s.opts.Inbox.List(ctx, target, unreadOnly, inbox.NormalizeLimit(limit), offset)
	if err != nil {
		s.respondError(c, err)
		return
	}
	unread, err := s.opts.Inbox.CountUnread(ctx, target)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"target":        target,
		"notifications": list,
		"unread_count":  unread,
	})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	target, err := inbox.ParseTarget(c.Query("target"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.opts.Inbox.MarkRead(c.Request.Context(), c.Param("id"), target); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
