package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/warden-project/warden/engine"
	"github.com/warden-project/warden/models"
)

// TicketView is the JSON shape of a ticket on the admin API, with state and
// decision rendered as labels alongside their ordinals.
type TicketView struct {
	ID                  uint            `json:"id"`
	SubjectType         string          `json:"subject_type"`
	SubjectID           uint64          `json:"subject_id"`
	State               string          `json:"state"`
	StateID             int             `json:"state_id"`
	Decision            string          `json:"decision,omitempty"`
	DecisionID          *int            `json:"decision_id,omitempty"`
	Rejected            bool            `json:"rejected"`
	Flagged             bool            `json:"flagged"`
	Reason              string          `json:"reason,omitempty"`
	Moderator           *uint64         `json:"moderator,omitempty"`
	InspectedAttributes models.AttrDiff `json:"inspected_attributes,omitempty"`
	CreatedAt           string          `json:"created_at"`
	UpdatedAt           string          `json:"updated_at"`
}

func viewTicket(t *models.Ticket) TicketView {
	v := TicketView{
		ID:                  t.ID,
		SubjectType:         t.SubjectType,
		SubjectID:           t.SubjectID,
		State:               t.State(),
		StateID:             int(t.StateID),
		Decision:            t.Decision(),
		Rejected:            t.Rejected,
		Flagged:             t.Flagged,
		Reason:              t.Reason,
		Moderator:           t.ModeratorID,
		InspectedAttributes: t.InspectedAttributes,
		CreatedAt:           t.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		UpdatedAt:           t.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
	if t.DecisionID != nil {
		ord := int(*t.DecisionID)
		v.DecisionID = &ord
	}
	return v
}

func viewTickets(ts []models.Ticket) []TicketView {
	out := make([]TicketView, len(ts))
	for i := range ts {
		out[i] = viewTicket(&ts[i])
	}
	return out
}

func queryLimit(c echo.Context) int {
	limit := 100
	if q := c.QueryParam("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	return limit
}

func (s *Server) HandleQueue(c echo.Context) error {
	ts, err := s.engine.AwaitingDecision(c.Request().Context(), queryLimit(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"tickets": viewTickets(ts)})
}

func (s *Server) HandleRejected(c echo.Context) error {
	ts, err := s.engine.FailedTickets(c.Request().Context(), queryLimit(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"tickets": viewTickets(ts)})
}

func ticketID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid ticket id")
	}
	return uint(id), nil
}

func (s *Server) HandleGetTicket(c echo.Context) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	t, err := s.engine.GetTicket(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewTicket(t))
}

type decisionRequest struct {
	// label or ordinal
	Decision  any    `json:"decision"`
	Moderator uint64 `json:"moderator"`
	Reason    string `json:"reason,omitempty"`
	// optional state override, label or ordinal (e.g. "Invalid")
	State any `json:"state,omitempty"`
}

func (s *Server) HandleDecision(c echo.Context) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req decisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Moderator == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "moderator is required")
	}

	t, err := s.engine.ApplyDecision(c.Request().Context(), id, req.Decision, req.Moderator, &engine.DecisionOptions{
		Reason: req.Reason,
		State:  req.State,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewTicket(t))
}

func (s *Server) HandleFlag(c echo.Context) error {
	return s.setFlag(c, true)
}

func (s *Server) HandleUnflag(c echo.Context) error {
	return s.setFlag(c, false)
}

func (s *Server) setFlag(c echo.Context, flagged bool) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var ferr error
	if flagged {
		ferr = s.engine.Flag(c.Request().Context(), id)
	} else {
		ferr = s.engine.Unflag(c.Request().Context(), id)
	}
	if ferr != nil {
		return ferr
	}
	t, err := s.engine.GetTicket(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewTicket(t))
}

func subjectRef(c echo.Context) (models.SubjectRef, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return models.SubjectRef{}, echo.NewHTTPError(http.StatusBadRequest, "invalid subject id")
	}
	return models.SubjectRef{Type: c.Param("type"), ID: id}, nil
}

func (s *Server) HandleSubjectStatus(c echo.Context) error {
	ref, err := subjectRef(c)
	if err != nil {
		return err
	}
	rejected, err := s.engine.FailedModeration(c.Request().Context(), ref)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"subject_type":      ref.Type,
		"subject_id":        ref.ID,
		"failed_moderation": rejected,
	})
}

type saveRequest struct {
	Previous       map[string]any `json:"previous"`
	Current        map[string]any `json:"current"`
	SkipModeration bool           `json:"skip_moderation,omitempty"`
	Reason         string         `json:"reason,omitempty"`
}

func (s *Server) HandleSubjectSave(c echo.Context) error {
	ref, err := subjectRef(c)
	if err != nil {
		return err
	}
	var req saveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	t, err := s.engine.RecordModeration(c.Request().Context(), ref, req.Previous, req.Current, &engine.SaveOptions{
		SkipModeration: req.SkipModeration,
		Reason:         req.Reason,
	})
	if err != nil {
		return err
	}
	if t == nil {
		// save needed no moderation
		return c.JSON(http.StatusOK, map[string]any{"moderated": false})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"moderated": true,
		"ticket":    viewTicket(t),
	})
}
