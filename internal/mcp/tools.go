package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/organ-match-server/internal/domain"
	"github.com/organ-match-server/internal/inbox"
)

// Tool names.
const (
	ToolRunAutoMatch         = "run_auto_match"
	ToolTransitionMatch      = "transition_match"
	ToolRecordVitalReading   = "record_vital_reading"
	ToolRecordSurgicalReport = "record_surgical_report"
	ToolRecomputePriority    = "recompute_priority"
	ToolListNotifications    = "list_notifications"
)

// AutoMatchInput are the arguments of run_auto_match.
type AutoMatchInput struct {
	RecipientIDs     []string `json:"recipient_ids,omitempty" jsonschema:"recipient profile ids to score; leave both lists empty to score every eligible profile"`
	DonorIDs         []string `json:"donor_ids,omitempty" jsonschema:"donor profile ids to score"`
	IncludeFinalized bool     `json:"include_finalized,omitempty" jsonschema:"rescore pairs whose match is already confirmed or cancelled"`
}

// TransitionInput are the arguments of transition_match.
type TransitionInput struct {
	MatchID  string `json:"match_id" jsonschema:"id of the match candidate"`
	NewState string `json:"new_state" jsonschema:"pending, confirmed or cancelled"`
	EventID  string `json:"event_id,omitempty" jsonschema:"idempotency key; a repeated id is reported as a duplicate"`
	Note     string `json:"note,omitempty" jsonschema:"free text stored with the transition"`
}

// VitalReadingInput are the arguments of record_vital_reading.
type VitalReadingInput struct {
	SurgeryID        string   `json:"surgery_id" jsonschema:"id of the surgical context"`
	EventID          string   `json:"event_id,omitempty" jsonschema:"idempotency key"`
	RecordedAt       string   `json:"recorded_at,omitempty" jsonschema:"RFC 3339 time of the measurement; defaults to now"`
	OxygenSaturation *float64 `json:"oxygen_saturation,omitempty" jsonschema:"SpO2 in percent"`
	TemperatureC     *float64 `json:"temperature_c,omitempty" jsonschema:"body temperature in degrees Celsius"`
	HeartRate        *int     `json:"heart_rate,omitempty" jsonschema:"beats per minute"`
	SystolicBP       *int     `json:"systolic_bp,omitempty" jsonschema:"systolic blood pressure in mmHg"`
	RespiratoryRate  *int     `json:"respiratory_rate,omitempty" jsonschema:"breaths per minute"`
}

// SurgicalReportInput are the arguments of record_surgical_report.
type SurgicalReportInput struct {
	SurgeryID     string `json:"surgery_id" jsonschema:"id of the surgical context"`
	ReportID      string `json:"report_id,omitempty" jsonschema:"report id, also the idempotency key"`
	ResultSummary string `json:"result_summary" jsonschema:"outcome of the surgery"`
	Complications string `json:"complications,omitempty" jsonschema:"complications observed, if any"`
	DoctorNotes   string `json:"doctor_notes,omitempty" jsonschema:"additional notes"`
}

// RecomputePriorityInput are the arguments of recompute_priority.
type RecomputePriorityInput struct {
	RecipientID string `json:"recipient_id" jsonschema:"recipient profile id"`
}

// ListNotificationsInput are the arguments of list_notifications.
type ListNotificationsInput struct {
	Target     string `json:"target" jsonschema:"addressed party as kind:id, e.g. hospital:h1"`
	UnreadOnly bool   `json:"unread_only,omitempty" jsonschema:"only list unread notifications"`
	Limit      int    `json:"limit,omitempty" jsonschema:"page size, default 50, at most 500"`
	Offset     int    `json:"offset,omitempty" jsonschema:"number of notifications to skip"`
}

// NotificationList is the result of list_notifications.
type NotificationList struct {
	Target        domain.Target          `json:"target"`
	Notifications []*domain.Notification `json:"notifications"`
	UnreadCount   int                    `json:"unread_count"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolRunAutoMatch,
		Description: "Score recipient and donor profiles pairwise and create or update match candidates",
	}, s.runAutoMatch)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolTransitionMatch,
		Description: "Move a match candidate to a new lifecycle state and notify the parties",
	}, s.transitionMatch)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolRecordVitalReading,
		Description: "Record a post-operative vital reading and adjust the recipient's priority",
	}, s.recordVitalReading)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolRecordSurgicalReport,
		Description: "Record the surgical report of a surgery and notify the parties",
	}, s.recordSurgicalReport)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolRecomputePriority,
		Description: "Recompute a recipient's priority baseline from the current profile",
	}, s.recomputePriority)

	tools := 5
	if s.inbox != nil {
		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name:        ToolListNotifications,
			Description: "List the notifications addressed to a recipient, donor or hospital",
		}, s.listNotifications)
		tools++
	}

	s.logger.WithField("tool_count", tools).Info("Registered MCP tools")
}

func (s *Server) runAutoMatch(ctx context.Context, _ *mcp.CallToolRequest, in AutoMatchInput) (*mcp.CallToolResult, any, error) {
	var (
		report *domain.AutoMatchReport
		err    error
	)
	if len(in.RecipientIDs) == 0 && len(in.DonorIDs) == 0 {
		report, err = s.services.AutoMatch.RunEligible(ctx, in.IncludeFinalized)
	} else {
		report, err = s.services.AutoMatch.RunAutoMatch(ctx, domain.AutoMatchRequest{
			RecipientIDs:     in.RecipientIDs,
			DonorIDs:         in.DonorIDs,
			IncludeFinalized: in.IncludeFinalized,
		})
	}
	return s.result(ToolRunAutoMatch, report, err)
}

func (s *Server) transitionMatch(ctx context.Context, _ *mcp.CallToolRequest, in TransitionInput) (*mcp.CallToolResult, any, error) {
	outcome, err := s.services.Lifecycle.TransitionMatch(ctx, domain.TransitionRequest{
		MatchID:  in.MatchID,
		NewState: domain.LifecycleState(in.NewState),
		EventID:  in.EventID,
		Note:     in.Note,
	})
	return s.result(ToolTransitionMatch, outcome, err)
}

func (s *Server) recordVitalReading(ctx context.Context, _ *mcp.CallToolRequest, in VitalReadingInput) (*mcp.CallToolResult, any, error) {
	recordedAt := time.Now().UTC()
	if in.RecordedAt != "" {
		parsed, err := time.Parse(time.RFC3339, in.RecordedAt)
		if err != nil {
			return s.result(ToolRecordVitalReading, nil,
				domain.NewValidationError("recorded_at", "recorded_at must be an RFC 3339 time", in.RecordedAt))
		}
		recordedAt = parsed
	}

	outcome, err := s.services.Clinical.RecordVitalReading(ctx, in.SurgeryID, domain.VitalReading{
		EventID:          in.EventID,
		RecordedAt:       recordedAt,
		OxygenSaturation: in.OxygenSaturation,
		TemperatureC:     in.TemperatureC,
		HeartRate:        in.HeartRate,
		SystolicBP:       in.SystolicBP,
		RespiratoryRate:  in.RespiratoryRate,
	})
	return s.result(ToolRecordVitalReading, outcome, err)
}

func (s *Server) recordSurgicalReport(ctx context.Context, _ *mcp.CallToolRequest, in SurgicalReportInput) (*mcp.CallToolResult, any, error) {
	outcome, err := s.services.Clinical.RecordSurgicalReport(ctx, in.SurgeryID, domain.SurgicalReport{
		ID:            in.ReportID,
		ResultSummary: in.ResultSummary,
		Complications: in.Complications,
		DoctorNotes:   in.DoctorNotes,
	})
	return s.result(ToolRecordSurgicalReport, outcome, err)
}

func (s *Server) recomputePriority(ctx context.Context, _ *mcp.CallToolRequest, in RecomputePriorityInput) (*mcp.CallToolResult, any, error) {
	rec, err := s.services.Priority.RecomputePriority(ctx, in.RecipientID)
	return s.result(ToolRecomputePriority, rec, err)
}

func (s *Server) listNotifications(ctx context.Context, _ *mcp.CallToolRequest, in ListNotificationsInput) (*mcp.CallToolResult, any, error) {
	target, err := inbox.ParseTarget(in.Target)
	if err != nil {
		return s.result(ToolListNotifications, nil, err)
	}
	offset := in.Offset
	if offset < 0 {
		offset = 0
	}

	list, err := s.inbox.List(ctx, target, in.UnreadOnly, inbox.NormalizeLimit(in.Limit), offset)
	if err != nil {
		return s.result(ToolListNotifications, nil, err)
	}
	unread, err := s.inbox.CountUnread(ctx, target)
	if err != nil {
		return s.result(ToolListNotifications, nil, err)
	}

	return s.result(ToolListNotifications, &NotificationList{
		Target:        target,
		Notifications: list,
		UnreadCount:   unread,
	}, nil)
}

// result records the call and renders v, or err, as tool content. Orchestrator errors become
// error results carrying an APIError so the client can tell them apart by code.
func (s *Server) result(tool string, v interface{}, err error) (*mcp.CallToolResult, any, error) {
	if s.metrics != nil {
		s.metrics.ToolCalled(tool, err)
	}

	if err != nil {
		code := domain.ErrorCode(err)
		message := err.Error()
		if code == domain.ErrCodeInternalServer {
			s.logger.WithFields(logrus.Fields{"tool": tool}).WithError(err).Error("Tool call failed")
			message = "internal server error"
		}
		data, marshalErr := json.Marshal(domain.NewAPIError(code, message, "", ""))
		if marshalErr != nil {
			return nil, nil, fmt.Errorf("failed to encode %s error: %w", tool, marshalErr)
		}
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil, nil
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode %s result: %w", tool, err)
	}

	s.logger.WithField("tool", tool).Debug("Tool call completed")
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
