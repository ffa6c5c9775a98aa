package model

import "time"

type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusClosed     TicketStatus = "closed"
)

func (s TicketStatus) IsActive() bool {
	return s == TicketStatusOpen || s == TicketStatusInProgress
}

type ReviewTicket struct {
	ID               int64        `json:"id"`
	ReviewID         int64        `json:"review_id"`
	AnalysisResultID int64        `json:"analysis_result_id"`
	Status           TicketStatus `json:"status"`
	AssigneeID       *int64       `json:"assignee_id,omitempty"`
	Priority         int          `json:"priority"`
	Notes            string       `json:"notes"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}
