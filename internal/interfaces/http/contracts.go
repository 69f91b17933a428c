package http

import (
	"time"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
)

// SubmitRequest asks for a launch from one social post
type SubmitRequest struct {
	PostID string `json:"post_id"`
}

// LaunchResponse wraps a confirmed ledger record
type LaunchResponse struct {
	RequestID string        `json:"request_id"`
	Launch    launch.Record `json:"launch"`
}

// ListResponse is one page of ledger records, newest first
type ListResponse struct {
	Launches []launch.Record `json:"launches"`
	Count    int             `json:"count"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error     string          `json:"error"`
	Message   string          `json:"message"`
	Code      string          `json:"code"`
	RequestID string          `json:"request_id"`
	Timestamp time.Time       `json:"timestamp"`
	Failure   *launch.Failure `json:"failure,omitempty"`
}
