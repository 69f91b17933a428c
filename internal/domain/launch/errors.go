package launch

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a pipeline failure
type Kind string

const (
	KindAuthentication    Kind = "AuthenticationError"
	KindNotFound          Kind = "NotFoundError"
	KindOwnershipMismatch Kind = "OwnershipMismatch"
	KindTriggerMissing    Kind = "TriggerMissing"
	KindPlatform          Kind = "PlatformError"
	KindParse             Kind = "ParseError"
	KindValidation        Kind = "ValidationError"
	KindDuplicateSymbol   Kind = "DuplicateSymbolError"
	KindDuplicatePost     Kind = "DuplicatePostError"
	KindRateLimited       Kind = "RateLimitedError"
	KindInProgress        Kind = "LaunchInProgress"
	KindUpload            Kind = "UploadError"
	KindCreation          Kind = "CreationError"
	KindSigning           Kind = "SigningError"
	KindBroadcast         Kind = "BroadcastFailure"
	KindLedger            Kind = "LedgerError"
	KindResumeUnavailable Kind = "ResumeUnavailable"
)

// Sentinels for errors.Is matching on kind alone
var (
	ErrAuthentication    = &Error{Kind: KindAuthentication}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrOwnershipMismatch = &Error{Kind: KindOwnershipMismatch}
	ErrTriggerMissing    = &Error{Kind: KindTriggerMissing}
	ErrPlatform          = &Error{Kind: KindPlatform}
	ErrParse             = &Error{Kind: KindParse}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrDuplicateSymbol   = &Error{Kind: KindDuplicateSymbol}
	ErrDuplicatePost     = &Error{Kind: KindDuplicatePost}
	ErrRateLimited       = &Error{Kind: KindRateLimited}
	ErrInProgress        = &Error{Kind: KindInProgress}
	ErrUpload            = &Error{Kind: KindUpload}
	ErrCreation          = &Error{Kind: KindCreation}
	ErrSigning           = &Error{Kind: KindSigning}
	ErrBroadcast         = &Error{Kind: KindBroadcast}
	ErrLedger            = &Error{Kind: KindLedger}
	ErrResumeUnavailable = &Error{Kind: KindResumeUnavailable}
)

// Violation is a single field-level validation problem
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// Error is a classified failure raised by one pipeline component
type Error struct {
	Kind   Kind
	Detail string

	// Violations is populated for KindValidation only
	Violations []Violation
	// CooldownRemaining is populated for KindRateLimited only
	CooldownRemaining time.Duration

	Err error
}

// Errorf creates a classified error with a formatted detail
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind, keeping it as the cause
func Wrap(kind Kind, err error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// Invalid builds a ValidationError carrying every violation
func Invalid(violations []Violation) *Error {
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = v.String()
	}
	return &Error{
		Kind:       KindValidation,
		Detail:     strings.Join(parts, "; "),
		Violations: violations,
	}
}

// RateLimited builds a RateLimitedError for the remaining cooldown
func RateLimited(remaining time.Duration) *Error {
	e := &Error{Kind: KindRateLimited, CooldownRemaining: remaining}
	e.Detail = fmt.Sprintf("agent is in cooldown for %d more day(s)", e.CooldownDays())
	return e
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Detail == "" && t.Err == nil
}

// CooldownDays is the remaining cooldown rounded up to whole days
func (e *Error) CooldownDays() int {
	if e.CooldownRemaining <= 0 {
		return 0
	}
	day := 24 * time.Hour
	return int((e.CooldownRemaining + day - 1) / day)
}

// KindOf extracts the classification of err, or "" when unclassified
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// Failure is the structured error returned to callers of the pipeline. It
// names the stage that failed and, once an asset has been allocated, the
// asset id so the caller can tell a stranded asset from an early rejection.
type Failure struct {
	RunID   string `json:"run_id"`
	PostID  string `json:"post_id"`
	Stage   Stage  `json:"stage"`
	Kind    Kind   `json:"kind"`
	Detail  string `json:"detail"`
	AssetID string `json:"asset_id,omitempty"`

	Violations   []Violation `json:"violations,omitempty"`
	CooldownDays int         `json:"cooldown_days,omitempty"`
	Cause        *Error      `json:"-"`
}

// NewFailure tags a component error with the stage it came from. Errors that
// were not classified by the component are filed under fallback.
func NewFailure(runID, postID string, stage Stage, fallback Kind, err error) *Failure {
	var le *Error
	if !errors.As(err, &le) {
		le = Wrap(fallback, err, "")
	}
	f := &Failure{
		RunID:      runID,
		PostID:     postID,
		Stage:      stage,
		Kind:       le.Kind,
		Detail:     le.Error(),
		Violations: le.Violations,
		Cause:      le,
	}
	if le.Kind == KindRateLimited {
		f.CooldownDays = le.CooldownDays()
	}
	return f
}

func (f *Failure) Error() string {
	if f.AssetID != "" {
		return fmt.Sprintf("launch failed at %s (asset %s allocated): %s", f.Stage, f.AssetID, f.Detail)
	}
	return fmt.Sprintf("launch failed at %s: %s", f.Stage, f.Detail)
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

// Stranded reports whether the asset was allocated before the failure
func (f *Failure) Stranded() bool {
	return f.AssetID != ""
}
