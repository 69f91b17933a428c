package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
	"github.com/sawpanic/postlaunch/internal/persistence"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBodyBytes     = 4 << 10
)

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	credential, ok := bearer(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, string(launch.KindAuthentication), "missing bearer credential", nil)
		return
	}

	var body SubmitRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "body must be {\"post_id\": \"...\"}", nil)
		return
	}
	postID := strings.TrimSpace(body.PostID)
	if postID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "post_id is required", nil)
		return
	}

	ctx, cancel := s.launchContext(r)
	defer cancel()
	rec, err := s.deps.Launcher.SubmitLaunch(ctx, credential, postID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, LaunchResponse{RequestID: requestID(r), Launch: rec})
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	credential, ok := bearer(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, string(launch.KindAuthentication), "missing bearer credential", nil)
		return
	}

	ctx, cancel := s.launchContext(r)
	defer cancel()
	rec, err := s.deps.Launcher.ResumeLaunch(ctx, credential, mux.Vars(r)["postId"])
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LaunchResponse{RequestID: requestID(r), Launch: rec})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), defaultListLimit)
	if err != nil || limit <= 0 || limit > maxListLimit {
		writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and "+strconv.Itoa(maxListLimit), nil)
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_offset", "offset must be a non-negative integer", nil)
		return
	}

	recs, err := s.deps.Records.List(r.Context(), persistence.ListFilter{
		AgentID: q.Get("agent_id"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Ledger list failed")
		writeError(w, r, http.StatusInternalServerError, string(launch.KindLedger), "ledger unavailable", nil)
		return
	}
	if recs == nil {
		recs = []launch.Record{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Launches: recs, Count: len(recs), Limit: limit, Offset: offset})
}

func (s *Server) show(w http.ResponseWriter, r *http.Request) {
	assetID := mux.Vars(r)["assetId"]
	rec, err := s.deps.Records.ByAsset(r.Context(), assetID)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "launch_not_found", "no launch for asset "+assetID, nil)
	case err != nil:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("asset_id", assetID).Msg("Ledger lookup failed")
		writeError(w, r, http.StatusInternalServerError, string(launch.KindLedger), "ledger unavailable", nil)
	default:
		writeJSON(w, http.StatusOK, LaunchResponse{RequestID: requestID(r), Launch: rec})
	}
}

// launchContext keeps the run alive past a client disconnect, bounded by
// LaunchTimeout
func (s *Server) launchContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), s.config.LaunchTimeout)
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// StatusFor maps a failure kind to its HTTP status
func StatusFor(kind launch.Kind) int {
	switch kind {
	case launch.KindAuthentication:
		return http.StatusUnauthorized
	case launch.KindOwnershipMismatch:
		return http.StatusForbidden
	case launch.KindNotFound:
		return http.StatusNotFound
	case launch.KindTriggerMissing, launch.KindParse, launch.KindValidation:
		return http.StatusUnprocessableEntity
	case launch.KindDuplicateSymbol, launch.KindDuplicatePost, launch.KindInProgress, launch.KindResumeUnavailable:
		return http.StatusConflict
	case launch.KindRateLimited:
		return http.StatusTooManyRequests
	case launch.KindPlatform, launch.KindUpload, launch.KindCreation, launch.KindBroadcast:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var f *launch.Failure
	if !errors.As(err, &f) {
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, r, http.StatusGatewayTimeout, "launch_timeout", "launch did not finish in time", nil)
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Unclassified launch error")
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error(), nil)
		return
	}

	status := StatusFor(f.Kind)
	if f.Kind == launch.KindRateLimited && f.CooldownDays > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(f.CooldownDays*24*60*60))
	}
	writeError(w, r, status, string(f.Kind), f.Error(), f)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, f *launch.Failure) {
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID(r),
		Timestamp: time.Now().UTC(),
		Failure:   f,
	})
}
