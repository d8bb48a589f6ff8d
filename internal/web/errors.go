package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/justestif/soundshelf/internal/auth"
	"github.com/justestif/soundshelf/internal/db"
	"github.com/justestif/soundshelf/internal/ingest"
	"github.com/justestif/soundshelf/internal/quota"
	"github.com/justestif/soundshelf/internal/sharing"
	"github.com/justestif/soundshelf/internal/transcode"
)

// Error codes returned in the "code" field of error responses.
const (
	CodeInvalidInput    = "INVALID_INPUT"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeAlreadyShared   = "ALREADY_SHARED"
	CodeOwnerSelfShare  = "OWNER_SELF_SHARE"
	CodeBusy            = "BUSY"
	CodeQuotaExceeded   = "QUOTA_EXCEEDED"
	CodeTranscodeFailed = "TRANSCODE_FAILED"
	CodeInternal        = "INTERNAL_ERROR"
)

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("bad request")

type errorBody struct {
	Message    string              `json:"message"`
	Code       string              `json:"code"`
	Redemption *sharing.Redemption `json:"redemption,omitempty"`
}

// classify maps an error to its status and code.
func classify(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, ingest.ErrValidation),
		errors.Is(err, sharing.ErrInvalidRequest),
		errors.As(err, &maxBytes):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, CodeUnauthenticated
	case errors.Is(err, quota.ErrQuotaExceeded):
		return http.StatusInsufficientStorage, CodeQuotaExceeded
	case errors.Is(err, transcode.ErrBusy):
		return http.StatusTooManyRequests, CodeBusy
	case errors.Is(err, transcode.ErrTranscode):
		return http.StatusInternalServerError, CodeTranscodeFailed
	case errors.Is(err, sharing.ErrAlreadyShared):
		return http.StatusConflict, CodeAlreadyShared
	case errors.Is(err, sharing.ErrOwnerSelfShare):
		return http.StatusConflict, CodeOwnerSelfShare
	case errors.Is(err, ingest.ErrForbidden), errors.Is(err, sharing.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, ingest.ErrSongNotFound),
		errors.Is(err, sharing.ErrShareCodeNotFound),
		errors.Is(err, sharing.ErrAlbumNotFound),
		errors.Is(err, sharing.ErrSongNotFound),
		errors.Is(err, quota.ErrUserNotFound),
		errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorWith(w, r, err, nil)
}

// writeErrorWith writes err, attaching a partial redemption when there is one.
func writeErrorWith(w http.ResponseWriter, r *http.Request, err error, red *sharing.Redemption) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("code", code).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Message: err.Error(), Code: code, Redemption: red})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
