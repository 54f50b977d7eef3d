package service

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/cs3org/sweettooth/internal/errtypes"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type errorRes struct {
	Error  string                `json:"error"`
	Fields []errtypes.FieldError `json:"fields,omitempty"`
	Issues []string              `json:"issues,omitempty"`
}

// writeError answers with the status code matching the class of err.
// Permission errors never carry details.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := zerolog.Ctx(r.Context())

	var (
		code = http.StatusInternalServerError
		res  = errorRes{Error: "internal error"}
		vf   *errtypes.ValidationFailed
		im   *errtypes.InvalidMetadata
	)
	switch {
	case errors.As(err, &vf):
		code = http.StatusBadRequest
		res = errorRes{Error: "validation failed", Fields: vf.Fields}
	case errors.As(err, &im):
		code = http.StatusBadRequest
		res = errorRes{Error: "invalid extension data: " + im.Reason, Issues: im.Issues}
	case errtypes.IsInvalidArchive(err), errtypes.IsBadRequest(err):
		code = http.StatusBadRequest
		res = errorRes{Error: err.Error()}
	case errtypes.IsPermissionDenied(err):
		code = http.StatusForbidden
		res = errorRes{Error: "forbidden"}
		log.Debug().Err(err).Msg("permission denied")
	case errtypes.IsNotFound(err):
		code = http.StatusNotFound
		res = errorRes{Error: "not found"}
	case errtypes.IsConflict(err):
		code = http.StatusConflict
		res = errorRes{Error: err.Error()}
	default:
		log.Error().Err(err).Msg("internal error")
	}

	writeJSON(w, r, code, res)
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("error encoding response")
	}
}

func idParam(r *http.Request, name string) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 0)
	if err != nil || id == 0 {
		return 0, errtypes.NotFound(name + " " + chi.URLParam(r, name))
	}
	return uint(id), nil
}
