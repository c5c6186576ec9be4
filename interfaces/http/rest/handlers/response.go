// Package handlers adapts HTTP requests to the core services. Handlers
// decode and validate the body, take the caller from the request context
// and hand every failure to the shared error handler.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"loci/pkg/auth"
	pkgerrors "loci/pkg/errors"
	"loci/pkg/utils"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// responder is embedded by every handler.
type responder struct {
	errors *pkgerrors.ErrorHandler
	logger *zap.Logger
}

func newResponder(errHandler *pkgerrors.ErrorHandler, logger *zap.Logger) responder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if errHandler == nil {
		errHandler = pkgerrors.NewErrorHandler(logger, false)
	}
	return responder{errors: errHandler, logger: logger}
}

func (h responder) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h responder) respondError(w http.ResponseWriter, r *http.Request, err error) {
	h.errors.Handle(w, r, err)
}

// decode reads a JSON body into dst and validates it.
func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return pkgerrors.NewValidationError("request body is required")
		}
		return pkgerrors.NewValidationError("invalid request body: " + err.Error())
	}
	return utils.ValidateStruct(dst)
}

// dryRun reads the dryRun query flag.
func dryRun(r *http.Request) (bool, error) {
	raw := r.URL.Query().Get("dryRun")
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, pkgerrors.NewValidationError("dryRun must be true or false")
	}
	return v, nil
}

// principalOf is a shorthand for the caller identity.
var principalOf = auth.PrincipalFrom
