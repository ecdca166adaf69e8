/*
Package resp writes the JSON envelope every REST endpoint answers with.

Successful responses carry code 0 and the payload in data. Failures carry the
application error code of the errs package and its client message, with the HTTP
status taken from the error map. The chi request id is echoed so a client report can
be matched to the server log.
*/
package resp

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/stanislavb/roleOOC/internal/pkg/errs"
	"github.com/stanislavb/roleOOC/internal/pkg/logx"
)

// JSONResponse is the body of every REST response.
type JSONResponse struct {
	// Code is 0 on success, otherwise an errs code.
	Code int `json:"code"`

	Message string `json:"message"`

	// RequestID is the id assigned by the request id middleware, if any.
	RequestID string `json:"requestId,omitempty"`

	Data any `json:"data,omitempty"`
}

// RespondJSON writes payload with httpStatus.
func RespondJSON(w http.ResponseWriter, r *http.Request, httpStatus int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		logx.Error(err, "Error encoding JSON response", "http_status", httpStatus, "path", r.URL.Path)
		http.Error(w, "Error encoding JSON response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(httpStatus)
	if _, err := w.Write(response); err != nil {
		logx.Debug("Failed to write response body", "path", r.URL.Path, "error", err)
	}
}

// RespondSuccess answers 200 with data.
func RespondSuccess(w http.ResponseWriter, r *http.Request, data any) {
	RespondJSON(w, r, http.StatusOK, JSONResponse{
		Code:      0,
		Message:   "success",
		RequestID: middleware.GetReqID(r.Context()),
		Data:      data,
	})
}

// RespondError answers with customErr. A nil error is reported as ErrUnknown. Business
// rule errors that have no HTTP status of their own are sent as 422.
func RespondError(w http.ResponseWriter, r *http.Request, customErr *errs.CustomError) {
	if customErr == nil {
		customErr = errs.NewError(errs.ErrUnknown)
	}

	status := customErr.Status
	if status == 0 {
		status = http.StatusUnprocessableEntity
	}
	if status >= http.StatusInternalServerError {
		logx.Error(customErr, "Request failed", "path", r.URL.Path, "code", customErr.Code)
	}

	RespondJSON(w, r, status, JSONResponse{
		Code:      customErr.Code,
		Message:   customErr.Message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}
