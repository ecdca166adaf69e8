/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses, websocket error envelopes and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Command gate errors, never explained
	ErrInvalidInput:    {Code: ErrInvalidInput, Message: "Command failed.", Silent: true, Status: http.StatusBadRequest},
	ErrUnauthenticated: {Code: ErrUnauthenticated, Message: "Command failed.", Silent: true, Status: http.StatusUnauthorized},
	ErrForbidden:       {Code: ErrForbidden, Message: "Command failed.", Silent: true, Status: http.StatusForbidden},
	ErrUnknownCommand:  {Code: ErrUnknownCommand, Message: "Command failed.", Silent: true, Status: http.StatusNotFound},
	ErrAuthFailed:      {Code: ErrAuthFailed, Message: "Failed to login.", Silent: true, Status: http.StatusUnauthorized},
	ErrUnauthorized:    {Code: ErrUnauthorized, Message: "Not authorized.", Silent: true, Status: http.StatusUnauthorized},

	// 3xxx: Business rule errors
	ErrNotFound:          {Code: ErrNotFound, Message: "%s does not exist.", Status: http.StatusNotFound},
	ErrConflict:          {Code: ErrConflict, Message: "%s already exists.", Status: http.StatusConflict},
	ErrInvalidOperation:  {Code: ErrInvalidOperation, Message: "%s"},
	ErrNotFollowing:      {Code: ErrNotFollowing, Message: "You are not following %s."},
	ErrAlreadyInTeam:     {Code: ErrAlreadyInTeam, Message: "You are already a member of a team.", Status: http.StatusConflict},
	ErrAlreadyInvited:    {Code: ErrAlreadyInvited, Message: "%s has already been invited.", Status: http.StatusConflict},
	ErrRoomExists:        {Code: ErrRoomExists, Message: "Failed to create room. A room with that name already exists.", Status: http.StatusConflict},
	ErrUserExists:        {Code: ErrUserExists, Message: "User with that name already exists.", Status: http.StatusConflict},
	ErrSessionSuperseded: {Code: ErrSessionSuperseded, Message: "Your user has been logged in on another device."},

	// 5xxx: Internal System Errors
	ErrUnknown:        {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrStorage:        {Code: ErrStorage, Message: "Failed to store the change. Please try again.", Status: http.StatusInternalServerError},
	ErrDeliveryFailed: {Code: ErrDeliveryFailed, Message: "Failed to deliver the result. Please try again.", Status: http.StatusServiceUnavailable},
}

// conflictCodes groups the codes that represent a uniqueness conflict.
var conflictCodes = map[int]struct{}{
	ErrConflict:       {},
	ErrAlreadyInTeam:  {},
	ErrAlreadyInvited: {},
	ErrRoomExists:     {},
	ErrUserExists:     {},
}
