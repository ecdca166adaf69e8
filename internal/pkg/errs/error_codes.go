/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both internally within the server and in communication with clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect (e.g., syntax error).
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Command gate and payload errors. These are reported silently.
const (
	// ErrInvalidInput indicates a structurally or semantically malformed event payload.
	ErrInvalidInput = 2001

	// ErrUnauthenticated indicates that no user is bound to the calling connection.
	ErrUnauthenticated = 2002

	// ErrForbidden indicates that the caller's access level is too low for the command or resource.
	ErrForbidden = 2003

	// ErrUnknownCommand indicates that the command name is not registered in the access policy.
	ErrUnknownCommand = 2004

	// ErrAuthFailed indicates that a session could not be bound to the requested user.
	ErrAuthFailed = 2005

	// ErrUnauthorized indicates a missing credential, e.g. a wrong room password or a missing token.
	ErrUnauthorized = 2006
)

// 3xxx: Business rule errors. These are explained to the caller.
const (
	// ErrNotFound indicates that the addressed room, user, team or invitation does not exist.
	ErrNotFound = 3001

	// ErrConflict indicates a duplicate room, team, user or invitation.
	ErrConflict = 3002

	// ErrInvalidOperation indicates an operation that is well-formed but never allowed, e.g. leaving the own whisper room.
	ErrInvalidOperation = 3003

	// ErrNotFollowing indicates that the caller does not follow the addressed room.
	ErrNotFollowing = 3004

	// ErrAlreadyInTeam indicates that the user already belongs to a team.
	ErrAlreadyInTeam = 3005

	// ErrAlreadyInvited indicates that an identical invitation is already pending.
	ErrAlreadyInvited = 3006

	// ErrRoomExists indicates that a room with the requested name already exists.
	ErrRoomExists = 3007

	// ErrUserExists indicates that the requested user name is already taken.
	ErrUserExists = 3008

	// ErrSessionSuperseded indicates that the connection was replaced by a login elsewhere.
	ErrSessionSuperseded = 3009
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrStorage indicates a Persistence Gateway failure.
	ErrStorage = 5001

	// ErrDeliveryFailed indicates that an outbound event could not be queued on the connection.
	ErrDeliveryFailed = 5002
)
