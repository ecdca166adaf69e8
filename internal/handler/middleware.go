package handler

import (
	"net/http"

	"github.com/stanislavb/roleOOC/internal/app/chat"
	"github.com/stanislavb/roleOOC/internal/pkg/auth/jwt"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
	"github.com/stanislavb/roleOOC/internal/pkg/logx"
	"github.com/stanislavb/roleOOC/internal/pkg/resp"
)

// RequireCommand lets a request through only if the user named by its token may run
// command under the access policy right now. The user record is read on every request,
// so a demotion or a ban applies to tokens issued before it.
// It must run after jwt.RequireIdentity.
func RequireCommand(manager *chat.Manager, command string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := jwt.GetPayloadFromContext(r)

			if _, err := manager.Authorize(r.Context(), identity.UserName, command); err != nil {
				logx.Warn("Request rejected by access policy", "user_name", identity.UserName, "command", command, "error", err)
				resp.RespondError(w, r, errs.From(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
