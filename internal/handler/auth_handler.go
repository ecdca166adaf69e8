/*
Package handler provides HTTP handler functions for user registration and login.

Both issue the same identity token as the login event, so a terminal can authenticate
over REST and rebind its websocket with updateId.
*/
package handler

import (
	"net/http"
	"strings"

	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
	"github.com/stanislavb/roleOOC/internal/pkg/logx"
	"github.com/stanislavb/roleOOC/internal/pkg/req"
	"github.com/stanislavb/roleOOC/internal/pkg/resp"
)

type CredentialsInput struct {
	UserName string `json:"userName"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// HandleRegister creates a new user account.
func HandleRegister(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input CredentialsInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		accounts := deps.Manager.Accounts()
		user, err := accounts.Register(r.Context(), strings.ToLower(input.UserName), input.Password)
		if err != nil {
			if errs.CodeOf(err) == errs.ErrStorage {
				logx.Error(err, "register: failed to create user", "user_name", input.UserName)
			}
			resp.RespondError(w, r, errs.From(err))
			return
		}

		token, err := accounts.IssueToken(user)
		if err != nil {
			logx.Error(err, "register: token generation failed", "user_name", user.UserName)
			resp.RespondError(w, r, errs.From(err))
			return
		}

		resp.RespondSuccess(w, r, AuthResponse{Token: token, User: user})
	}
}

// HandleLogin verifies user credentials and issues a JWT token.
func HandleLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input CredentialsInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		login, err := deps.Manager.Accounts().Login(r.Context(), strings.ToLower(input.UserName), input.Password)
		if err != nil {
			logx.Warn("login: rejected", "user_name", input.UserName, "code", errs.CodeOf(err))
			resp.RespondError(w, r, errs.From(err))
			return
		}

		resp.RespondSuccess(w, r, AuthResponse{Token: login.Token, User: login.User})
	}
}
