package handler

import (
	"net/http"
	"strings"

	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/pkg/auth/jwt"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
	"github.com/stanislavb/roleOOC/internal/pkg/logx"
	"github.com/stanislavb/roleOOC/internal/pkg/req"
	"github.com/stanislavb/roleOOC/internal/pkg/resp"
)

type ArchiveInput struct {
	ArchiveID   string   `json:"archiveId"`
	Title       string   `json:"title"`
	AccessLevel int      `json:"accessLevel"`
	Text        []string `json:"text"`
}

// HandleUploadArchive stores a new archived document. The route is restricted to administrators.
func HandleUploadArchive(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input ArchiveInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if strings.TrimSpace(input.Title) == "" || input.AccessLevel < 0 || len(input.Text) == 0 {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		identity := jwt.GetPayloadFromContext(r)

		body := []byte(strings.Join(input.Text, "\n") + "\n")
		a, err := deps.Archives.Upload(r.Context(), model.Archive{
			ArchiveID:   input.ArchiveID,
			Title:       input.Title,
			AccessLevel: input.AccessLevel,
		}, body)
		if err != nil {
			if errs.CodeOf(err) == errs.ErrStorage {
				logx.Error(err, "archive upload failed", "archive_id", input.ArchiveID, "user_name", identity.UserName)
			}
			resp.RespondError(w, r, errs.From(err))
			return
		}

		logx.Info("Archive uploaded over REST", "archive_id", a.ArchiveID, "user_name", identity.UserName)
		resp.RespondSuccess(w, r, a)
	}
}
