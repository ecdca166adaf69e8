package req

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanislavb/roleOOC/internal/pkg/errs"
)

type loginBody struct {
	UserName string `json:"userName"`
	Password string `json:"password"`
}

func TestBindJSON(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantCode    int
	}{
		{"valid", "application/json", `{"userName":"alice","password":"pw"}`, 0},
		{"wrong media type", "text/plain", `{}`, errs.ErrUnsupportedMediaType},
		{"syntax error", "application/json", `{"userName":`, errs.ErrInvalidJSONFormat},
		{"unknown field", "application/json", `{"nick":"a"}`, errs.ErrInvalidJSONFormat},
		{"trailing data", "application/json", `{"userName":"a"}{"x":1}`, errs.ErrExtraContentInBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", tt.contentType)

			var dst loginBody
			customErr := BindJSON(httptest.NewRecorder(), r, &dst)
			if tt.wantCode == 0 {
				require.Nil(t, customErr)
				assert.Equal(t, "alice", dst.UserName)
				return
			}
			require.NotNil(t, customErr)
			assert.Equal(t, tt.wantCode, customErr.Code)
		})
	}
}
