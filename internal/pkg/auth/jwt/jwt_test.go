package jwt

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateToken(&Payload{UserName: "alice", AccessLevel: 3}, secret, time.Hour)
	require.NoError(t, err)

	payload, err := ParseToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "alice", payload.UserName)
	assert.Equal(t, "alice", payload.Subject)
	assert.Equal(t, 3, payload.AccessLevel)
	assert.Equal(t, TokenIssuer, payload.Issuer)

	_, err = ParseToken(token, "other-secret")
	assert.Error(t, err)

	assert.True(t, VerifyUser(token, secret, "alice"))
	assert.False(t, VerifyUser(token, secret, "bob"))
	assert.False(t, VerifyUser("garbage", secret, "alice"))
}

func TestExpiredToken(t *testing.T) {
	token, err := GenerateToken(&Payload{UserName: "alice"}, secret, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(token, secret)
	assert.Error(t, err)
}

func TestRequireIdentity(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bob", GetPayloadFromContext(r).UserName)
		w.WriteHeader(http.StatusNoContent)
	})
	handler := IdentityExtractorMiddleware(secret)(RequireIdentity(ok))

	token, err := GenerateToken(&Payload{UserName: "bob", AccessLevel: 1}, secret, time.Hour)
	require.NoError(t, err)
	expired, err := GenerateToken(&Payload{UserName: "bob"}, secret, -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"anonymous", "", http.StatusUnauthorized},
		{"malformed header", "Token " + token, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/archives", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
