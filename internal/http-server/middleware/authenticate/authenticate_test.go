package authenticate

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"hsync/entity"
	"hsync/lib/api/cont"
)

type tokens map[string]*entity.User

func (t tokens) AuthenticateByToken(token string) (*entity.User, error) {
	if u, ok := t[token]; ok {
		return u, nil
	}
	return nil, entity.ErrNotFound
}

func serve(h http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/profiles", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth := tokens{"op-token": {Username: "op", Role: entity.RoleOperator}}

	var seen *entity.User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = cont.GetUser(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := New(log, auth)(next)

	rec := serve(h, "Bearer op-token")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "op", rec.Header().Get("X-User"))
	assert.Equal(t, entity.RoleOperator, seen.Role)

	for _, header := range []string{"", "Bearer", "Bearer ", "op-token", "Bearer wrong"} {
		rec = serve(h, header)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}

	rec = serve(New(log, nil)(next), "Bearer op-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequire(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := Require(entity.RoleOperator)(next)

	call := func(user *entity.User) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/controller", nil)
		if user != nil {
			req = req.WithContext(cont.PutUser(req.Context(), user))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call(&entity.User{Role: entity.RoleOperator}))
	assert.Equal(t, http.StatusForbidden, call(&entity.User{Role: entity.RoleReseller, ResellerId: 1}))
	assert.Equal(t, http.StatusForbidden, call(nil))
}
