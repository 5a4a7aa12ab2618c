package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/server/httpx"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
)

type ctxKey string

const userKey ctxKey = "user"

// authenticate resolves the bearer token to the stored user on every
// request, so bans take effect immediately.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			httpx.WriteServiceError(w, common.ErrorUnauthorized)
			return
		}

		user, err := a.svc.Users.Authenticate(r.Context(), strings.TrimSpace(token))
		if err != nil {
			httpx.WriteServiceError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func currentUser(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}
