package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

var ErrUnauthenticated = errors.New("unauthenticated")
var ErrInvalidUserID = errors.New("invalid user id")

// User is the opaque identity handed to us by the external identity provider.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Provider resolves the signed-in user for a request.
type Provider interface {
	Authenticate(r *http.Request) (User, error)
}

const (
	HeaderUserID     = "X-User-Id"
	HeaderUserName   = "X-User-Name"
	HeaderUserAvatar = "X-User-Avatar"
	HeaderUserEmail  = "X-User-Email"
)

// HeaderProvider trusts identity headers set by an authenticating gateway in
// front of the service. Browsers cannot set headers on a websocket upgrade,
// so when AllowQuery is set the same fields are also read from the query
// string (user_id, user_name, user_avatar).
type HeaderProvider struct {
	AllowQuery bool
}

func (p HeaderProvider) Authenticate(r *http.Request) (User, error) {
	u := User{
		ID:          strings.TrimSpace(r.Header.Get(HeaderUserID)),
		DisplayName: strings.TrimSpace(r.Header.Get(HeaderUserName)),
		AvatarURL:   strings.TrimSpace(r.Header.Get(HeaderUserAvatar)),
		Email:       strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
	}
	if u.ID == "" && p.AllowQuery {
		q := r.URL.Query()
		u.ID = strings.TrimSpace(q.Get("user_id"))
		u.DisplayName = strings.TrimSpace(q.Get("user_name"))
		u.AvatarURL = strings.TrimSpace(q.Get("user_avatar"))
	}
	if u.ID == "" {
		return User{}, ErrUnauthenticated
	}
	if err := ValidateID(u.ID); err != nil {
		return User{}, err
	}
	u.DisplayName = norm.NFC.String(u.DisplayName)
	if u.DisplayName == "" {
		u.DisplayName = AnonymousName
	}
	return u, nil
}

// AnonymousName is shown for users whose provider profile has no name.
const AnonymousName = "Jogador Anônimo"

// ValidateID rejects ids that cannot be used as a single document path segment.
func ValidateID(id string) error {
	if id == "" || strings.ContainsAny(id, "./") {
		return ErrInvalidUserID
	}
	return nil
}

type ctxKey struct{}

func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

func FromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok
}

// Middleware authenticates every request and stores the user in its context.
// Unauthenticated requests are rejected with 401.
func Middleware(p Provider, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, err := p.Authenticate(r)
			if err != nil {
				log.Debug("authentication failed", zap.String("path", r.URL.Path), zap.Error(err))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"Unauthorized","message":"sign in required"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}
