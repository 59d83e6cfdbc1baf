package httpapi

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

var errInvalidToken = errors.New("invalid token")

// Principal is the authenticated caller: the key owner resolved at login.
type Principal struct {
	TornID    int64
	Name      string
	FactionID int64
}

// Subject is the stable string form used as the key-cache handle.
func (p Principal) Subject() string { return strconv.FormatInt(p.TornID, 10) }

type principalKey struct{}

func contextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type warClaims struct {
	Name      string `json:"name"`
	FactionID int64  `json:"faction_id"`
	jwt.RegisteredClaims
}

// tokenIssuer signs and validates HS256 session tokens. Without a configured
// secret it generates an ephemeral one, which keeps dev runs working and
// invalidates tokens on restart.
type tokenIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

func newTokenIssuer(secret string, ttl time.Duration) *tokenIssuer {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	return &tokenIssuer{secret: key, ttl: ttl, clock: time.Now}
}

func (t *tokenIssuer) issue(p Principal) (string, time.Time, error) {
	now := t.clock().UTC()
	expiresAt := now.Add(t.ttl)
	claims := warClaims{
		Name:      p.Name,
		FactionID: p.FactionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "warchest",
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (t *tokenIssuer) validate(token string) (Principal, error) {
	var claims warClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(tk *jwt.Token) (any, error) {
		if _, ok := tk.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tk.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.clock))
	if err != nil || !parsed.Valid {
		return Principal{}, errInvalidToken
	}
	tornID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || tornID <= 0 {
		return Principal{}, errInvalidToken
	}
	return Principal{TornID: tornID, Name: claims.Name, FactionID: claims.FactionID}, nil
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		principal, err := a.tokens.validate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithPrincipal(r.Context(), principal)))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
