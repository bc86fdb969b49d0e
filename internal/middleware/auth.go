// Package middleware содержит HTTP middleware административного API магазина.
package middleware

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iwrumi/corebotstore/internal/access"
)

type contextKey string

const adminIDKey contextKey = "adminID"

// DefaultTokenTTL: срок действия токена администратора по умолчанию.
const DefaultTokenTTL = 24 * time.Hour

var (
	// ErrInvalidToken возвращается для неподписанного, испорченного или просроченного токена.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNotAdmin возвращается, если субъект токена не входит в список администраторов.
	ErrNotAdmin = errors.New("not an admin")
)

// AdminAuth выпускает и проверяет токены администраторов (HS256, в subject Telegram ID).
type AdminAuth struct {
	secret []byte
	ttl    time.Duration
	policy *access.Policy
	now    func() time.Time
}

// NewAdminAuth создаёт AdminAuth. При пустом секрете генерируется случайный ключ,
// и выпущенные токены действуют только до перезапуска процесса.
func NewAdminAuth(secret string, ttl time.Duration, policy *access.Policy) *AdminAuth {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic("middleware: cannot generate token secret: " + err.Error())
		}
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	return &AdminAuth{
		secret: key,
		ttl:    ttl,
		policy: policy,
		now:    time.Now,
	}
}

// SetClock подменяет источник времени (для тестов).
func (a *AdminAuth) SetClock(now func() time.Time) {
	a.now = now
}

// IssueToken выпускает токен для администратора и возвращает время его истечения.
func (a *AdminAuth) IssueToken(adminID int64) (string, time.Time, error) {
	if !a.policy.IsAdmin(adminID) {
		return "", time.Time{}, ErrNotAdmin
	}

	now := a.now()
	expires := now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(adminID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// ParseToken проверяет токен и возвращает идентификатор администратора.
// Субъект повторно сверяется со списком администраторов.
func (a *AdminAuth) ParseToken(tokenString string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}

	adminID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	if !a.policy.IsAdmin(adminID) {
		return 0, ErrNotAdmin
	}
	return adminID, nil
}

// Middleware проверяет заголовок Authorization: Bearer и добавляет идентификатор администратора в контекст.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		adminID, err := a.ParseToken(strings.TrimSpace(tokenString))
		switch {
		case errors.Is(err, ErrNotAdmin):
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		case err != nil:
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), adminIDKey, adminID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminIDFromContext извлекает идентификатор администратора из контекста запроса.
func AdminIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(adminIDKey).(int64)
	return id, ok
}
