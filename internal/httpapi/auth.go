package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Роли, которым разрешён доступ к кассовому API.
const (
	RoleAdministrator = "administrator"
	RoleShopManager   = "shop_manager"
	RoleOutletManager = "outlet_manager"
	RoleCashier       = "cashier"
)

var (
	salesRoles   = []string{RoleAdministrator, RoleShopManager, RoleOutletManager, RoleCashier}
	reportsRoles = []string{RoleAdministrator, RoleShopManager, RoleOutletManager}
)

// KnownRole сообщает, даёт ли роль доступ хотя бы к части API.
func KnownRole(role string) bool {
	for _, r := range salesRoles {
		if r == role {
			return true
		}
	}
	return false
}

var errTokenInvalid = errors.New("invalid or expired token")

// Claims — данные пользователя из токена.
type Claims struct {
	UserID string
	Roles  []string
}

// HasAnyRole проверяет пересечение ролей пользователя с разрешёнными.
func (c Claims) HasAnyRole(allowed ...string) bool {
	for _, have := range c.Roles {
		for _, want := range allowed {
			if have == want {
				return true
			}
		}
	}
	return false
}

type claimsKey struct{}

// ClaimsFromContext возвращает пользователя, прошедшего аутентификацию.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}

// Authenticator выпускает и проверяет HS256-токены кассиров.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

// NewAuthenticator создаёт проверку токенов с общим секретом.
func NewAuthenticator(secret string) (*Authenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Authenticator{secret: []byte(secret), now: time.Now}, nil
}

// Issue подписывает токен для пользователя с ролью на срок ttl.
func (a *Authenticator) Issue(userID, role string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse проверяет подпись, срок действия и извлекает роли.
// Роль передаётся строкой "role" или массивом "roles".
func (a *Authenticator) Parse(raw string) (Claims, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return Claims{}, errTokenInvalid
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, errTokenInvalid
	}

	var claims Claims
	claims.UserID, _ = mapClaims.GetSubject()
	if role, ok := mapClaims["role"].(string); ok && role != "" {
		claims.Roles = append(claims.Roles, role)
	}
	if roles, ok := mapClaims["roles"].([]any); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok && s != "" {
				claims.Roles = append(claims.Roles, s)
			}
		}
	}
	return claims, nil
}

// Require пропускает запрос только с валидным Bearer-токеном и одной из ролей:
// без токена 401, без подходящей роли 403.
func (a *Authenticator) Require(allowedRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				respondError(w, http.StatusUnauthorized, "unauthorized", "authorization header required")
				return
			}
			raw, found := strings.CutPrefix(header, "Bearer ")
			if !found || strings.TrimSpace(raw) == "" {
				respondError(w, http.StatusUnauthorized, "unauthorized", "bearer token required")
				return
			}

			claims, err := a.Parse(strings.TrimSpace(raw))
			if err != nil {
				respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			if len(allowedRoles) > 0 && !claims.HasAnyRole(allowedRoles...) {
				respondError(w, http.StatusForbidden, "forbidden", "access denied for this role")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}
