package middleware

import (
	"net/http"
	"strings"
	"time"

	"storefront-checkout/internal/apperr"
	"storefront-checkout/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	userIDKey    = "user_id"
	roleKey      = "role"
	roleAdmin    = "admin"
	bearerSchema = "Bearer "
	tokenTTL     = 24 * time.Hour
)

// Claims are issued by the account service; this service only verifies them.
type Claims struct {
	UserID string `json:"userId"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(cfg config.Auth) *Authenticator {
	return &Authenticator{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
	}
}

// GenerateToken signs an HS256 token for userID. Used by tooling and tests.
func (a *Authenticator) GenerateToken(userID, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller's id and role on the context.
func (a *Authenticator) RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString, ok := bearerToken(c.Request())
			if !ok {
				return apperr.New(apperr.KindUnauthorized, "missing bearer token")
			}

			claims, err := a.parse(tokenString)
			if err != nil {
				return apperr.Wrap(apperr.KindUnauthorized, err, "invalid token")
			}

			c.Set(userIDKey, claims.UserID)
			c.Set(roleKey, claims.Role)
			return next(c)
		}
	}
}

// OptionalAuth identifies the caller when a bearer token is sent. A request
// without one passes through anonymously; a bad token is still rejected.
func (a *Authenticator) OptionalAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get(echo.HeaderAuthorization) == "" {
				return next(c)
			}
			return a.RequireAuth()(next)(c)
		}
	}
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if role, _ := c.Get(roleKey).(string); role != roleAdmin {
				return &apperr.Error{
					Kind:    apperr.KindUnauthorized,
					Message: "admin role required",
					Status:  http.StatusForbidden,
				}
			}
			return next(c)
		}
	}
}

// UserID returns the authenticated caller, or "" on public routes.
func UserID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get(echo.HeaderAuthorization)
	if !strings.HasPrefix(header, bearerSchema) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, bearerSchema))
	return token, token != ""
}
