package middleware // reusable HTTP middleware: authentication, role guard, rate limiting

import (
    "net/http"
    "strings"

    "github.com/golang-jwt/jwt/v5" // access token parsing and validation
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/caregiver-booking/internal/model"
)

// Context keys set by JWTAuth.
const (
    ctxUserID = "user_id" // uint64 subject of the token
    ctxRole   = "role"    // model.Role claim
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and stores the caller's id and role in the request context.  Tokens are
// issued by the account service with the same secret; they must be HS256,
// carry an expiry and a numeric "sub".  Handlers read the caller with
// Actor(c).
func JWTAuth(secret string) echo.MiddlewareFunc {
    parser := jwt.NewParser(
        jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
        jwt.WithExpirationRequired(),
    )
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            raw := strings.TrimPrefix(auth, "Bearer ")

            claims := jwt.MapClaims{}
            tok, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
                return []byte(secret), nil
            })
            if err != nil || !tok.Valid {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }

            // The subject is the numeric user id.  Issuers have encoded it both
            // as a JSON number and as a string.
            id, ok := subject(claims)
            if !ok {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
            }
            role, _ := claims["role"].(string)
            switch r := model.Role(strings.ToUpper(role)); r {
            case model.RoleParent, model.RoleCaregiver, model.RoleAdmin:
                c.Set(ctxUserID, id)
                c.Set(ctxRole, r)
            default:
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
            }
            return next(c)
        }
    }
}

func subject(claims jwt.MapClaims) (uint64, bool) {
    switch v := claims["sub"].(type) {
    case float64:
        if v >= 1 && v == float64(uint64(v)) {
            return uint64(v), true
        }
    case string:
        var n uint64
        for _, r := range v {
            if r < '0' || r > '9' {
                return 0, false
            }
            n = n*10 + uint64(r-'0')
        }
        return n, n > 0
    }
    return 0, false
}
