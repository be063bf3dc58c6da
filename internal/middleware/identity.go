package middleware

// identity.go exposes the caller that JWTAuth placed in the Echo context.

import (
    "strconv"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/caregiver-booking/internal/model"
)

// Actor returns the authenticated caller.  ok is false on routes that did
// not run JWTAuth.
func Actor(c echo.Context) (model.Actor, bool) {
    id, ok := c.Get(ctxUserID).(uint64)
    if !ok {
        return model.Actor{}, false
    }
    role, _ := c.Get(ctxRole).(model.Role)
    return model.Actor{ID: id, Role: role}, true
}

// userKey identifies the caller for rate limiting; anonymous callers share
// "anon" and are told apart by IP.
func userKey(c echo.Context) string {
    if a, ok := Actor(c); ok {
        return strconv.FormatUint(a.ID, 10)
    }
    return "anon"
}
