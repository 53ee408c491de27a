package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"tasktracker/domain"
	"tasktracker/service"
)

const actorContextKey = "tasktracker.actor"

// GzipRequestMiddleware inflates request bodies sent with
// Content-Encoding: gzip. A body that is not valid gzip is rejected with 400.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}
			body, err := inflate(req.Body)
			if err != nil {
				return respondStatus(c, http.StatusBadRequest, "decode_body", codeBadRequest, "invalid gzip body")
			}
			req.Body = body
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

// inflate wraps raw in a gzip reader. raw is closed when the header is bad.
func inflate(raw io.ReadCloser) (*inflatedBody, error) {
	zr, err := gzip.NewReader(raw)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &inflatedBody{zr: zr, raw: raw}, nil
}

// inflatedBody reads decompressed bytes and closes both readers.
type inflatedBody struct {
	zr  *gzip.Reader
	raw io.Closer
}

func (b *inflatedBody) Read(p []byte) (int, error) {
	if b.zr == nil {
		return 0, io.EOF
	}
	return b.zr.Read(p)
}

func (b *inflatedBody) Close() error {
	var err error
	if b.zr != nil {
		err = b.zr.Close()
	}
	if b.raw != nil {
		if cerr := b.raw.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Authenticate validates the bearer token, resolves the acting user and
// stores it on the context. Deactivated users are rejected.
func Authenticate(auth Authenticator, users *service.UserService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m := metricsFrom(c)
			authStart := time.Now()
			id, err := auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			m.ObserveAuth(time.Since(authStart))
			if err != nil {
				return respondStatus(c, http.StatusUnauthorized, "auth", codeUnauthenticated, err.Error())
			}
			u, err := users.ResolveActor(c.Request().Context(), id)
			if err != nil {
				return respondError(c, "resolve_actor", err)
			}
			m.SetActor(u.ID)
			if !u.Active {
				return respondStatus(c, http.StatusForbidden, "auth", codeForbidden, "account is deactivated")
			}
			c.Set(actorContextKey, u.Actor())
			return next(c)
		}
	}
}

func actorFrom(c echo.Context) domain.Actor {
	a, _ := c.Get(actorContextKey).(domain.Actor)
	return a
}
