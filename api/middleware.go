package api

import (
	"errors"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/labstack/echo/v4"

	"taskboard-api/domain"
)

// GzipRequestMiddleware inflates request bodies sent with
// Content-Encoding: gzip. A body that is not gzip is a 400 validation error.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !encodedWith(req.Header.Values(echo.HeaderContentEncoding), "gzip") {
				return next(c)
			}
			body, err := inflate(req.Body)
			if err != nil {
				return respondError(c, domain.NewValidationError("body", "Invalid gzip body"))
			}
			req.Body = body
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

// encodedWith reports whether any Content-Encoding value lists coding.
func encodedWith(values []string, coding string) bool {
	for _, v := range values {
		for _, token := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(token), coding) {
				return true
			}
		}
	}
	return false
}

// inflatedBody is only built by inflate, so both readers are always set.
type inflatedBody struct {
	zr  *gzip.Reader
	raw io.ReadCloser
}

func inflate(raw io.ReadCloser) (io.ReadCloser, error) {
	zr, err := gzip.NewReader(raw)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	return inflatedBody{zr: zr, raw: raw}, nil
}

func (b inflatedBody) Read(p []byte) (int, error) { return b.zr.Read(p) }

func (b inflatedBody) Close() error {
	return errors.Join(b.zr.Close(), b.raw.Close())
}
