// Package sanitize strips operator-like keys ("$where", "a.b") from request
// input before it reaches handlers.
package sanitize

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
)

func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			if req.URL.RawQuery != "" {
				if q, changed := Query(req.URL.Query()); changed {
					req.URL.RawQuery = q.Encode()
				}
			}

			if req.Body != nil && isJSON(req.Header.Get(echo.HeaderContentType)) {
				raw, err := io.ReadAll(req.Body)
				_ = req.Body.Close()
				if err != nil {
					return err
				}
				if clean, changed := JSON(raw); changed {
					raw = clean
					req.ContentLength = int64(len(raw))
				}
				req.Body = io.NopCloser(bytes.NewReader(raw))
			}
			return next(c)
		}
	}
}

func Prohibited(key string) bool {
	return strings.HasPrefix(key, "$") || strings.Contains(key, ".")
}

func Query(v url.Values) (url.Values, bool) {
	changed := false
	for k := range v {
		if Prohibited(k) {
			delete(v, k)
			changed = true
		}
	}
	return v, changed
}

// JSON returns raw untouched when it is not valid JSON; the binder reports that.
func JSON(raw []byte) ([]byte, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return raw, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return raw, false
	}
	if !strip(doc) {
		return raw, false
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return raw, false
	}
	return out, true
}

func strip(v any) bool {
	changed := false
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if Prohibited(k) {
				delete(t, k)
				changed = true
				continue
			}
			if strip(child) {
				changed = true
			}
		}
	case []any:
		for _, child := range t {
			if strip(child) {
				changed = true
			}
		}
	}
	return changed
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == echo.MIMEApplicationJSON || strings.HasSuffix(mt, "+json")
}
