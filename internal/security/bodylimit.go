package security

import (
	"errors"
	"net/http"

	"github.com/noah-isme/backend-kasir/internal/common"
)

// BodyLimit caps request payloads. A bill with a few hundred lines stays well
// under the default megabyte.
type BodyLimit struct {
	Max int64
}

// Middleware rejects declared oversized bodies up front and truncates the rest
// with http.MaxBytesReader so decoders fail once they cross the limit.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > b.Max {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", map[string]any{"limit": b.Max})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, b.Max)
		next.ServeHTTP(w, r)
	})
}

// TooLarge reports whether err came from a body cut off by BodyLimit.
func TooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
