package shared

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
)

// maxHashedBodyBytes caps how much of a request body is buffered for hashing.
const maxHashedBodyBytes = 1 << 20

// RequestMeta captures the HTTP context attached to every audit record.
type RequestMeta struct {
	Method     string
	URI        string
	IP         string
	UserAgent  string
	BodySHA256 string
}

// CaptureRequestMeta reads request metadata and hashes the body. The body is
// replaced with an in-memory copy so downstream handlers can still read it.
func CaptureRequestMeta(r *http.Request) *RequestMeta {
	meta := &RequestMeta{
		Method:    r.Method,
		URI:       r.URL.RequestURI(),
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
	if r.Body != nil && r.Body != http.NoBody {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxHashedBodyBytes))
		_ = r.Body.Close()
		if err == nil {
			sum := sha256.Sum256(body)
			meta.BodySHA256 = hex.EncodeToString(sum[:])
			r.Body = io.NopCloser(bytes.NewReader(body))
		}
	}
	return meta
}
