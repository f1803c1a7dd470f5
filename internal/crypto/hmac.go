// Package crypto signs exchange requests and protects API secrets at rest.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// Header names for signed exchange requests.
const (
	HeaderKey        = "OK-ACCESS-KEY"
	HeaderSign       = "OK-ACCESS-SIGN"
	HeaderTimestamp  = "OK-ACCESS-TIMESTAMP"
	HeaderPassphrase = "OK-ACCESS-PASSPHRASE"
	HeaderSimulated  = "x-simulated-trading"
)

// HMACAuth holds the credentials for HMAC-authenticated exchange requests.
type HMACAuth struct {
	Key        string
	Secret     string
	Passphrase string
	Simulated  bool
}

// Headers returns the authentication headers for a request signed now.
// requestPath must include the query string for GET requests.
func (h *HMACAuth) Headers(method, requestPath, body string) map[string]string {
	return h.HeadersAt(method, requestPath, body, time.Now())
}

// HeadersAt is like Headers but signs with the supplied time.
//
// The signature is base64(HMAC-SHA256(secret, timestamp+method+path+body)).
func (h *HMACAuth) HeadersAt(method, requestPath, body string, at time.Time) map[string]string {
	ts := Timestamp(at)
	headers := map[string]string{
		HeaderKey:        h.Key,
		HeaderSign:       hmacSHA256Base64([]byte(h.Secret), ts+method+requestPath+body),
		HeaderTimestamp:  ts,
		HeaderPassphrase: h.Passphrase,
	}
	if h.Simulated {
		headers[HeaderSimulated] = "1"
	}
	return headers
}

// Timestamp formats t as ISO-8601 UTC with millisecond precision.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s, simulated=%t}", redact(h.Key), redact(h.Secret), h.Simulated)
}
