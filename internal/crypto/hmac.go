package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// HMACAuth holds the L2 API credentials for the Polymarket CLOB.
type HMACAuth struct {
	Key        string
	Secret     string // url-safe base64
	Passphrase string
}

// Apply sets the L2 authentication headers on h for a request issued at ts.
// The signature is HMAC-SHA256(secret, timestamp+method+path+body), url-safe
// base64 encoded.
func (a *HMACAuth) Apply(h http.Header, address, method, path, body string, ts time.Time) {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	h.Set("POLY_ADDRESS", address)
	h.Set("POLY_API_KEY", a.Key)
	h.Set("POLY_PASSPHRASE", a.Passphrase)
	h.Set("POLY_TIMESTAMP", stamp)
	h.Set("POLY_SIGNATURE", a.Sign(stamp+method+path+body))
}

// Sign returns the url-safe base64 HMAC of message.
func (a *HMACAuth) Sign(message string) string {
	mac := hmac.New(sha256.New, a.secret())
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

// secret decodes the API secret, accepting either base64 alphabet.
func (a *HMACAuth) secret() []byte {
	if b, err := base64.URLEncoding.DecodeString(a.Secret); err == nil {
		return b
	}
	if b, err := base64.StdEncoding.DecodeString(a.Secret); err == nil {
		return b
	}
	return []byte(a.Secret)
}

// String returns a redacted representation suitable for logging.
func (a *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(a.Key), redact(a.Secret))
}
