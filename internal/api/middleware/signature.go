package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"log/slog"
	"net/http"
	"sort"
)

// SignatureHeader carries the provider's HMAC over the webhook request.
const SignatureHeader = "X-Voxgate-Signature"

// ComputeSignature returns the expected signature for a webhook request:
// base64(HMAC-SHA256(secret, url + sorted form params)). For GET requests
// the payload is the full URL alone; for POST the form parameter names
// and values are appended in lexical key order.
func ComputeSignature(secret, url string, form map[string][]string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(url))

	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range form[k] {
			mac.Write([]byte(k))
			mac.Write([]byte(v))
		}
	}

	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// RequireSignature returns middleware that validates the provider's HMAC
// signature on every webhook request. The URL is reconstructed from the
// configured public base URL, since that is what the provider signed. An
// invalid or missing signature is rejected with 403 and no state changes.
func RequireSignature(secret, publicBaseURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(SignatureHeader)
			if got == "" {
				writeError(w, http.StatusForbidden, "missing webhook signature")
				return
			}

			var form map[string][]string
			if r.Method == http.MethodPost {
				if err := r.ParseForm(); err != nil {
					writeError(w, http.StatusBadRequest, "malformed form body")
					return
				}
				form = r.PostForm
			}

			url := publicBaseURL + r.URL.RequestURI()
			want := ComputeSignature(secret, url, form)

			if !hmac.Equal([]byte(got), []byte(want)) {
				slog.Warn("webhook signature rejected",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				writeError(w, http.StatusForbidden, "invalid webhook signature")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
