package middleware

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

// ParamsKey is the echo context key under which verified webhook form
// parameters are stored for downstream handlers.
const ParamsKey = "twilio.params"

// webhookPrefix scopes signature checks to the Twilio webhook routes; the
// WebSocket call endpoints and health check are not signed.
const webhookPrefix = "/voice/twilio/"

// expectedSignature computes the signature Twilio attaches to a webhook:
// base64(HMAC-SHA1(authToken, requestURL + k1v1 + k2v2...)) with the form
// keys concatenated in sorted order.
func expectedSignature(authToken, requestURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(requestURL)
	for _, k := range keys {
		payload.WriteString(k)
		payload.WriteString(params[k])
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(payload.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func verifySignature(authToken, signature, requestURL string, params map[string]string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	want := expectedSignature(authToken, requestURL, params)
	return hmac.Equal([]byte(signature), []byte(want))
}

// TwilioAuth rejects unsigned or tampered requests on the webhook routes.
// Verified form parameters are stored on the context under ParamsKey so
// handlers do not re-read the consumed body. All other paths pass through.
func TwilioAuth(getAuthToken func() string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, webhookPrefix) {
				return next(c)
			}

			authToken := getAuthToken()
			if authToken == "" {
				return c.String(http.StatusInternalServerError, "TWILIO_AUTH_TOKEN not configured")
			}

			body, err := io.ReadAll(req.Body)
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to read request body")
			}
			form, err := url.ParseQuery(string(body))
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to parse form data")
			}
			params := make(map[string]string, len(form))
			for key, values := range form {
				if len(values) > 0 {
					params[key] = values[0]
				}
			}

			signature := req.Header.Get("X-Twilio-Signature")
			requestURL := "https://" + req.Host + req.URL.Path
			if !verifySignature(authToken, signature, requestURL, params) {
				return c.String(http.StatusUnauthorized, "Invalid Twilio signature")
			}

			c.Set(ParamsKey, params)
			return next(c)
		}
	}
}
