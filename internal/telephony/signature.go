package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/url"
	"sort"
)

// ComputeSignature returns the expected X-Twilio-Signature value for a
// webhook: base64(HMAC-SHA1(authToken, url + sorted form params)).
func ComputeSignature(authToken, requestURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for key := range form {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	payload := requestURL
	for _, key := range keys {
		payload += key + form.Get(key)
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSignature checks a webhook signature in constant time.
func ValidateSignature(authToken, requestURL string, form url.Values, signature string) bool {
	expected := ComputeSignature(authToken, requestURL, form)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
