package telephony

import (
	"net/url"
	"testing"
)

// Reference vector from the provider's request-validation documentation.
func TestComputeSignatureReferenceVector(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA1234567890ABCDE")
	form.Set("Caller", "+12349013030")
	form.Set("Digits", "1234")
	form.Set("From", "+12349013030")
	form.Set("To", "+18005551212")

	got := ComputeSignature("12345", "https://mycompany.com/myapp.php?foo=1&bar=2", form)
	want := "0/KCTR6DLpKmkAf8muzZqo1nDgQ="
	if got != want {
		t.Errorf("expected signature %q, got %q", want, got)
	}
}

func TestValidateSignature(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA1")
	form.Set("TranscriptionData", `{"transcript":"hi"}`)

	requestURL := "https://relay.example.com/transcription"
	signature := ComputeSignature("token", requestURL, form)

	if !ValidateSignature("token", requestURL, form, signature) {
		t.Error("expected matching signature to validate")
	}
	if ValidateSignature("other-token", requestURL, form, signature) {
		t.Error("expected wrong auth token to fail validation")
	}
	if ValidateSignature("token", "https://relay.example.com/other", form, signature) {
		t.Error("expected wrong URL to fail validation")
	}

	tampered := url.Values{}
	tampered.Set("CallSid", "CA2")
	tampered.Set("TranscriptionData", `{"transcript":"hi"}`)
	if ValidateSignature("token", requestURL, tampered, signature) {
		t.Error("expected tampered form to fail validation")
	}
	if ValidateSignature("token", requestURL, form, "") {
		t.Error("expected empty signature to fail validation")
	}
}
