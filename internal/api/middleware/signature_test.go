package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

const (
	testSecret  = "whsec_test_0123456789"
	testBaseURL = "https://voice.example.com"
)

func signedForm(t *testing.T, path string, form url.Values) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(SignatureHeader, ComputeSignature(testSecret, testBaseURL+path, form))
	return req
}

func signatureHandler() http.Handler {
	return RequireSignature(testSecret, testBaseURL)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestRequireSignatureValidPost(t *testing.T) {
	form := url.Values{
		"CallSid": {"CA0001"},
		"From":    {"+447700900123"},
		"To":      {"+442071234567"},
	}
	req := signedForm(t, "/voice/inbound", form)
	rr := httptest.NewRecorder()
	signatureHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRequireSignatureValidGet(t *testing.T) {
	path := "/voice/whisper?call_sid=CA0001"
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(SignatureHeader, ComputeSignature(testSecret, testBaseURL+path, nil))

	rr := httptest.NewRecorder()
	signatureHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireSignatureMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/voice/inbound", nil)
	rr := httptest.NewRecorder()
	signatureHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRequireSignatureWrongSecret(t *testing.T) {
	form := url.Values{"CallSid": {"CA0001"}}
	req := httptest.NewRequest(http.MethodPost, "/voice/inbound", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(SignatureHeader, ComputeSignature("wrong-secret", testBaseURL+"/voice/inbound", form))

	rr := httptest.NewRecorder()
	signatureHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRequireSignatureTamperedParam(t *testing.T) {
	form := url.Values{"CallSid": {"CA0001"}, "To": {"+442071234567"}}
	sig := ComputeSignature(testSecret, testBaseURL+"/voice/inbound", form)

	// Attacker flips the destination number after signing.
	tampered := url.Values{"CallSid": {"CA0001"}, "To": {"+449999999999"}}
	req := httptest.NewRequest(http.MethodPost, "/voice/inbound", strings.NewReader(tampered.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(SignatureHeader, sig)

	rr := httptest.NewRecorder()
	signatureHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestComputeSignatureParamOrderIndependent(t *testing.T) {
	a := ComputeSignature(testSecret, testBaseURL+"/voice/inbound",
		url.Values{"B": {"2"}, "A": {"1"}})
	b := ComputeSignature(testSecret, testBaseURL+"/voice/inbound",
		url.Values{"A": {"1"}, "B": {"2"}})
	if a != b {
		t.Error("signature depends on map iteration order")
	}
}
