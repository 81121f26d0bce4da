package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tokenfusion/tokenfusion/internal/config"
)

func newTestServer() *Server {
	return NewServer(config.NewConfig())
}

// postJSON runs a request through the full middleware chain.
func postJSON(s *Server, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]string
	decodeBody(t, w, &resp)

	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
}

func TestHandleConvert(t *testing.T) {
	s := newTestServer()

	w := postJSON(s, "/api/convert", `{"content": "{\"name\": \"Ada\", \"age\": 36}", "from_format": "json"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}

	var resp ConvertResponse
	decodeBody(t, w, &resp)

	if !resp.Success {
		t.Error("Success = false, want true")
	}
	if want := "{\n  \"name\": \"Ada\",\n  \"age\": 36\n}"; resp.JSON != want {
		t.Errorf("JSON = %q, want %q", resp.JSON, want)
	}
	if want := "name:Ada\nage:36"; resp.TOON != want {
		t.Errorf("TOON = %q, want %q", resp.TOON, want)
	}
	if want := "name,age\nAda,36"; resp.CSV != want {
		t.Errorf("CSV = %q, want %q", resp.CSV, want)
	}
	if want := "name: Ada\nage: 36"; resp.YAML != want {
		t.Errorf("YAML = %q, want %q", resp.YAML, want)
	}

	if len(resp.Tokens) != 4 {
		t.Errorf("Tokens has %d entries, want 4", len(resp.Tokens))
	}
	for name, count := range resp.Tokens {
		if count <= 0 {
			t.Errorf("Tokens[%q] = %d, want > 0", name, count)
		}
	}

	if resp.Recommendation.Recommended == "" {
		t.Error("Recommendation.Recommended is empty")
	}
	if resp.Recommendation.MinTokens <= 0 {
		t.Errorf("Recommendation.MinTokens = %d, want > 0", resp.Recommendation.MinTokens)
	}
	if resp.FormatWarning != nil {
		t.Errorf("FormatWarning = %+v, want nil", resp.FormatWarning)
	}
}

func TestHandleConvert_FromFormatDefaultsToJSON(t *testing.T) {
	s := newTestServer()

	w := postJSON(s, "/api/convert", `{"content": "[1, 2, 3]"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}

	var resp ConvertResponse
	decodeBody(t, w, &resp)
	if want := "[0]:1\n[1]:2\n[2]:3"; resp.TOON != want {
		t.Errorf("TOON = %q, want %q", resp.TOON, want)
	}
}

func TestHandleConvert_MismatchedFormatWarns(t *testing.T) {
	s := newTestServer()

	// CSV content declared as JSON: converts anyway, with a warning.
	w := postJSON(s, "/api/convert", `{"content": "a,b\n1,2", "from_format": "json"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}

	var resp ConvertResponse
	decodeBody(t, w, &resp)

	if resp.FormatWarning == nil {
		t.Fatal("FormatWarning is nil, want a mismatch warning")
	}
	if resp.FormatWarning.DetectedFormat != "csv" {
		t.Errorf("DetectedFormat = %q, want %q", resp.FormatWarning.DetectedFormat, "csv")
	}
	if resp.FormatWarning.ExpectedFormat != "json" {
		t.Errorf("ExpectedFormat = %q, want %q", resp.FormatWarning.ExpectedFormat, "json")
	}
	want := "Detected CSV format. Did you mean to paste this in the CSV box?"
	if resp.FormatWarning.Message != want {
		t.Errorf("Message = %q, want %q", resp.FormatWarning.Message, want)
	}
}

func TestHandleConvert_EmptyContent(t *testing.T) {
	s := newTestServer()

	w := postJSON(s, "/api/convert", `{"content": "   "}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var resp ErrorResponse
	decodeBody(t, w, &resp)
	if resp.Error != "no content provided" {
		t.Errorf("Error = %q, want %q", resp.Error, "no content provided")
	}
}

func TestHandleConvert_NoBody(t *testing.T) {
	s := newTestServer()

	w := postJSON(s, "/api/convert", "")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var resp ErrorResponse
	decodeBody(t, w, &resp)
	if resp.Error != "no data provided" {
		t.Errorf("Error = %q, want %q", resp.Error, "no data provided")
	}
}

func TestHandleConvert_MalformedBody(t *testing.T) {
	s := newTestServer()

	w := postJSON(s, "/api/convert", "{not json")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var resp ErrorResponse
	decodeBody(t, w, &resp)
	if resp.Error != "invalid request body" {
		t.Errorf("Error = %q, want %q", resp.Error, "invalid request body")
	}
}

func TestHandleConvert_InvalidFormat(t *testing.T) {
	s := newTestServer()

	w := postJSON(s, "/api/convert", `{"content": "{}", "from_format": "xml"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var resp ErrorResponse
	decodeBody(t, w, &resp)
	if !strings.Contains(resp.Error, "invalid format: xml") {
		t.Errorf("Error = %q, want it to name the invalid format", resp.Error)
	}
}

func TestHandleConvert_UndecodableContent(t *testing.T) {
	s := newTestServer()

	w := postJSON(s, "/api/convert", `{"content": "{broken", "from_format": "json"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want %d (body: %s)", w.Code, http.StatusBadRequest, w.Body.String())
	}

	var resp ErrorResponse
	decodeBody(t, w, &resp)
	if !strings.Contains(resp.Error, "JSON") {
		t.Errorf("Error = %q, want a JSON diagnostic", resp.Error)
	}
}

func TestHandleConvert_FailureKeepsWarning(t *testing.T) {
	s := newTestServer()

	// Looks like a TOON table but the row is too wide, and it is not JSON
	// either: the error response still carries the detection warning.
	w := postJSON(s, "/api/convert", `{"content": "[2]{a,b}:\n  1,2,3", "from_format": "json"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want %d (body: %s)", w.Code, http.StatusBadRequest, w.Body.String())
	}

	var resp ErrorResponse
	decodeBody(t, w, &resp)

	if !strings.Contains(resp.Error, "could not convert content") {
		t.Errorf("Error = %q, want it to report the conversion failure", resp.Error)
	}
	if resp.FormatWarning == nil {
		t.Fatal("FormatWarning is nil, want it to survive the failure")
	}
	if resp.FormatWarning.DetectedFormat != "toon" {
		t.Errorf("DetectedFormat = %q, want %q", resp.FormatWarning.DetectedFormat, "toon")
	}
}

func TestHandleConvert_OverBudget(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Tokens.MaxInputTokens = 1
	s := NewServer(cfg)

	w := postJSON(s, "/api/convert", `{"content": "{\"key\": \"a long enough value to cost more than one token\"}"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want %d (body: %s)", w.Code, http.StatusBadRequest, w.Body.String())
	}

	var resp ErrorResponse
	decodeBody(t, w, &resp)
	if !strings.Contains(resp.Error, "maximum token limit") {
		t.Errorf("Error = %q, want a budget diagnostic", resp.Error)
	}
}

func TestHandleDetect(t *testing.T) {
	s := newTestServer()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"json object", `{\"a\": 1}`, "json"},
		{"csv", `a,b\n1,2\n3,4`, "csv"},
		{"toon table", `[1]{a,b}:\n  1,2`, "toon"},
		{"yaml", `name: Ada\nage: 36`, "yaml"},
		{"plain prose", `hello world`, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(s, "/api/detect", `{"content": "`+tt.content+`"}`)

			if w.Code != http.StatusOK {
				t.Fatalf("Status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
			}

			var resp DetectResponse
			decodeBody(t, w, &resp)
			if !resp.Success {
				t.Error("Success = false, want true")
			}
			if string(resp.Format) != tt.want {
				t.Errorf("Format = %q, want %q", resp.Format, tt.want)
			}
		})
	}
}

func TestHandleDetect_EmptyContent(t *testing.T) {
	s := newTestServer()

	w := postJSON(s, "/api/detect", `{"content": ""}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleTokens(t *testing.T) {
	s := newTestServer()

	w := postJSON(s, "/api/tokens", `{"content": "{\"name\": \"Ada\", \"age\": 36}"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}

	var resp TokensResponse
	decodeBody(t, w, &resp)

	if !resp.Success {
		t.Error("Success = false, want true")
	}
	if len(resp.Tokens) != 4 {
		t.Errorf("Tokens has %d entries, want 4", len(resp.Tokens))
	}
	if resp.Recommendation.Recommended == "" {
		t.Error("Recommendation.Recommended is empty")
	}
}

func TestHandleTokens_IgnoresBudget(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Tokens.MaxInputTokens = 1
	s := NewServer(cfg)

	// The tokens endpoint reports counts even over the input budget.
	w := postJSON(s, "/api/tokens", `{"content": "{\"key\": \"a long enough value to cost more than one token\"}"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest("GET", "/api/convert", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestServer_BodyTooLarge(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Server.MaxBodyBytes = 64
	s := NewServer(cfg)

	body := `{"content": "` + strings.Repeat("x", 200) + `"}`
	w := postJSON(s, "/api/convert", body)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}

	var resp ErrorResponse
	decodeBody(t, w, &resp)
	if !strings.Contains(resp.Error, "exceeds the maximum size") {
		t.Errorf("Error = %q, want a size diagnostic", resp.Error)
	}
}

func TestServer_ApplyConfigSwapsBudget(t *testing.T) {
	s := newTestServer()

	body := `{"content": "{\"key\": \"a long enough value to cost more than one token\"}"}`
	if w := postJSON(s, "/api/convert", body); w.Code != http.StatusOK {
		t.Fatalf("Status before reload = %d, want %d", w.Code, http.StatusOK)
	}

	cfg := config.NewConfig()
	cfg.Tokens.MaxInputTokens = 1
	s.ApplyConfig(cfg)

	if w := postJSON(s, "/api/convert", body); w.Code != http.StatusBadRequest {
		t.Fatalf("Status after reload = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
