package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatic(t *testing.T) {
	got, err := Static{}.Verify(context.Background(), "DR001", nil)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if got["license_verification"] != "Verified" {
		t.Errorf("license_verification = %v", got["license_verification"])
	}
	if len(got) != len(StaticResponse) {
		t.Errorf("len = %d, want %d", len(got), len(StaticResponse))
	}

	got["license_verification"] = "tampered"
	if StaticResponse["license_verification"] != "Verified" {
		t.Error("Verify() must return a copy")
	}

	custom := Static{Response: map[string]any{"background_check": "Flagged"}}
	got, _ = custom.Verify(context.Background(), "DR001", nil)
	if got["background_check"] != "Flagged" || len(got) != 1 {
		t.Errorf("custom response = %v", got)
	}
}

func TestStatic_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (Static{}).Verify(ctx, "DR001", nil); err == nil {
		t.Fatal("Verify() should honor a canceled context")
	}
}

func TestHTTP_Verify(t *testing.T) {
	var gotReq verifyRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"license_verification": "Verified", "confidence": 0.9}`))
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL, WithAPIKey("k-123"), WithHTTPClient(srv.Client()))
	got, err := h.Verify(context.Background(), "DR002", map[string]any{"HR001": "x"})
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if got["confidence"] != 0.9 {
		t.Errorf("confidence = %v", got["confidence"])
	}
	if gotReq.ProviderID != "DR002" || gotReq.MappedData["HR001"] != "x" {
		t.Errorf("request = %+v", gotReq)
	}
	if gotAuth != "Bearer k-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestHTTP_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusBadGateway, `{"error": "upstream"}`},
		{"not json", http.StatusOK, `verified!`},
		{"json null", http.StatusOK, `null`},
		{"json array", http.StatusOK, `[1, 2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			if _, err := NewHTTP(srv.URL).Verify(context.Background(), "DR001", nil); err == nil {
				t.Error("Verify() should fail")
			}
		})
	}
}
