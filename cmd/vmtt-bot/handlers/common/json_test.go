package common

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		value      any
		wantStatus int
		wantBody   map[string]any
	}{
		{
			name:       "encodes value",
			status:     http.StatusOK,
			value:      map[string]string{"status": "healthy"},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"status": "healthy"},
		},
		{
			name:       "unencodable value",
			status:     http.StatusOK,
			value:      map[string]any{"bad": make(chan int)},
			wantStatus: http.StatusInternalServerError,
			wantBody: map[string]any{
				"error":             "server_error",
				"error_description": "Failed to encode response",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.status, tt.value)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", w.Code, tt.wantStatus)
			}
			for k, v := range map[string]string{"Cache-Control": "no-store", "Content-Type": "application/json"} {
				if got := w.Header().Get(k); got != v {
					t.Errorf("header %s = %q, want %q", k, got, v)
				}
			}

			var got map[string]any
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("decoding body: %v", err)
			}
			if diff := cmp.Diff(tt.wantBody, got); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
