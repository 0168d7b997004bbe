package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/muguira/mailvibes-crm-remix-sub008/internal/testutil"
	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/collection"
	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/source"
)

func newTestControllers(t *testing.T) map[string]*collection.Controller {
	t.Helper()

	backend := testutil.NewMockBackend()
	t.Cleanup(backend.Close)
	backend.SetCollection("opportunities", testutil.MakeRecords("opp", 50))

	src, err := source.NewRESTSource(source.DefaultRESTConfig(backend.URL(), nil))
	if err != nil {
		t.Fatalf("NewRESTSource() error = %v", err)
	}

	ctrl, err := collection.New(collection.DefaultConfig("opportunities", src))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { ctrl.Close() })

	return map[string]*collection.Controller{"opportunities": ctrl}
}

func newTestMux(controllers map[string]*collection.Controller) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/{collection}/rows", rowsHandler(controllers))
	mux.HandleFunc("POST /collections/{collection}/refresh", refreshHandler(context.Background(), controllers))
	mux.HandleFunc("GET /healthz", healthHandler)
	return mux
}

func TestRowsHandler(t *testing.T) {
	mux := newTestMux(newTestControllers(t))

	req := httptest.NewRequest(http.MethodGet, "/collections/opportunities/rows?offset=0&limit=20", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}

	var resp struct {
		Rows       []json.RawMessage `json:"rows"`
		TotalCount int               `json:"total_count"`
		HasMore    bool              `json:"has_more"`
		Offset     int               `json:"offset"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	if len(resp.Rows) != 20 {
		t.Errorf("Got %d rows, want 20", len(resp.Rows))
	}
	if resp.TotalCount != 50 {
		t.Errorf("total_count = %d, want 50", resp.TotalCount)
	}
	if !resp.HasMore {
		t.Error("has_more = false with 20/50 loaded")
	}
	if resp.Offset != 20 {
		t.Errorf("offset = %d, want 20", resp.Offset)
	}
}

func TestRowsHandler_UnknownCollection(t *testing.T) {
	mux := newTestMux(newTestControllers(t))

	req := httptest.NewRequest(http.MethodGet, "/collections/nope/rows", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", rec.Code)
	}
}

func TestRowsHandler_BadWindow(t *testing.T) {
	mux := newTestMux(newTestControllers(t))

	for _, target := range []string{
		"/collections/opportunities/rows?offset=-1",
		"/collections/opportunities/rows?limit=0",
		"/collections/opportunities/rows?limit=abc",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", target, rec.Code)
		}
	}
}

func TestRefreshHandler(t *testing.T) {
	mux := newTestMux(newTestControllers(t))

	req := httptest.NewRequest(http.MethodPost, "/collections/opportunities/refresh", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}

	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	if resp["total_count"] != 50 {
		t.Errorf("total_count = %d, want 50", resp["total_count"])
	}
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	healthHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Errorf("Body = %q, want OK", rec.Body.String())
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"auth", source.NewError(source.KindAuth, 401, "denied", nil), http.StatusUnauthorized},
		{"validation", source.NewError(source.KindValidation, 400, "bad", nil), http.StatusBadRequest},
		{"conflict", source.NewError(source.KindConflict, 409, "moved", nil), http.StatusConflict},
		{"network", source.NewError(source.KindNetwork, 503, "down", nil), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusForError(tt.err); got != tt.want {
				t.Errorf("statusForError() = %d, want %d", got, tt.want)
			}
		})
	}
}
