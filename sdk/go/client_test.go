package hoplinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecordForwardSendsAuthAndBody(t *testing.T) {
	var got Forward
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/forwards" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "hl_key" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Hop{ID: "h1", RootTx: got.RootTx, FromAgent: got.Source, ToAgent: got.Target, HopNumber: got.HopNumber})
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.APIKey = "hl_key"
	hop, err := c.RecordForward(context.Background(), Forward{RootTx: "tx-1", Source: "a", Target: "b", HopNumber: 1})
	if err != nil {
		t.Fatalf("record forward: %v", err)
	}
	if hop.ID != "h1" || hop.FromAgent != "a" || got.Target != "b" {
		t.Fatalf("unexpected hop %+v (sent %+v)", hop, got)
	}
}

func TestErrorEnvelopeDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"concurrent_modification","message":"concurrent modification"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	_, err := c.Stake(context.Background(), "a", "10", 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || !apiErr.Retryable() {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestEventsPageQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" || r.URL.Query().Get("cursor") != "9" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(PaginatedEvents{Items: []Event{{ID: 8}}, NextCursor: "8"})
	}))
	defer srv.Close()

	page, err := New(srv.URL).EventsPage(context.Background(), 5, "9")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(page.Items) != 1 || page.NextCursor != "8" {
		t.Fatalf("unexpected page %+v", page)
	}
}
