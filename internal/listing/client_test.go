package listing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arvx/poeflip/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSpec() models.ItemSpec {
	return models.ItemSpec{
		ItemID:         "dense-fossil",
		Type:           "fossil",
		MaxStockPrice:  10,
		MinStockAmount: 5,
		BuyoutCurrency: "chaos",
	}
}

func TestSearchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/exchange/Standard" {
			t.Errorf("Expected /exchange/Standard, got %s", r.URL.Path)
		}
		w.Write([]byte(`{"result":{"abc":{"listing":{"account":{"name":"Seller"},"offers":[]}}}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "Standard", nil, testLogger())
	resp, err := client.Search(context.Background(), testSpec(), true)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(resp.Results) != 1 {
		t.Errorf("Expected 1 result, got %d", len(resp.Results))
	}
	if resp.Results[0].ID != "abc" {
		t.Errorf("Expected trade id abc, got %s", resp.Results[0].ID)
	}
	if resp.Results[0].Listing.Account.Name != "Seller" {
		t.Errorf("Expected account Seller, got %s", resp.Results[0].Listing.Account.Name)
	}
}

func TestSearchNonBulkEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/Standard" {
			t.Errorf("Expected /search/Standard, got %s", r.URL.Path)
		}
		w.Write([]byte(`{"result":{}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "Standard", nil, testLogger())
	if _, err := client.Search(context.Background(), testSpec(), false); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
}

func TestResponsePreservesDocumentOrder(t *testing.T) {
	payload := []byte(`{"result":{
		"id7":{"listing":{"account":{"name":"Seller7"}}},
		"id3":{"listing":{"account":{"name":"Seller3"}}},
		"id9":{"listing":{"account":{"name":"Seller9"}}},
		"id1":{"listing":{"account":{"name":"Seller1"}}},
		"id5":{"listing":{"account":{"name":"Seller5"}}}
	}}`)
	want := []string{"id7", "id3", "id9", "id1", "id5"}

	// Map iteration order varies per run; repeat to catch a decode
	// that goes through one.
	for run := 0; run < 5; run++ {
		var resp Response
		if err := json.Unmarshal(payload, &resp); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(resp.Results) != len(want) {
			t.Fatalf("Expected %d entries, got %d", len(want), len(resp.Results))
		}
		for i, id := range want {
			if resp.Results[i].ID != id {
				t.Fatalf("Run %d: expected %s at position %d, got %s", run, id, i, resp.Results[i].ID)
			}
		}
	}
}

func TestResponseEmptyResultObject(t *testing.T) {
	var resp Response
	if err := json.Unmarshal([]byte(`{"result":{}}`), &resp); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if resp.Results == nil {
		t.Error("Expected non-nil results for an empty result object")
	}
	if len(resp.Results) != 0 {
		t.Errorf("Expected 0 entries, got %d", len(resp.Results))
	}
}

func TestSearchOveruse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, "Standard", nil, testLogger())
	_, err := client.Search(context.Background(), testSpec(), true)
	if !errors.Is(err, ErrAPIOveruse) {
		t.Errorf("Expected ErrAPIOveruse, got %v", err)
	}
}

func TestSearchUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "Standard", nil, testLogger())
	_, err := client.Search(context.Background(), testSpec(), true)
	if !errors.Is(err, ErrAPIUnavailable) {
		t.Errorf("Expected ErrAPIUnavailable, got %v", err)
	}
}

func TestSearchMissingResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"code":3,"message":"Rate limit exceeded"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "Standard", nil, testLogger())
	_, err := client.Search(context.Background(), testSpec(), true)
	if !errors.Is(err, ErrAPIOveruse) {
		t.Errorf("Expected ErrAPIOveruse for missing result, got %v", err)
	}
}
