package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pintrolley.app/internal/ledger"
)

func TestCollectionMessageFallbackWithoutKey(t *testing.T) {
	g := NewGenerator("", "", "")
	msg := g.CollectionMessage(context.Background(), "Ana López", 250_000, "15 de marzo")
	if !strings.Contains(msg, "Ana López") {
		t.Fatalf("fallback missing client name: %q", msg)
	}
	if !strings.Contains(msg, "$2,500.00") {
		t.Fatalf("fallback missing formatted balance: %q", msg)
	}
	if !strings.Contains(msg, "15 de marzo") {
		t.Fatalf("fallback missing due label: %q", msg)
	}
}

func TestPortfolioInsightsFallbackOnUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewGenerator("test-key", "", srv.URL)
	msg := g.PortfolioInsights(context.Background(), ledger.PortfolioStats{
		TotalLent:      1_000_000,
		TotalRecovered: 400_000,
		Outstanding:    600_000,
		ArrearsRate:    60,
		ActiveLoans:    3,
	})
	if !strings.Contains(msg, "no disponible") {
		t.Fatalf("expected template fallback, got %q", msg)
	}
	if !strings.Contains(msg, "$10,000.00") {
		t.Fatalf("fallback missing lent capital: %q", msg)
	}
}

func TestChatCompletionRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		var payload struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if payload.Model != "gpt-4o-mini" {
			t.Errorf("model = %q", payload.Model)
		}
		if len(payload.Messages) != 2 || payload.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", payload.Messages)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "  Estimada Ana, su pago vence pronto.  "}},
			},
		})
	}))
	defer srv.Close()

	g := NewGenerator("test-key", "", srv.URL)
	msg := g.CollectionMessage(context.Background(), "Ana", 10_000, "mañana")
	if msg != "Estimada Ana, su pago vence pronto." {
		t.Fatalf("unexpected completion: %q", msg)
	}
}

func TestEmptyCompletionFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	g := NewGenerator("test-key", "", srv.URL)
	msg := g.CollectionMessage(context.Background(), "Beto", 5_000, "hoy")
	if !strings.Contains(msg, "Beto") || !strings.Contains(msg, "$50.00") {
		t.Fatalf("expected fallback with facts, got %q", msg)
	}
}
