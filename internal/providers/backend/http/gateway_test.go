package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/convergekit/converge/backend"
	"github.com/convergekit/converge/faults"
)

func newTestGateway(t *testing.T, handler http.Handler) *Gateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	gateway, err := NewGateway(server.URL, "secret-token")
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return gateway
}

func TestGatewayRetrieveSendsBulkRequest(t *testing.T) {
	gateway := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/views/retrieve" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Fatalf("unexpected authorization header %q", got)
		}

		var request struct {
			IDs []string `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if len(request.IDs) != 2 || request.IDs[0] != "a" {
			t.Fatalf("unexpected ids %v", request.IDs)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{"id": "a"}},
		})
	}))

	items, err := gateway.Retrieve(context.Background(), "views", []string{"a", "missing"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(items) != 1 || items[0]["id"] != "a" {
		t.Fatalf("unexpected items %v", items)
	}
}

func TestGatewayDeleteReturnsCount(t *testing.T) {
	gateway := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/views/delete" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"deleted": 3})
	}))

	deleted, err := gateway.Delete(context.Background(), "views", []string{"a", "b", "c", "missing"})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deleted, got %d", deleted)
	}
}

func TestGatewayIterateFollowsPageTokens(t *testing.T) {
	gateway := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("namespace") != "team-a" {
			t.Fatalf("missing namespace query, got %q", r.URL.RawQuery)
		}
		if r.URL.Query().Get("page_token") == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"items":      []map[string]any{{"id": "a"}},
				"next_token": "a",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{"id": "b"}},
		})
	}))

	scope := backend.Scope{Namespace: "team-a"}

	first, err := gateway.Iterate(context.Background(), "views", scope, "")
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if first.NextToken != "a" || len(first.Items) != 1 {
		t.Fatalf("unexpected first page %+v", first)
	}

	second, err := gateway.Iterate(context.Background(), "views", scope, first.NextToken)
	if err != nil {
		t.Fatalf("Iterate page 2: %v", err)
	}
	if second.NextToken != "" || second.Items[0]["id"] != "b" {
		t.Fatalf("unexpected second page %+v", second)
	}
}

func TestGatewayVerifyReturnsMissingCapabilities(t *testing.T) {
	gateway := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/capabilities/verify" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"missing": []string{"view:write"}})
	}))

	missing, err := gateway.Verify(context.Background(), []backend.Capability{"view:read", "view:write"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(missing) != 1 || missing[0] != "view:write" {
		t.Fatalf("unexpected missing set %v", missing)
	}
}

func TestGatewayClassifiesErrors(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		category faults.ErrorCategory
	}{
		{"forbidden", http.StatusForbidden, "missing capability", faults.AuthorizationGap},
		{"unauthorized", http.StatusUnauthorized, "", faults.AuthorizationGap},
		{"gateway timeout", http.StatusGatewayTimeout, "", faults.BackendUnavailable},
		{"throttled", http.StatusTooManyRequests, "slow down", faults.BackendUnavailable},
		{"timeout marker in body", http.StatusInternalServerError, `{"error":"bulk delete timed out"}`, faults.BackendUnavailable},
		{"plain rejection", http.StatusBadRequest, "malformed payload", faults.BackendRejected},
		{"plain server error", http.StatusInternalServerError, "boom", faults.BackendRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gateway := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))

			_, err := gateway.Retrieve(context.Background(), "views", []string{"a"})
			if err == nil {
				t.Fatal("expected an error")
			}
			if !faults.IsCategory(err, tc.category) {
				t.Fatalf("expected category %v, got %v", tc.category, err)
			}
		})
	}
}

func TestGatewayRejectsInvalidBaseURL(t *testing.T) {
	if _, err := NewGateway("not-a-url", ""); err == nil {
		t.Fatal("expected an error for a base URL without scheme")
	}
}
