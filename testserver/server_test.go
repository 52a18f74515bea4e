package testserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"testing"
)

func setupServer(t *testing.T, options ...ServerOption) *Server {
	server, err := New(options...)
	if err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, rawURL string, payload any) map[string]any {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	resp, err := http.Post(rawURL, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST returned error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("Unexpected status %d: %s", resp.StatusCode, data)
	}
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return decoded
}

func TestExecuteAndQueryEnvelope(t *testing.T) {
	server := setupServer(t)

	decoded := postJSON(t, server.URL()+"/db/execute?transaction", []any{
		"CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)",
		[]any{"INSERT INTO t (name) VALUES (?)", "foo"},
	})
	results := decoded["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("Expected 2 result items, got %d", len(results))
	}
	insert := results[1].(map[string]any)
	if insert["rows_affected"] != float64(1) {
		t.Errorf("Expected rows_affected 1, got %v", insert["rows_affected"])
	}
	if insert["last_insert_id"] == nil {
		t.Error("Expected a last_insert_id")
	}

	resp, err := http.Get(server.URL() + "/db/query?q=" +
		url.QueryEscape("SELECT id, name FROM t"))
	if err != nil {
		t.Fatalf("GET returned error: %v", err)
	}
	defer resp.Body.Close()
	var queryDecoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&queryDecoded); err != nil {
		t.Fatalf("Failed to decode query response: %v", err)
	}
	item := queryDecoded["results"].([]any)[0].(map[string]any)
	columns := item["columns"].([]any)
	if len(columns) != 2 || columns[0] != "id" {
		t.Errorf("Unexpected columns: %v", columns)
	}
	types := item["types"].([]any)
	if types[0] != "integer" || types[1] != "text" {
		t.Errorf("Expected declared types, got %v", types)
	}
	values := item["values"].([]any)
	if len(values) != 1 {
		t.Errorf("Expected 1 value row, got %v", values)
	}
}

func TestNamedStatementEntries(t *testing.T) {
	server := setupServer(t)

	postJSON(t, server.URL()+"/db/execute?transaction", []any{
		"CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)",
		[]any{"INSERT INTO t (name) VALUES (:name)", map[string]any{"name": "foo"}},
	})

	decoded := postJSON(t, server.URL()+"/db/query", []any{
		[]any{"SELECT name FROM t WHERE name = :name", map[string]any{"name": "foo"}},
	})
	item := decoded["results"].([]any)[0].(map[string]any)
	values := item["values"].([]any)
	if len(values) != 1 {
		t.Fatalf("Expected 1 matching row, got %v", values)
	}
	if values[0].([]any)[0] != "foo" {
		t.Errorf("Expected foo, got %v", values[0])
	}
}

func TestStatementErrorInEnvelope(t *testing.T) {
	server := setupServer(t)

	decoded := postJSON(t, server.URL()+"/db/execute?transaction", []any{
		"INSERT INTO missing (x) VALUES (1)",
	})
	item := decoded["results"].([]any)[0].(map[string]any)
	if item["error"] == nil || item["error"] == "" {
		t.Errorf("Expected an error entry, got %v", item)
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	server := setupServer(t)

	postJSON(t, server.URL()+"/db/execute?transaction", []any{
		"CREATE TABLE t (id INTEGER PRIMARY KEY)",
	})
	postJSON(t, server.URL()+"/db/execute?transaction", []any{
		"INSERT INTO t (id) VALUES (1)",
		"INSERT INTO missing (x) VALUES (1)",
	})

	resp, err := http.Get(server.URL() + "/db/query?q=" +
		url.QueryEscape("SELECT count(*) FROM t"))
	if err != nil {
		t.Fatalf("GET returned error: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Failed to decode query response: %v", err)
	}
	item := decoded["results"].([]any)[0].(map[string]any)
	count := item["values"].([]any)[0].([]any)[0]
	if count != float64(0) {
		t.Errorf("Expected the failed transaction rolled back, got count %v", count)
	}
}

func TestFollowerRedirects(t *testing.T) {
	server := setupServer(t)
	follower := NewFollower(server.URL())
	t.Cleanup(follower.Close)

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(follower.URL() + "/db/query?q=SELECT+1")
	if err != nil {
		t.Fatalf("GET returned error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMovedPermanently {
		t.Fatalf("Expected 301, got %d", resp.StatusCode)
	}
	location := resp.Header.Get("Location")
	if location != server.URL()+"/db/query?q=SELECT+1" {
		t.Errorf("Unexpected Location: %q", location)
	}
}

func TestBasicAuthRequired(t *testing.T) {
	server := setupServer(t, WithBasicAuth("admin", "secret"))

	resp, err := http.Get(server.URL() + "/db/query?q=SELECT+1")
	if err != nil {
		t.Fatalf("GET returned error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL()+"/db/query?q=SELECT+1", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET returned error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 with credentials, got %d", resp.StatusCode)
	}
}
