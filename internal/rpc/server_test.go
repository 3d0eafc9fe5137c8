package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/trialdata/aactschema/internal/profile"
	"github.com/trialdata/aactschema/internal/reference"
	"github.com/trialdata/aactschema/internal/resource"
	"github.com/trialdata/aactschema/internal/schema"
)

func testHandler(t *testing.T) *Handler {
	t.Helper()
	schemaData := []byte(`{
		"schema": "ctgov",
		"tables": [
			{"name": "studies", "schema": "ctgov", "domain": "core", "rows_per_study": "1",
			 "columns": [{"name": "nct_id", "data_type": "character varying", "is_nullable": false, "is_primary_key": true, "is_foreign_key": false}]},
			{"name": "conditions", "schema": "ctgov", "domain": "classification", "rows_per_study": "1+",
			 "columns": [
				{"name": "id", "data_type": "integer", "is_nullable": false, "is_primary_key": true, "is_foreign_key": false},
				{"name": "nct_id", "data_type": "character varying", "is_nullable": true, "is_primary_key": false, "is_foreign_key": true}
			 ]}
		],
		"foreign_keys": [
			{"child_table": "conditions", "child_column": "nct_id", "parent_table": "studies", "parent_column": "nct_id"}
		]
	}`)
	s, err := schema.Load(schemaData)
	if err != nil {
		t.Fatal(err)
	}
	stores := &resource.Stores{
		Schema:        s,
		Profiles:      profile.Empty(),
		Glossary:      reference.EmptyGlossary(),
		QueryPatterns: reference.EmptyQueryPatterns(),
	}
	return NewHandler(resource.NewRouter(stores), "test")
}

func rawID(s string) json.RawMessage { return json.RawMessage(s) }

func TestHandleInitialize(t *testing.T) {
	h := testHandler(t)

	resp := h.Handle(&Request{JSONRPC: "2.0", ID: rawID("1"), Method: "initialize"})
	if resp == nil || resp.Error != nil {
		t.Fatalf("initialize failed: %+v", resp)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result type %T", resp.Result)
	}
	if result["protocolVersion"] != protocolVersion {
		t.Errorf("protocolVersion = %v", result["protocolVersion"])
	}
	info, ok := result["serverInfo"].(map[string]interface{})
	if !ok || info["name"] != "aact-schema" || info["version"] != "test" {
		t.Errorf("serverInfo = %v", result["serverInfo"])
	}
	instructions, _ := result["instructions"].(string)
	if !strings.Contains(instructions, "ctgov") {
		t.Errorf("instructions must mention the schema name: %q", instructions)
	}
}

func TestHandlePing(t *testing.T) {
	h := testHandler(t)

	resp := h.Handle(&Request{JSONRPC: "2.0", ID: rawID("7"), Method: "ping"})
	if resp == nil || resp.Error != nil {
		t.Fatalf("ping failed: %+v", resp)
	}
	if string(resp.ID) != "7" {
		t.Errorf("response id = %s", resp.ID)
	}
}

func TestHandleResourcesList(t *testing.T) {
	h := testHandler(t)

	resp := h.Handle(&Request{JSONRPC: "2.0", ID: rawID("2"), Method: "resources/list"})
	if resp == nil || resp.Error != nil {
		t.Fatalf("resources/list failed: %+v", resp)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result type %T", resp.Result)
	}
	resources, ok := result["resources"].([]resource.Resource)
	if !ok {
		t.Fatalf("resources type %T", result["resources"])
	}
	if len(resources) == 0 {
		t.Error("empty resource list")
	}
}

func TestHandleResourcesRead(t *testing.T) {
	h := testHandler(t)

	resp := h.Handle(&Request{
		JSONRPC: "2.0", ID: rawID("3"), Method: "resources/read",
		Params: json.RawMessage(`{"uri": "aact://schema/studies"}`),
	})
	if resp == nil || resp.Error != nil {
		t.Fatalf("resources/read failed: %+v", resp)
	}

	// Round-trip through JSON to check the wire shape.
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	var parsed struct {
		Result struct {
			Contents []struct {
				URI      string `json:"uri"`
				MimeType string `json:"mimeType"`
				Text     string `json:"text"`
			} `json:"contents"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatal(err)
	}
	if len(parsed.Result.Contents) != 1 {
		t.Fatalf("contents count = %d", len(parsed.Result.Contents))
	}
	c := parsed.Result.Contents[0]
	if c.URI != "aact://schema/studies" || c.MimeType != "text/plain" {
		t.Errorf("content metadata = %+v", c)
	}
	if !strings.Contains(c.Text, "CREATE TABLE ctgov.studies") {
		t.Errorf("unexpected document:\n%s", c.Text)
	}
}

func TestHandleReadUnknownTableIsDocument(t *testing.T) {
	h := testHandler(t)

	resp := h.Handle(&Request{
		JSONRPC: "2.0", ID: rawID("4"), Method: "resources/read",
		Params: json.RawMessage(`{"uri": "aact://schema/bogus"}`),
	})
	if resp.Error != nil {
		t.Fatalf("unknown table must be a document, not a protocol error: %+v", resp.Error)
	}
}

func TestHandleErrors(t *testing.T) {
	h := testHandler(t)

	tests := []struct {
		name string
		req  *Request
		code int
	}{
		{"unknown method", &Request{JSONRPC: "2.0", ID: rawID("1"), Method: "tools/list"}, CodeMethodNotFound},
		{"missing method", &Request{JSONRPC: "2.0", ID: rawID("1")}, CodeInvalidRequest},
		{"missing uri", &Request{JSONRPC: "2.0", ID: rawID("1"), Method: "resources/read", Params: json.RawMessage(`{}`)}, CodeInvalidParams},
		{"malformed params", &Request{JSONRPC: "2.0", ID: rawID("1"), Method: "resources/read", Params: json.RawMessage(`[1]`)}, CodeInvalidParams},
		{"unknown uri", &Request{JSONRPC: "2.0", ID: rawID("1"), Method: "resources/read", Params: json.RawMessage(`{"uri": "aact://nope"}`)}, CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.Handle(tt.req)
			if resp == nil || resp.Error == nil {
				t.Fatalf("expected error response, got %+v", resp)
			}
			if resp.Error.Code != tt.code {
				t.Errorf("code = %d, want %d", resp.Error.Code, tt.code)
			}
		})
	}
}

func TestHandleNotificationGetsNoResponse(t *testing.T) {
	h := testHandler(t)

	if resp := h.Handle(&Request{JSONRPC: "2.0", Method: "notifications/initialized"}); resp != nil {
		t.Errorf("notification must not be answered: %+v", resp)
	}
	if resp := h.Handle(&Request{JSONRPC: "2.0", ID: rawID("null"), Method: "notifications/initialized"}); resp != nil {
		t.Errorf("null-id notification must not be answered: %+v", resp)
	}
}

func TestHandleMessageParseError(t *testing.T) {
	h := testHandler(t)

	resp := h.HandleMessage([]byte("{not json"))
	if resp == nil || resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Fatalf("expected parse error, got %+v", resp)
	}
	if string(resp.ID) != "null" {
		t.Errorf("parse error id = %s, want null", resp.ID)
	}
}

func TestServeStdioSession(t *testing.T) {
	h := testHandler(t)

	input := strings.Join([]string{
		`{"jsonrpc": "2.0", "id": 1, "method": "initialize", "params": {}}`,
		`{"jsonrpc": "2.0", "method": "notifications/initialized"}`,
		``,
		`{"jsonrpc": "2.0", "id": 2, "method": "resources/read", "params": {"uri": "aact://tables"}}`,
		`{"jsonrpc": "2.0", "id": 3, "method": "bogus/method"}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := ServeStdio(context.Background(), h, strings.NewReader(input), &out); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("response count = %d, want 3 (notification and blank line skipped):\n%s", len(lines), out.String())
	}

	var last Response
	if err := json.Unmarshal([]byte(lines[2]), &last); err != nil {
		t.Fatal(err)
	}
	if last.Error == nil || last.Error.Code != CodeMethodNotFound {
		t.Errorf("last response = %+v", last)
	}

	var read struct {
		ID     int64 `json:"id"`
		Result struct {
			Contents []struct {
				Text string `json:"text"`
			} `json:"contents"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &read); err != nil {
		t.Fatal(err)
	}
	if read.ID != 2 {
		t.Errorf("unexpected read response id: %d", read.ID)
	}
	if len(read.Result.Contents) != 1 || !strings.Contains(read.Result.Contents[0].Text, "studies") {
		t.Errorf("unexpected read response: %s", lines[1])
	}
}

func TestHTTPTransport(t *testing.T) {
	h := testHandler(t)
	engine := NewHTTPEngine(h)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	body := `{"jsonrpc": "2.0", "id": 1, "method": "resources/read", "params": {"uri": "aact://tables"}}`
	resp, err := http.Post(srv.URL+"/rpc", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var parsed struct {
		Result struct {
			Contents []struct {
				Text string `json:"text"`
			} `json:"contents"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatal(err)
	}
	if len(parsed.Result.Contents) != 1 || !strings.Contains(parsed.Result.Contents[0].Text, "Total: 2 tables") {
		t.Errorf("unexpected /rpc response: %+v", parsed)
	}

	// Notifications are acknowledged with 204.
	resp2, err := http.Post(srv.URL+"/rpc", "application/json",
		strings.NewReader(`{"jsonrpc": "2.0", "method": "notifications/initialized"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNoContent {
		t.Errorf("notification status = %d, want 204", resp2.StatusCode)
	}

	resp3, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp3.Body.Close()
	var health bytes.Buffer
	health.ReadFrom(resp3.Body)
	if !strings.Contains(health.String(), "schema: 2 tables") {
		t.Errorf("unexpected health body:\n%s", health.String())
	}
}
