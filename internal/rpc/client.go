package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/trialdata/aactschema/internal/logging"
)

// Client spawns the schema server as a subprocess and drives one stdio
// JSON-RPC session per call. Sessions are short-lived: all messages are
// written up front, the process exits on EOF, and the collected stdout
// lines are matched back to requests by id.
type Client struct {
	// Command is the server invocation, e.g. ["aactschema", "serve"].
	Command []string
	// Dir is the subprocess working directory ("" means inherit).
	Dir string
	// Timeout bounds one whole session.
	Timeout time.Duration
}

// NewClient builds a subprocess client with the default 15s session timeout.
func NewClient(command ...string) *Client {
	return &Client{Command: command, Timeout: 15 * time.Second}
}

// clientResponse keeps Result raw so callers can decode per-method shapes.
type clientResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// RunSession spawns the server, sends every message, and returns the
// responses keyed by request id. Notifications produce no response.
func (c *Client) RunSession(ctx context.Context, messages []Request) (map[int64]clientResponse, error) {
	if len(c.Command) == 0 {
		return nil, fmt.Errorf("no server command configured")
	}

	var input bytes.Buffer
	enc := json.NewEncoder(&input)
	for i := range messages {
		if err := enc.Encode(&messages[i]); err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Dir = c.Dir
	cmd.Stdin = &input

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("schema server session timed out after %v", timeout)
		}
		return nil, fmt.Errorf("schema server session failed: %w (stderr: %s)",
			err, strings.TrimSpace(stderr.String()))
	}

	responses := make(map[int64]clientResponse)
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var resp clientResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			logging.Debug("Skipping unparseable server output line: %s", line)
			continue
		}
		var id int64
		if err := json.Unmarshal(resp.ID, &id); err != nil {
			continue
		}
		responses[id] = resp
	}
	return responses, nil
}

// FlowStep is one request/response exchange, kept for display by the demo
// frontend.
type FlowStep struct {
	Label        string      `json:"label"`
	Request      Request     `json:"request"`
	Response     interface{} `json:"response"`
	Instructions string      `json:"instructions,omitempty"`
	Text         string      `json:"text,omitempty"`
}

// FlowResult is everything one full session produced.
type FlowResult struct {
	Steps          []FlowStep `json:"steps"`
	TablesList     string     `json:"tables_list"`
	CombinedSchema string     `json:"combined_schema"`
	Relationships  string     `json:"relationships"`
	RelevantTables []string   `json:"relevant_tables"`
}

// RunFullFlow executes the complete session: initialize, resources/list,
// read the table directory, read each relevant table's schema, and read the
// relationship digest. An empty table set yields a minimal session that
// still fetches the directory.
func (c *Client) RunFullFlow(ctx context.Context, relevantTables []string) (*FlowResult, error) {
	nextID := int64(0)
	id := func() int64 { nextID++; return nextID }
	idRaw := func(n int64) json.RawMessage {
		return json.RawMessage(fmt.Sprintf("%d", n))
	}

	initID := id()
	messages := []Request{
		{
			JSONRPC: "2.0",
			ID:      idRaw(initID),
			Method:  "initialize",
			Params: mustMarshal(map[string]interface{}{
				"protocolVersion": protocolVersion,
				"capabilities":    map[string]interface{}{},
				"clientInfo":      map[string]string{"name": "aact-demo", "version": "1.0"},
			}),
		},
		{JSONRPC: "2.0", Method: "notifications/initialized"},
	}

	listID := id()
	messages = append(messages, Request{
		JSONRPC: "2.0", ID: idRaw(listID), Method: "resources/list",
		Params: json.RawMessage("{}"),
	})

	tablesID := id()
	messages = append(messages, readRequest(idRaw(tablesID), "aact://tables"))

	tableIDs := make(map[int64]string, len(relevantTables))
	for _, tbl := range relevantTables {
		tid := id()
		tableIDs[tid] = tbl
		messages = append(messages, readRequest(idRaw(tid), "aact://schema/"+tbl))
	}

	relsID := id()
	messages = append(messages, readRequest(idRaw(relsID), "aact://relationships"))

	responses, err := c.RunSession(ctx, messages)
	if err != nil {
		return nil, err
	}

	flow := &FlowResult{RelevantTables: relevantTables}

	initResp := responses[initID]
	flow.Steps = append(flow.Steps, FlowStep{
		Label:        "initialize",
		Request:      messages[0],
		Response:     rawOrNil(initResp.Result),
		Instructions: extractInstructions(initResp.Result),
	})

	flow.Steps = append(flow.Steps, FlowStep{
		Label:    "resources/list",
		Request:  findRequest(messages, listID),
		Response: rawOrNil(responses[listID].Result),
	})

	flow.TablesList = extractText(responses[tablesID].Result)
	flow.Steps = append(flow.Steps, FlowStep{
		Label:    "resources/read (aact://tables)",
		Request:  findRequest(messages, tablesID),
		Response: rawOrNil(responses[tablesID].Result),
		Text:     flow.TablesList,
	})

	var schemaTexts []string
	for _, tbl := range relevantTables {
		var tid int64
		for k, v := range tableIDs {
			if v == tbl {
				tid = k
				break
			}
		}
		text := extractText(responses[tid].Result)
		if text != "" {
			schemaTexts = append(schemaTexts, text)
		}
		flow.Steps = append(flow.Steps, FlowStep{
			Label:    "resources/read (aact://schema/" + tbl + ")",
			Request:  findRequest(messages, tid),
			Response: rawOrNil(responses[tid].Result),
			Text:     text,
		})
	}

	flow.Relationships = extractText(responses[relsID].Result)
	flow.Steps = append(flow.Steps, FlowStep{
		Label:    "resources/read (aact://relationships)",
		Request:  findRequest(messages, relsID),
		Response: rawOrNil(responses[relsID].Result),
		Text:     flow.Relationships,
	})

	flow.CombinedSchema = strings.Join(schemaTexts, "\n\n")
	return flow, nil
}

func readRequest(id json.RawMessage, uri string) Request {
	return Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "resources/read",
		Params:  mustMarshal(map[string]string{"uri": uri}),
	}
}

func findRequest(messages []Request, id int64) Request {
	want := fmt.Sprintf("%d", id)
	for _, m := range messages {
		if string(m.ID) == want {
			return m
		}
	}
	return Request{}
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func rawOrNil(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// extractText pulls contents[0].text out of a resources/read result.
func extractText(result json.RawMessage) string {
	if len(result) == 0 {
		return ""
	}
	var parsed struct {
		Contents []struct {
			Text string `json:"text"`
		} `json:"contents"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil || len(parsed.Contents) == 0 {
		return ""
	}
	return parsed.Contents[0].Text
}

func extractInstructions(result json.RawMessage) string {
	if len(result) == 0 {
		return ""
	}
	var parsed struct {
		Instructions string `json:"instructions"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return ""
	}
	return parsed.Instructions
}
