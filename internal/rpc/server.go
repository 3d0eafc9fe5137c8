package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/trialdata/aactschema/internal/logging"
	"github.com/trialdata/aactschema/internal/resource"
)

// protocolVersion is the protocol revision this server speaks.
const protocolVersion = "2024-11-05"

// serverInstructions is returned from initialize so a connected LLM knows
// how to use the resources.
const serverInstructions = "This server provides read-only access to the AACT clinical trials " +
	"database schema. Use the resources to understand table structure, " +
	"column types, primary keys, and foreign key relationships before " +
	"writing SQL queries. The database schema is 'ctgov'. " +
	"All tables live under the ctgov schema (e.g. ctgov.studies)."

// Handler dispatches JSON-RPC methods to the resource router.
type Handler struct {
	router  *resource.Router
	version string
}

// NewHandler builds a handler for the given router. version is the server
// build version reported from initialize.
func NewHandler(router *resource.Router, version string) *Handler {
	return &Handler{router: router, version: version}
}

// HandleMessage parses one raw message and dispatches it. The returned
// response is nil for notifications, which must not be answered.
func (h *Handler) HandleMessage(data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return newErrorResponse(nil, CodeParseError, "parse error: "+err.Error())
	}
	return h.Handle(&req)
}

// Handle dispatches one parsed request.
func (h *Handler) Handle(req *Request) *Response {
	if req.IsNotification() {
		logging.Debug("Notification received: %s", req.Method)
		return nil
	}
	if req.Method == "" {
		return newErrorResponse(req.ID, CodeInvalidRequest, "missing method")
	}

	switch req.Method {
	case "initialize":
		return newResponse(req.ID, h.initializeResult())
	case "ping":
		return newResponse(req.ID, struct{}{})
	case "resources/list":
		return newResponse(req.ID, map[string]interface{}{
			"resources": h.router.List(),
		})
	case "resources/read":
		return h.readResource(req)
	default:
		return newErrorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (h *Handler) initializeResult() map[string]interface{} {
	return map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]interface{}{
			"resources": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    "aact-schema",
			"version": h.version,
		},
		"instructions": serverInstructions,
	}
}

type readParams struct {
	URI string `json:"uri"`
}

func (h *Handler) readResource(req *Request) *Response {
	var params readParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return newErrorResponse(req.ID, CodeInvalidParams, "invalid params: "+err.Error())
		}
	}
	if params.URI == "" {
		return newErrorResponse(req.ID, CodeInvalidParams, "invalid params: uri is required")
	}

	text, err := h.router.Read(params.URI)
	if err != nil {
		return newErrorResponse(req.ID, CodeInvalidParams, err.Error())
	}

	return newResponse(req.ID, map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"uri":      params.URI,
				"mimeType": "text/plain",
				"text":     text,
			},
		},
	})
}
