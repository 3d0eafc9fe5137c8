// Package web is the demo backend: a small HTTP API that walks the full
// schema-context flow for a natural-language question and returns the
// generated SQL together with every protocol exchange, so a frontend can
// show how the answer was assembled.
package web

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"

	"github.com/trialdata/aactschema/internal/history"
	"github.com/trialdata/aactschema/internal/logging"
	"github.com/trialdata/aactschema/internal/rpc"
)

// FlowRunner runs one full schema-context session against the server.
type FlowRunner interface {
	RunFullFlow(ctx context.Context, relevantTables []string) (*rpc.FlowResult, error)
}

// TableSelector picks the tables relevant to a question.
type TableSelector interface {
	Select(ctx context.Context, question, tableDirectory string) []string
}

// SQLComposer turns a question plus schema context into SQL.
type SQLComposer interface {
	Compose(ctx context.Context, question, schemaContext, relationshipContext string) (string, error)
}

// Server wires the flow runner and the language model into HTTP handlers.
// History is optional; a nil store disables the /api/history endpoint data.
type Server struct {
	Flow     FlowRunner
	Selector TableSelector
	Composer SQLComposer
	History  *history.Store
}

type generateRequest struct {
	Question string `json:"question"`
}

type generateResponse struct {
	SQL            string         `json:"sql"`
	RelevantTables []string       `json:"relevant_tables"`
	MCPFlow        []rpc.FlowStep `json:"mcp_flow"`
	SchemaTokens   int            `json:"schema_tokens"`
}

// NewEngine builds the demo HTTP engine.
func (s *Server) NewEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	engine.POST("/api/generate-sql", s.generateSQL)
	engine.GET("/api/history", s.recentHistory)
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return engine
}

// generateSQL walks the four steps: fetch the table directory, pick the
// relevant tables, pull their schema context, and compose the SQL.
func (s *Server) generateSQL(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Question == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}
	ctx := c.Request.Context()

	// Step A: a quick session just for the table directory.
	quick, err := s.Flow.RunFullFlow(ctx, nil)
	if err != nil {
		logging.Error("Table directory fetch failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "schema server unavailable: " + err.Error()})
		return
	}

	// Step B: identify the relevant tables.
	tables := s.Selector.Select(ctx, req.Question, quick.TablesList)

	// Step C: the full session, reading each relevant table's schema.
	flow, err := s.Flow.RunFullFlow(ctx, tables)
	if err != nil {
		logging.Error("Schema context fetch failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "schema server unavailable: " + err.Error()})
		return
	}

	// Step D: compose the SQL from the gathered context.
	sqlText, err := s.Composer.Compose(ctx, req.Question, flow.CombinedSchema, flow.Relationships)
	if err != nil {
		logging.Error("SQL generation failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	if s.History != nil {
		if _, err := s.History.Record(req.Question, sqlText, tables); err != nil {
			logging.Warn("Failed to record question history: %v", err)
		}
	}

	c.JSON(http.StatusOK, generateResponse{
		SQL:            sqlText,
		RelevantTables: tables,
		MCPFlow:        flow.Steps,
		SchemaTokens:   len(flow.CombinedSchema) / 4,
	})
}

func (s *Server) recentHistory(c *gin.Context) {
	if s.History == nil {
		c.JSON(http.StatusOK, gin.H{"entries": []history.Entry{}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	entries, err := s.History.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
