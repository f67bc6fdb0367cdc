package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/repoindex/internal/async"
	ierrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/index"
	"github.com/Aman-CERP/repoindex/internal/search"
	"github.com/Aman-CERP/repoindex/internal/ui"
	"github.com/Aman-CERP/repoindex/pkg/version"
)

// Tool names.
const (
	ToolQueryIndex  = "query_index"
	ToolIndexStatus = "index_status"
)

// Server is the MCP server for repoindex.
// It bridges AI clients with the retriever of one project.
type Server struct {
	mcp       *mcp.Server
	retriever *search.Retriever
	layout    index.Layout
	logger    *slog.Logger

	// Background refresh (nil when serving without a scheduler)
	scheduler *async.Scheduler

	// retrievalOff answers every query with no information.
	retrievalOff bool

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        ToolQueryIndex,
		Description: "Retrieve the code and documentation snippets of this repository most relevant to a query. Returns a context block only when the best match passes the confidence threshold, otherwise states that no information matches.",
	},
	{
		Name:        ToolIndexStatus,
		Description: "Report whether the repository index exists, which model built it, its size, query analytics and background refresh progress.",
	},
}

// NewServer creates a new MCP server.
func NewServer(retriever *search.Retriever, layout index.Layout) (*Server, error) {
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}

	s := &Server{
		retriever: retriever,
		layout:    layout,
		logger:    slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "repoindex",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// SetScheduler attaches the background refresh scheduler so index_status
// can report its progress.
func (s *Server) SetScheduler(sch *async.Scheduler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduler = sch
}

// DisableRetrieval makes query_index answer with no information without
// touching the index.
func (s *Server) DisableRetrieval() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retrievalOff = true
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        tools[0].Name,
		Description: tools[0].Description,
	}, s.mcpQueryHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        tools[1].Name,
		Description: tools[1].Description,
	}, s.mcpIndexStatusHandler)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// mcpQueryHandler runs one query. Retrieval failures degrade to the
// no-information answer rather than a tool error.
func (s *Server) mcpQueryHandler(ctx context.Context, _ *mcp.CallToolRequest, input QueryIndexInput) (
	*mcp.CallToolResult,
	QueryIndexOutput,
	error,
) {
	if input.Query == "" {
		return nil, QueryIndexOutput{}, NewInvalidParamsError("query parameter is required")
	}
	if input.K < 0 {
		return nil, QueryIndexOutput{}, NewInvalidParamsError("k must not be negative")
	}

	s.mu.RLock()
	off := s.retrievalOff
	s.mu.RUnlock()
	if off {
		out := QueryIndexOutput{
			Threshold: s.retriever.Threshold(),
			Hits:      []HitOutput{},
			Error:     "retrieval is disabled in the project configuration",
		}
		return textResult(search.NoInformation), out, nil
	}

	requestID := generateRequestID()
	res, err := s.retriever.Query(ctx, input.Query, input.K)
	if err != nil {
		s.logger.Warn("mcp_query_degraded",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))

		out := QueryIndexOutput{
			Threshold: s.retriever.Threshold(),
			Hits:      []HitOutput{},
			Error:     s.degradedReason(err),
		}
		return textResult(search.NoInformation), out, nil
	}

	s.logger.Debug("mcp_query",
		slog.String("request_id", requestID),
		slog.Bool("confident", res.Confident),
		slog.Int("items", res.Items))
	return textResult(FormatContext(res)), ToQueryOutput(res), nil
}

// degradedReason explains a failed query, noting a build in progress when
// the scheduler is running one.
func (s *Server) degradedReason(err error) string {
	reason := MapError(err).Message
	if ierrors.GetCode(err) != ierrors.ErrCodeNoIndex {
		return reason
	}
	s.mu.RLock()
	sch := s.scheduler
	s.mu.RUnlock()
	if sch != nil && sch.Progress().IsRefreshing() {
		snap := sch.Progress().Snapshot()
		return fmt.Sprintf("Index is being built (%s, %.0f%%). Try again shortly.", snap.Stage, snap.ProgressPct)
	}
	return reason
}

func (s *Server) mcpIndexStatusHandler(_ context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	return nil, s.Status(), nil
}

// Status collects the index status reported by index_status.
func (s *Server) Status() *IndexStatusOutput {
	s.mu.RLock()
	sch := s.scheduler
	s.mu.RUnlock()

	var snap *async.ProgressSnapshot
	if sch != nil {
		v := sch.Progress().Snapshot()
		snap = &v
	}
	return ToStatusOutput(ui.CollectStatus(s.layout), s.retriever.Threshold(), snap)
}

// Serve runs the server on stdio until ctx is canceled or the client
// disconnects.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", slog.String("root", s.layout.Root))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
