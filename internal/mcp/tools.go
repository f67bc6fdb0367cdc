package mcp

// QueryIndexInput defines the input schema for the query_index tool.
type QueryIndexInput struct {
	Query string `json:"query" jsonschema:"natural language or code query"`
	K     int    `json:"k,omitempty" jsonschema:"maximum number of chunks to retrieve, default 8"`
}

// QueryIndexOutput defines the output schema for the query_index tool.
type QueryIndexOutput struct {
	Confident  bool        `json:"confident" jsonschema:"true if the best match passed the confidence threshold"`
	Confidence int         `json:"confidence" jsonschema:"top match similarity as a percentage"`
	Threshold  float64     `json:"threshold" jsonschema:"confidence threshold in [0,1]"`
	Summary    string      `json:"summary,omitempty" jsonschema:"confidence and item count summary"`
	Context    string      `json:"context,omitempty" jsonschema:"retrieved snippets within the context budget"`
	Items      int         `json:"items" jsonschema:"number of snippets included in context"`
	Truncated  bool        `json:"truncated,omitempty" jsonschema:"true if snippets were cut to fit the budget"`
	Hits       []HitOutput `json:"hits" jsonschema:"ranked matches"`
	Error      string      `json:"error,omitempty" jsonschema:"why no context could be retrieved"`
}

// HitOutput is one ranked match.
type HitOutput struct {
	Rank  int     `json:"rank"`
	Score float64 `json:"score" jsonschema:"similarity score"`
	Path  string  `json:"path" jsonschema:"file path relative to the project root"`
	Start int     `json:"start" jsonschema:"first line, 1-based"`
	End   int     `json:"end" jsonschema:"last line, inclusive"`
	Lang  string  `json:"lang,omitempty"`
	Stale bool    `json:"stale,omitempty" jsonschema:"true if the file changed since it was indexed"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Root      string         `json:"root"`
	State     string         `json:"state" jsonschema:"missing, ready, building or corrupt"`
	Error     string         `json:"error,omitempty"`
	Index     IndexStats     `json:"index"`
	Retrieval RetrievalStats `json:"retrieval"`
	Refresh   *RefreshStatus `json:"refresh,omitempty" jsonschema:"background refresh state, present when serving with a scheduler"`
}

// IndexStats contains statistics about the current generation.
type IndexStats struct {
	Model          string `json:"model,omitempty"`
	Dimensions     int    `json:"dimensions,omitempty"`
	Metric         string `json:"metric,omitempty"`
	FileCount      int    `json:"file_count"`
	ChunkCount     int    `json:"chunk_count"`
	IndexSizeBytes int64  `json:"index_size_bytes"`
	Revision       string `json:"revision,omitempty"`
	LastRefresh    string `json:"last_refresh,omitempty"`
}

// RetrievalStats contains query analytics.
type RetrievalStats struct {
	Threshold   float64 `json:"threshold"`
	Queries     uint64  `json:"queries"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	HitRatio    float64 `json:"hit_ratio"`
	LastQuery   string  `json:"last_query,omitempty"`
	LastAttempt string  `json:"last_attempt,omitempty"`
}

// RefreshStatus mirrors the scheduler's progress snapshot.
type RefreshStatus struct {
	Status         string  `json:"status" jsonschema:"idle, refreshing or error"`
	Stage          string  `json:"stage,omitempty"`
	Current        int     `json:"current"`
	Total          int     `json:"total"`
	ProgressPct    float64 `json:"progress_pct"`
	Passes         int     `json:"passes"`
	LastMode       string  `json:"last_mode,omitempty"`
	LastPassAt     string  `json:"last_pass_at,omitempty"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}
