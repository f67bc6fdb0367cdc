package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/repoindex/internal/config"
	"github.com/Aman-CERP/repoindex/internal/embed"
	ierrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status as its name.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// UnmarshalText decodes a status name written by MarshalText.
func (s *CheckStatus) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "PASS":
		*s = StatusPass
	case "WARN":
		*s = StatusWarn
	case "FAIL":
		*s = StatusFail
	default:
		return fmt.Errorf("unknown check status %q", text)
	}
	return nil
}

// Check names.
const (
	CheckDisk        = "disk_space"
	CheckWrite       = "write_permissions"
	CheckDescriptors = "file_descriptors"
	CheckConfig      = "config"
	CheckEncoder     = "encoder"
)

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker performs preflight validation checks.
type Checker struct {
	model   string
	minDisk uint64
	verbose bool
	output  io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithModel sets the encoder model checked by CheckEncoder.
func WithModel(model string) Option {
	return func(c *Checker) {
		c.model = model
	}
}

// WithMinDiskSpace overrides MinDiskSpaceBytes.
func WithMinDiskSpace(n uint64) Option {
	return func(c *Checker) {
		c.minDisk = n
	}
}

// WithVerbose enables verbose output.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// New creates a new Checker with the given options.
func New(opts ...Option) *Checker {
	c := &Checker{
		model:   embed.DefaultModel,
		minDisk: MinDiskSpaceBytes,
		output:  os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check against the project at root.
func (c *Checker) RunAll(ctx context.Context, root string) []CheckResult {
	results := c.RunRequired(root)
	results = append(results,
		c.CheckFileDescriptors(),
		c.CheckConfig(root),
		c.CheckEncoder(ctx),
	)
	return results
}

// RunRequired runs the checks a build cannot proceed without.
func (c *Checker) RunRequired(root string) []CheckResult {
	return []CheckResult{
		c.CheckDiskSpace(root),
		c.CheckWritePermissions(root),
	}
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// Err converts the first critical failure into an IndexError.
func (c *Checker) Err(results []CheckResult) error {
	for _, r := range results {
		if !r.IsCritical() {
			continue
		}
		code := ierrors.ErrCodeInternal
		switch r.Name {
		case CheckDisk:
			code = ierrors.ErrCodeDiskFull
		case CheckWrite:
			code = ierrors.ErrCodeFilePermission
		}
		e := ierrors.New(code, r.Name+": "+r.Message, nil)
		if r.Details != "" {
			e.WithSuggestion(r.Details)
		}
		return e
	}
	return nil
}

// SummaryStatus returns a summary status string for the results.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	hasCriticalFailure := false

	for _, r := range results {
		if r.IsCritical() {
			hasCriticalFailure = true
		}
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			hasWarnings = true
		}
	}

	if hasCriticalFailure {
		return "failed"
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "repoindex system check")
	_, _ = fmt.Fprintln(c.output, "======================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))

	var warnings, errors []string
	for _, r := range results {
		if r.IsCritical() {
			errors = append(errors, r.Name+": "+r.Message)
		} else if r.Status != StatusPass {
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}

	if len(errors) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d error(s):\n", len(errors))
		for _, e := range errors {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", e)
		}
	}

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d warning(s):\n", len(warnings))
		for _, w := range warnings {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", w)
		}
	}
}

// CheckWritePermissions checks that the index directory can be created
// under root.
func (c *Checker) CheckWritePermissions(root string) CheckResult {
	result := CheckResult{
		Name:     CheckWrite,
		Required: true,
	}

	f, err := os.CreateTemp(root, ".repoindex-preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		result.Details = "repoindex stores its index under " + filepath.Join(root, config.IndexDirName)
		return result
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// CheckConfig loads the project and user configuration.
func (c *Checker) CheckConfig(root string) CheckResult {
	result := CheckResult{
		Name:     CheckConfig,
		Required: true,
	}

	cfg, err := config.Load(root)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		result.Details = "fix " + filepath.Join(root, config.ProjectConfigName)
		return result
	}
	if !cfg.Index.Enabled {
		result.Status = StatusWarn
		result.Message = "indexing is disabled"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("model %s, %s chunking", cfg.Index.Model, cfg.Index.ChunkMode)
	return result
}

// CheckEncoder loads the configured encoder and embeds a sample text.
func (c *Checker) CheckEncoder(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     CheckEncoder,
		Required: true,
	}

	emb, err := embed.New(c.model)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		result.Details = "supported models: " + strings.Join(embed.Models(), ", ")
		return result
	}
	defer func() { _ = emb.Close() }()

	vec, err := emb.Embed(ctx, "preflight")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("sample embedding failed: %v", err)
		return result
	}
	if len(vec) != emb.Dimensions() {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("sample embedding returned %d dims, expected %d", len(vec), emb.Dimensions())
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s (%d dims)", emb.ModelName(), emb.Dimensions())
	return result
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
