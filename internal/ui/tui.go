package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/repoindex/internal/index"
)

// TUIRenderer provides rich terminal UI using bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *buildModel
	tracker *ProgressTracker
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer.
// Returns an error if the output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newBuildModel(tracker, cfg.ProjectDir)
	if cfg.NoColor {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithInput(nil)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// Update implements Renderer.
func (r *TUIRenderer) Update(ev index.Progress) {
	// The model redraws from the tracker on every tick.
	r.tracker.Observe(ev)
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(res *index.BuildResult) {
	r.send(completeMsg{res: res})
}

// Fail implements Renderer.
func (r *TUIRenderer) Fail(err error) {
	r.send(failMsg{err: err})
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p == nil {
		return
	}
	p.Send(msg)
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program == nil {
		return nil
	}
	r.program.Quit()

	// Do not hang on an unresponsive program.
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

type completeMsg struct{ res *index.BuildResult }
type failMsg struct{ err error }
type tickMsg time.Time

// buildModel is the bubbletea model for build progress.
type buildModel struct {
	tracker     *ProgressTracker
	width       int
	done        bool
	result      *index.BuildResult
	err         error
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
	projectDir  string
}

func newBuildModel(tracker *ProgressTracker, projectDir string) *buildModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))

	p := progress.New(
		progress.WithSolidFill(ColorAccent),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)

	return &buildModel{
		tracker:     tracker,
		spinner:     s,
		progressBar: p,
		styles:      DefaultStyles(),
		width:       80,
		projectDir:  projectDir,
	}
}

// Init implements tea.Model.
func (m *buildModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *buildModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = min(max(msg.Width-24, 20), 60)

	case completeMsg:
		m.done = true
		m.result = msg.res
		return m, tea.Quit

	case failMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *buildModel) View() string {
	if m.done {
		if m.err != nil {
			return m.styles.Error.Render("✗ "+m.err.Error()) + "\n"
		}
		return m.styles.Success.Render("✓ ") + FormatSummary(m.result)
	}

	sections := []string{m.renderStages(), m.renderProgress()}
	if msg := m.tracker.Stats().Message; msg != "" {
		sections = append(sections, m.styles.Label.Render(msg))
	}

	title := "repoindex build"
	if m.projectDir != "" {
		title = fmt.Sprintf("repoindex build • %s", m.projectDir)
	}
	header := m.styles.Header.Render(title)
	return m.styles.Panel.Render(header+"\n"+strings.Join(sections, "\n")) + "\n"
}

var pipeline = []struct {
	state index.State
	name  string
}{
	{index.StateScanning, "Scan"},
	{index.StateChunking, "Chunk"},
	{index.StateEmbedding, "Embed"},
	{index.StateWriting, "Write"},
	{index.StateVerifying, "Verify"},
}

func (m *buildModel) renderStages() string {
	current := m.tracker.Stats().State

	var parts []string
	for _, s := range pipeline {
		var icon string
		var style lipgloss.Style
		switch {
		case s.state < current:
			icon, style = "●", m.styles.Success
		case s.state == current:
			icon, style = m.spinner.View(), m.styles.Active
		default:
			icon, style = "○", m.styles.Dim
		}
		parts = append(parts, style.Render(icon+" "+s.name))
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *buildModel) renderProgress() string {
	stats := m.tracker.Stats()
	if stats.Total == 0 {
		return fmt.Sprintf("%s %s...", m.spinner.View(), stats.State)
	}

	line := fmt.Sprintf("%s  %s",
		m.progressBar.ViewAs(stats.Progress),
		m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100)))

	unit := "files"
	if stats.State == index.StateEmbedding {
		unit = "chunks"
	}
	detail := fmt.Sprintf("%d / %d %s", stats.Current, stats.Total, unit)
	if stats.Speed > 0 {
		detail += fmt.Sprintf("  •  %.0f/s", stats.Speed)
	}
	if stats.ETA > 0 {
		detail += "  •  ETA " + formatDuration(stats.ETA)
	}
	return line + "\n" + m.styles.Label.Render(detail)
}

// formatDuration formats a duration as "1m 05s" or "12s".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
}
