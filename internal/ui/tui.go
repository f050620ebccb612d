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
)

// TUIRenderer provides rich terminal UI using bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *indexingModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer.
// Returns an error if TUI initialization fails (e.g., non-TTY output).
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newIndexingModel(tracker, cfg.ProjectDir)
	if cfg.NoColor || DetectNoColor() {
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

	var runCtx context.Context
	runCtx, r.cancel = context.WithCancel(ctx)

	opts := []tea.ProgramOption{tea.WithContext(runCtx), tea.WithAltScreen()}
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

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.tracker.Update(event)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(progressUpdateMsg(event))
	}
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.tracker.AddError(event)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(errorMsg(event))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Send(completeMsg(stats))
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

	// Do not hang on Ctrl+C when the program stopped responding.
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

// Message types for bubbletea
type progressUpdateMsg ProgressEvent
type errorMsg ErrorEvent
type completeMsg CompletionStats
type tickMsg time.Time

// indexingModel is the bubbletea model for indexing progress.
type indexingModel struct {
	tracker     *ProgressTracker
	width       int
	height      int
	quitting    bool
	complete    bool
	stats       CompletionStats
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
	projectDir  string
}

func newIndexingModel(tracker *ProgressTracker, projectDir string) *indexingModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))

	p := progress.New(
		progress.WithSolidFill(ColorLime),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &indexingModel{
		tracker:     tracker,
		spinner:     s,
		progressBar: p,
		styles:      DefaultStyles(),
		width:       80,
		height:      24,
		projectDir:  projectDir,
	}
}

// Init implements tea.Model.
func (m *indexingModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *indexingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progressBar.Width = max(msg.Width-20, 20)

	case progressUpdateMsg, errorMsg:
		// The tracker was updated by the renderer.
		return m, nil

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
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
func (m *indexingModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	contentWidth := max(m.width-4, 40)
	stats := m.tracker.Stats()

	sections := []string{
		m.renderState(stats),
		m.renderDivider(contentWidth),
		m.renderProgress(stats),
		m.renderSpeedMetrics(stats),
	}
	if stats.Determinate {
		sections = append(sections,
			m.renderDivider(contentWidth),
			m.renderSparkline(contentWidth))
	}
	if stats.CurrentFile != "" {
		sections = append(sections,
			m.renderDivider(contentWidth),
			m.styles.Dim.Render(truncateFilePath(stats.CurrentFile, contentWidth-2)))
	}

	title := "amanidx"
	if m.projectDir != "" {
		title = fmt.Sprintf("amanidx • %s", m.projectDir)
	}
	panel := m.wrapInPanel(title, strings.Join(sections, "\n"), contentWidth)
	return panel + "\n" + m.renderStatusBar(stats)
}

// renderState shows whether readers are gated and which task runs.
func (m *indexingModel) renderState(stats ProgressStats) string {
	var state string
	if stats.Rebuilding {
		state = m.styles.Active.Render(m.spinner.View() + " rebuilding")
	} else {
		state = m.styles.Success.Render("● usable")
	}
	task := stats.Task
	if task == "" {
		task = "waiting for tasks"
	}
	line := state + m.styles.Dim.Render("  →  ") + m.styles.Stage.Render(task)
	if stats.Pending > 0 {
		line += m.styles.Label.Render(fmt.Sprintf("  (+%d queued)", stats.Pending))
	}
	return line
}

func (m *indexingModel) renderProgress(stats ProgressStats) string {
	text := stats.Text
	if text == "" {
		text = "Preparing"
	}
	if !stats.Determinate {
		return fmt.Sprintf("%s %s...", m.spinner.View(), text)
	}

	bar := m.progressBar.ViewAs(stats.Progress)
	pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100))
	return fmt.Sprintf("%s  %s\n%s", bar, pct, m.styles.Label.Render(text))
}

func (m *indexingModel) renderSpeedMetrics(stats ProgressStats) string {
	parts := []string{m.styles.Label.Render("Elapsed: " + formatDuration(m.tracker.Elapsed()))}
	if stats.Determinate {
		speed := fmt.Sprintf("Speed: %.1f%%/s", stats.Speed.Current)
		if stats.Speed.Avg > 0 {
			speed += fmt.Sprintf(" (avg: %.1f, peak: %.1f)", stats.Speed.Avg, stats.Speed.Peak)
		}
		parts = append(parts, m.styles.Speed.Render(speed))
	}
	if stats.ETA > 0 {
		parts = append(parts, m.styles.Label.Render("ETA: "+formatDuration(stats.ETA)))
	}
	return strings.Join(parts, m.styles.Dim.Render("  •  "))
}

func (m *indexingModel) renderSparkline(width int) string {
	spark := m.tracker.RenderSparkline(max(width-10, 10))
	return m.styles.Sparkline.Render(spark) + " " + m.styles.Dim.Render("throughput ─")
}

func (m *indexingModel) renderDivider(width int) string {
	return m.styles.Border.Render(strings.Repeat("─", width))
}

func (m *indexingModel) wrapInPanel(title, content string, width int) string {
	panel := m.styles.Panel.Width(width)
	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		panel.Render(content),
	)
}

func (m *indexingModel) renderStatusBar(stats ProgressStats) string {
	var parts []string
	if stats.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.WarnCount)))
	}
	if stats.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", stats.ErrorCount)))
	}
	parts = append(parts, m.styles.Dim.Render("q to quit"))
	return strings.Join(parts, m.styles.Dim.Render("  │  "))
}

func (m *indexingModel) renderComplete() string {
	contentWidth := max(m.width-4, 40)

	header := m.styles.Success.Render("✓ Indexing Complete")
	if m.stats.Interrupted {
		header = m.styles.Warning.Render("⚠ Indexing Interrupted")
	}
	lines := []string{header, ""}

	row := func(label string, value string) {
		lines = append(lines, fmt.Sprintf("%s %s",
			m.styles.Label.Render(fmt.Sprintf("%-9s", label)), m.styles.Active.Render(value)))
	}
	row("Files:", fmt.Sprintf("%d", m.stats.Files))
	if m.stats.Removed > 0 {
		row("Removed:", fmt.Sprintf("%d", m.stats.Removed))
	}
	if m.stats.Skipped > 0 {
		row("Skipped:", fmt.Sprintf("%d", m.stats.Skipped))
	}
	row("Size:", FormatBytes(m.stats.Bytes))
	row("Duration:", formatDuration(m.stats.Duration))

	for _, p := range m.stats.Providers {
		lines = append(lines, m.styles.Speed.Render(
			fmt.Sprintf("  %s: %d files, %d items", p.Provider, p.Files, p.Items)))
	}

	if m.stats.Errors > 0 || m.stats.Warnings > 0 {
		lines = append(lines, "")
		if m.stats.Errors > 0 {
			lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", m.stats.Errors)))
		}
		if m.stats.Warnings > 0 {
			lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", m.stats.Warnings)))
		}
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorLime)).
		Padding(1, 2).
		Width(contentWidth)

	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", h, m)
}

// truncateFilePath shortens path to maxLen, keeping the file name.
func truncateFilePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	if maxLen < 4 {
		return "..."
	}

	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "..." + path[len(path)-maxLen+3:]
	}
	filename := path[i+1:]
	if len(filename)+4 > maxLen {
		return "..." + filename[len(filename)-maxLen+3:]
	}
	prefix := path[:i]
	remaining := maxLen - len(filename) - 4
	if remaining <= 0 {
		return ".../" + filename
	}
	return "..." + prefix[len(prefix)-remaining:] + "/" + filename
}

var _ Renderer = (*TUIRenderer)(nil)
