package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/podaac/swodlr-raster-create/internal/jobset"
)

// pollTimeout bounds one status refresh.
const pollTimeout = 2 * time.Minute

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// pollFunc refreshes job statuses once.
type pollFunc func(ctx context.Context, js jobset.Jobset) (jobset.Jobset, error)

// tickMsg triggers a status refresh
type tickMsg time.Time

// jobsetMsg carries the refreshed jobset
type jobsetMsg struct {
	js  jobset.Jobset
	err error
}

// watchModel is the bubbletea model for a jobset in flight.
type watchModel struct {
	poll     pollFunc
	interval time.Duration
	js       jobset.Jobset
	polls    int
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newWatchModel(poll pollFunc, js jobset.Jobset, interval time.Duration) watchModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return watchModel{
		poll:     poll,
		interval: interval,
		js:       js,
		progress: prog,
		theme:    defaultTheme,
		done:     !js.HasWaiting(),
	}
}

// Init refreshes at once.
func (m watchModel) Init() tea.Cmd {
	if m.done {
		return tea.Quit
	}
	return tea.Batch(
		m.refresh(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.refresh()

	case jobsetMsg:
		m.polls++
		if msg.err != nil {
			m.err = fmt.Errorf("refresh job statuses: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.js = msg.js
		if !m.js.HasWaiting() {
			m.done = true
			return m, tea.Quit
		}
		return m, m.tick()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m watchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m watchModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	s := summarize(m.js)
	var pct float64
	if total := s.total(); total > 0 {
		pct = float64(s.success+s.fail) / float64(total)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[poll %d]", m.polls))
	counts := fmt.Sprintf("%d/%d jobs finished", s.success+s.fail, s.total())
	hint := m.theme.hintStyle().Render("Press q to stop watching")

	return fmt.Sprintf("%s %s %s\n%s\n", status, m.progress.ViewAs(pct), counts, hint)
}

func (m watchModel) finalView() string {
	if m.quitting {
		return m.theme.hintStyle().Render("\nStopped watching; jobs continue in the SDS.\n")
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}

	s := summarize(m.js)
	var b strings.Builder
	b.WriteString(m.theme.completedStyle().Render("✓ All jobs finished") + "\n\n")
	fmt.Fprintf(&b, "  Succeeded: %d\n", s.success)
	if s.fail > 0 {
		b.WriteString(m.theme.errorStyle().Render(fmt.Sprintf("  Failed:    %d", s.fail)) + "\n")
		for _, job := range m.js.Jobs {
			if job.Status.IsFail() {
				fmt.Fprintf(&b, "  • %s %s %s\n", job.ProductID, job.Status, strings.Join(job.Errors, "; "))
			}
		}
	}
	return b.String()
}

// refresh polls in a command to avoid blocking Update().
func (m watchModel) refresh() tea.Cmd {
	js := m.js
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
		defer cancel()

		out, err := m.poll(ctx, js)
		return jobsetMsg{js: out, err: err}
	}
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runWatchUI runs the interactive display until no job is waiting.
// Returns the last jobset seen.
func runWatchUI(poll pollFunc, js jobset.Jobset, interval time.Duration) (jobset.Jobset, error) {
	p := tea.NewProgram(newWatchModel(poll, js, interval))

	final, err := p.Run()
	if err != nil {
		return js, fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := final.(watchModel); ok {
		return m.js, m.err
	}
	return js, nil
}
