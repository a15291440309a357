package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/FaultyPacketOverflowVector/Accela/queue"
)

// logLines is how many recent downloader lines stay on screen.
const logLines = 6

// Controller is the slice of the coordinator the dashboard drives.
type Controller interface {
	Jobs() []queue.Job
	Cancel(jobID string) error
	TogglePause(paused bool) error
}

// QueueModel is the Bubble Tea model for the queue dashboard.
type QueueModel struct {
	controller Controller
	events     <-chan queue.Event

	bar     progress.Model
	spin    spinner.Model
	styles  *Styles
	width   int
	percent float64
	speed   string
	logs    []string
	paused  bool
	done    bool
}

// NewQueueModel builds the dashboard over a coordinator's event
// stream.
func NewQueueModel(controller Controller, events <-chan queue.Event) *QueueModel {
	bar := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
	)
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(ColorInfo)

	return &QueueModel{
		controller: controller,
		events:     events,
		bar:        bar,
		spin:       spin,
		styles:     DefaultStyles(),
		width:      80,
	}
}

// waitForEvent bridges the coordinator's channel into Bubble Tea.
func (m *QueueModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return eventsClosedMsg{}
		}
		return ev
	}
}

type eventsClosedMsg struct{}

// Init initializes the model.
func (m *QueueModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.waitForEvent())
}

// Update handles messages.
func (m *QueueModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "p":
			m.paused = !m.paused
			if err := m.controller.TogglePause(m.paused); err != nil {
				m.paused = false
				m.pushLog(m.styles.Warning.Render("pause: " + err.Error()))
			}
		case "c":
			if job, ok := m.activeJob(); ok {
				m.controller.Cancel(job.ID)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = msg.Width - 20

	case queue.Event:
		switch msg.Kind {
		case queue.EventProgress:
			m.percent = msg.Percent
		case queue.EventSpeed:
			m.speed = formatSpeed(msg.Speed)
		case queue.EventLog:
			m.pushLog(msg.Message)
		case queue.EventJobState:
			if msg.State == queue.StateDownloading {
				m.percent = 0
				m.paused = false
			}
		}
		cmds = append(cmds, m.waitForEvent())

	case eventsClosedMsg:
		m.done = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		barModel, cmd := m.bar.Update(msg)
		m.bar = barModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *QueueModel) pushLog(line string) {
	m.logs = append(m.logs, line)
	if len(m.logs) > logLines {
		m.logs = m.logs[len(m.logs)-logLines:]
	}
}

func (m *QueueModel) activeJob() (queue.Job, bool) {
	for _, job := range m.controller.Jobs() {
		if !job.State.Terminal() && job.State != queue.StateQueued {
			return job, true
		}
	}
	return queue.Job{}, false
}

// View renders the dashboard.
func (m *QueueModel) View() string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Accela Download Queue") + "\n\n")

	jobs := m.controller.Jobs()
	if len(jobs) == 0 {
		b.WriteString(m.styles.Muted.Render("  queue is empty") + "\n")
	}
	for _, job := range jobs {
		b.WriteString(fmt.Sprintf("  %s %s %s\n",
			m.stateSymbol(job.State),
			jobTitle(job),
			m.styles.Muted.Render(string(job.State)),
		))
		if job.State == queue.StateDownloading {
			line := "    " + m.bar.ViewAs(m.percent/100)
			if m.speed != "" {
				line += "  " + m.styles.Info.Render(m.speed)
			}
			if m.paused {
				line += "  " + m.styles.Warning.Render("paused")
			}
			b.WriteString(line + "\n")
		}
		if job.State == queue.StateFailed && job.Err != nil {
			b.WriteString("    " + m.styles.Error.Render(job.Err.Error()) + "\n")
		}
	}

	if len(m.logs) > 0 {
		b.WriteString("\n")
		for _, line := range m.logs {
			b.WriteString("  " + m.styles.Muted.Render(line) + "\n")
		}
	}

	b.WriteString(m.styles.Help.Render("  p pause/resume • c cancel • q quit") + "\n")
	return b.String()
}

func (m *QueueModel) stateSymbol(state queue.JobState) string {
	switch state {
	case queue.StateCompleted:
		return m.styles.Success.Render(SymbolSuccess)
	case queue.StateFailed:
		return m.styles.Error.Render(SymbolError)
	case queue.StateCancelled:
		return m.styles.Warning.Render(SymbolWarning)
	case queue.StateQueued:
		return m.styles.Muted.Render(SymbolPending)
	default:
		return m.spin.View()
	}
}

func jobTitle(job queue.Job) string {
	if job.Game != nil && job.Game.GameName != "" {
		return job.Game.GameName
	}
	return job.SourcePath
}

// Run starts the dashboard and blocks until the user quits or the
// event stream closes.
func Run(controller Controller, events <-chan queue.Event) error {
	_, err := tea.NewProgram(NewQueueModel(controller, events)).Run()
	return err
}
