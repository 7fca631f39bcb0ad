package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"shortsai-batch/internal/config"
	"shortsai-batch/internal/model"
)

type panelMode int

const (
	panelModeBrowse panelMode = iota
	panelModeForm
	panelModeClearConfirm
)

// panelQueue is the part of the queue store the panel drives.
type panelQueue interface {
	Snapshot() model.Queue
	Subscribe() (<-chan struct{}, func())
	AddJobs(projects []model.Project, cfg model.RenderConfig) int
	Remove(jobID string)
	ClearCompleted()
	ClearAll()
	Start()
	Stop()
	Pause()
	Resume()
}

type panelDeps struct {
	queue        panelQueue
	projects     projectFetcher
	remember     func(projects ...model.Project)
	saveDefaults func(cfg model.RenderConfig) (model.RenderConfig, error)
}

type panelModel struct {
	deps     panelDeps
	q        model.Queue
	defaults model.RenderConfig
	changes  <-chan struct{}
	unsub    func()
	cursor   int
	width    int
	height   int
	mode     panelMode
	form     *panelForm
	spinner  spinner.Model

	statusMessage string
	quitArmed     bool
	fatalErr      error
}

type panelQueueMsg struct {
	q model.Queue
}

type panelClosedMsg struct{}

type panelAddedMsg struct {
	added int
	err   error
}

type panelDefaultsMsg struct {
	cfg model.RenderConfig
	err error
}

type panelExecutorMsg struct {
	err error
}

var (
	panelTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	panelMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	panelErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	panelOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	panelBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	panelSelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
)

func runPanel(args []string) error {
	fs := flag.NewFlagSet("panel", flag.ContinueOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath, "settings path")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !stdinIsTTY() {
		return errors.New("panel requires an interactive terminal (TTY)")
	}

	a, err := openApp(*cfgPath, true)
	if err != nil {
		return err
	}
	defer a.Close()
	exec, err := a.newExecutor()
	if err != nil {
		return err
	}

	path := strings.TrimSpace(*cfgPath)
	deps := panelDeps{
		queue:    a.store,
		projects: a.client,
		remember: exec.Remember,
		saveDefaults: func(cfg model.RenderConfig) (model.RenderConfig, error) {
			s, err := config.Read(path)
			if err != nil {
				return model.RenderConfig{}, err
			}
			s.Render = cfg
			res, err := config.Update(config.UpdateOptions{ConfigPath: path, Settings: s})
			if err != nil {
				return model.RenderConfig{}, err
			}
			return res.Settings.Render, nil
		},
	}

	m := newPanelModel(deps, a.settings.Render)
	defer m.close()
	p := tea.NewProgram(m, tea.WithAltScreen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := exec.Run(ctx); err != nil && ctx.Err() == nil {
			p.Send(panelExecutorMsg{err: err})
		}
	}()

	finalModel, err := p.Run()
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "tty") {
			return errors.New("panel requires an interactive terminal (TTY)")
		}
		return err
	}
	if fm, ok := finalModel.(panelModel); ok {
		if fm.fatalErr != nil {
			return fm.fatalErr
		}
		fmt.Println(queueSummary(fm.q))
	}
	return nil
}

func newPanelModel(deps panelDeps, defaults model.RenderConfig) panelModel {
	changes, unsubscribe := deps.queue.Subscribe()
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return panelModel{
		deps:     deps,
		q:        deps.queue.Snapshot(),
		defaults: defaults,
		changes:  changes,
		unsub:    unsubscribe,
		mode:     panelModeBrowse,
		spinner:  sp,
	}
}

func (m panelModel) close() {
	if m.unsub != nil {
		m.unsub()
	}
}

func (m panelModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForQueueCmd(m.deps.queue, m.changes))
}

func waitForQueueCmd(q panelQueue, changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return panelClosedMsg{}
		}
		return panelQueueMsg{q: q.Snapshot()}
	}
}

func addJobsCmd(deps panelDeps, ids []string, cfg model.RenderConfig) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		projects, err := fetchProjects(ctx, deps.projects, ids)
		if err != nil {
			return panelAddedMsg{err: err}
		}
		if deps.remember != nil {
			deps.remember(projects...)
		}
		return panelAddedMsg{added: deps.queue.AddJobs(projects, cfg)}
	}
}

func saveDefaultsCmd(save func(model.RenderConfig) (model.RenderConfig, error), cfg model.RenderConfig) tea.Cmd {
	return func() tea.Msg {
		if save == nil {
			return panelDefaultsMsg{err: errors.New("saving defaults is not available")}
		}
		saved, err := save(cfg)
		return panelDefaultsMsg{cfg: saved, err: err}
	}
}

func (m panelModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.form.resize(m.width)
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case panelQueueMsg:
		m.setQueue(msg.q)
		return m, waitForQueueCmd(m.deps.queue, m.changes)
	case panelClosedMsg:
		return m, tea.Quit
	case panelExecutorMsg:
		m.fatalErr = msg.err
		return m, tea.Quit
	case panelAddedMsg:
		if msg.err != nil {
			if m.form != nil {
				m.form.Error = msg.err.Error()
				m.form.Saving = false
			}
			return m, nil
		}
		m.mode = panelModeBrowse
		m.form = nil
		m.statusMessage = fmt.Sprintf("queued %d job(s)", msg.added)
		m.setQueue(m.deps.queue.Snapshot())
		return m, nil
	case panelDefaultsMsg:
		if msg.err != nil {
			if m.form != nil {
				m.form.Error = msg.err.Error()
				m.form.Saving = false
			}
			return m, nil
		}
		m.mode = panelModeBrowse
		m.form = nil
		m.defaults = msg.cfg
		m.statusMessage = "updated render defaults"
		return m, nil
	}

	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch m.mode {
	case panelModeForm:
		return m.updateForm(keyMsg)
	case panelModeClearConfirm:
		return m.updateClearConfirm(keyMsg)
	default:
		return m.updateBrowse(keyMsg)
	}
}

func (m *panelModel) setQueue(q model.Queue) {
	m.q = q
	if len(q.Jobs) == 0 {
		m.cursor = 0
		return
	}
	m.cursor = clampInt(m.cursor, 0, len(q.Jobs)-1)
}

func (m panelModel) selectedJob() (model.Job, bool) {
	if m.cursor < 0 || m.cursor >= len(m.q.Jobs) {
		return model.Job{}, false
	}
	return m.q.Jobs[m.cursor], true
}

func (m panelModel) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key != "q" {
		m.quitArmed = false
	}
	switch key {
	case "ctrl+c":
		return m, tea.Quit
	case "q":
		if m.q.Stats().Rendering > 0 && !m.quitArmed {
			m.quitArmed = true
			m.statusMessage = "a render is in progress; press q again to quit (the job returns to pending)"
			return m, nil
		}
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down", "j":
		if m.cursor < len(m.q.Jobs)-1 {
			m.cursor++
		}
		return m, nil
	case "s":
		m.deps.queue.Start()
		m.setQueue(m.deps.queue.Snapshot())
		if m.q.IsActive {
			m.statusMessage = "queue started"
		} else {
			m.statusMessage = "nothing pending to start"
		}
		return m, nil
	case "p":
		switch {
		case m.q.IsActive && m.q.IsPaused:
			m.deps.queue.Resume()
			m.statusMessage = "queue resumed"
		case m.q.IsActive:
			m.deps.queue.Pause()
			m.statusMessage = "queue paused; the current render will finish"
		default:
			m.statusMessage = "queue is not running"
		}
		m.setQueue(m.deps.queue.Snapshot())
		return m, nil
	case "x":
		m.deps.queue.Stop()
		m.setQueue(m.deps.queue.Snapshot())
		m.statusMessage = "queue stopped; the current render will finish"
		return m, nil
	case "d":
		job, ok := m.selectedJob()
		if !ok {
			m.statusMessage = "select a job to remove"
			return m, nil
		}
		if job.Status == model.StatusRendering {
			m.statusMessage = "error: a rendering job cannot be removed"
			return m, nil
		}
		m.deps.queue.Remove(job.ID)
		m.setQueue(m.deps.queue.Snapshot())
		m.statusMessage = "removed job: " + job.ProjectTitle
		return m, nil
	case "c":
		before := len(m.q.Jobs)
		m.deps.queue.ClearCompleted()
		m.setQueue(m.deps.queue.Snapshot())
		m.statusMessage = fmt.Sprintf("cleared %d finished job(s)", before-len(m.q.Jobs))
		return m, nil
	case "C":
		if len(m.q.Jobs) == 0 {
			m.statusMessage = "queue is already empty"
			return m, nil
		}
		m.mode = panelModeClearConfirm
		return m, nil
	case "a", "n":
		m.mode = panelModeForm
		m.form = newAddJobsForm(m.defaults, m.width)
		m.statusMessage = ""
		return m, nil
	case "g":
		m.mode = panelModeForm
		m.form = newDefaultsForm(m.defaults, m.width)
		m.statusMessage = ""
		return m, nil
	case "r":
		m.setQueue(m.deps.queue.Snapshot())
		return m, nil
	}
	return m, nil
}

func (m panelModel) updateClearConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc", "n":
		m.mode = panelModeBrowse
		m.statusMessage = "clear cancelled"
		return m, nil
	case "y", "enter":
		m.deps.queue.ClearAll()
		m.setQueue(m.deps.queue.Snapshot())
		m.mode = panelModeBrowse
		m.statusMessage = "cleared all jobs"
		return m, nil
	}
	return m, nil
}

func (m panelModel) View() string {
	if m.fatalErr != nil {
		return panelErrorStyle.Render("fatal: " + m.fatalErr.Error())
	}
	if m.width <= 0 {
		m.width = 100
	}
	if m.height <= 0 {
		m.height = 30
	}
	switch m.mode {
	case panelModeForm:
		return m.viewForm()
	case panelModeClearConfirm:
		return m.viewClearConfirm()
	default:
		return m.viewBrowse()
	}
}

func (m panelModel) viewBrowse() string {
	header := panelTitleStyle.Render("shortsai-batch panel") + "  " + m.renderQueueBadge() + "\n" +
		panelMutedStyle.Render("s: start | p: pause/resume | x: stop | a: add | d: remove | c: clear finished | C: clear all | g: defaults | q: quit")

	status := m.renderStatusLine(m.width)
	if m.width < 90 {
		body := lipgloss.JoinVertical(lipgloss.Left, m.renderJobList(m.width), m.renderDetails(m.width))
		return lipgloss.JoinVertical(lipgloss.Left, header, body, status)
	}
	leftW := clampInt(m.width/2, 40, 64)
	rightW := m.width - leftW - 1
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.renderJobList(leftW), m.renderDetails(rightW))
	return lipgloss.JoinVertical(lipgloss.Left, header, body, status)
}

func (m panelModel) renderQueueBadge() string {
	st := m.q.Stats()
	text := fmt.Sprintf("[%s] %d/%d done", queueState(m.q), st.Done, st.Total)
	if st.Rendering > 0 {
		text = m.spinner.View() + " " + text
	}
	if st.Failed > 0 {
		return text + " " + panelErrorStyle.Render(fmt.Sprintf("%d failed", st.Failed))
	}
	return text
}

func (m panelModel) renderJobList(width int) string {
	total := len(m.q.Jobs)
	if total == 0 {
		lines := []string{
			panelMutedStyle.Render("Queue is empty."),
			panelMutedStyle.Render("Press a to queue projects."),
		}
		return panelBoxStyle.Width(width).Render(strings.Join(lines, "\n"))
	}

	maxRows := clampInt(m.height-10, 4, 24)
	start, end := listWindow(total, m.cursor, maxRows)
	lines := make([]string, 0, maxRows+2)
	if start > 0 {
		lines = append(lines, panelMutedStyle.Render("..."))
	}
	for i := start; i < end; i++ {
		j := m.q.Jobs[i]
		current := " "
		if i == m.q.CurrentJobIndex {
			current = "*"
		}
		line := fmt.Sprintf("%s[%s] %s", current, statusMark(j.Status), j.ProjectTitle)
		if j.Status == model.StatusRendering {
			line += fmt.Sprintf(" %3d%%", j.Progress)
		}
		line = truncateRunes(line, maxInt(width-6, 10))
		if i == m.cursor {
			line = panelSelStyle.Width(maxInt(width-4, 6)).Render(line)
		}
		lines = append(lines, line)
	}
	if end < total {
		lines = append(lines, panelMutedStyle.Render("..."))
	}
	return panelBoxStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m panelModel) renderDetails(width int) string {
	lines := []string{}
	if job, ok := m.selectedJob(); ok {
		lines = append(lines, "Job Details", "")
		lines = append(lines, kv("project", job.ProjectTitle))
		lines = append(lines, kv("project_id", job.ProjectID))
		lines = append(lines, kv("status", job.Status))
		switch job.Status {
		case model.StatusRendering:
			phase := defaultIfEmpty(job.Phase, "starting")
			lines = append(lines, kv("phase", m.spinner.View()+" "+phase))
			lines = append(lines, progressBar(job.Progress, clampInt(width-14, 10, 40))+fmt.Sprintf(" %3d%%", job.Progress))
			if job.Message != "" {
				lines = append(lines, panelMutedStyle.Render(job.Message))
			}
		case model.StatusCompleted:
			lines = append(lines, kv("video", defaultIfEmpty(job.DownloadURL, "(none)")))
			lines = append(lines, kv("file", defaultIfEmpty(job.LocalPath, "(not downloaded)")))
		case model.StatusFailed:
			lines = append(lines, panelErrorStyle.Render("error: "+job.Error))
		default:
			if job.Message != "" {
				lines = append(lines, panelMutedStyle.Render(job.Message))
			}
		}
		lines = append(lines, "", "Render")
		for _, l := range renderConfigLines(job.Config) {
			lines = append(lines, "  "+l)
		}
	} else {
		lines = append(lines, "Render Defaults", "")
		lines = append(lines, renderConfigLines(m.defaults)...)
		lines = append(lines, "", "Press g to edit defaults.")
	}

	st := m.q.Stats()
	lines = append(lines, "", "Queue")
	lines = append(lines, kv("state", queueState(m.q)))
	lines = append(lines, progressBar(st.Percent, clampInt(width-14, 10, 40))+fmt.Sprintf(" %3d%%", st.Percent))
	lines = append(lines, kv("pending", strconv.Itoa(st.Pending))+"  "+kv("completed", strconv.Itoa(st.Completed))+"  "+kv("failed", strconv.Itoa(st.Failed)))

	for i := range lines {
		lines[i] = wrapOrTrim(lines[i], maxInt(width-6, 12))
	}
	return panelBoxStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m panelModel) renderStatusLine(width int) string {
	msg := strings.TrimSpace(m.statusMessage)
	if msg == "" {
		msg = "Tip: jobs render one at a time; pause holds the queue after the current render."
	}
	style := panelMutedStyle
	lower := strings.ToLower(msg)
	if strings.HasPrefix(lower, "error:") {
		style = panelErrorStyle
	} else if strings.HasPrefix(lower, "queued") || strings.HasPrefix(lower, "updated") || strings.HasPrefix(lower, "queue started") {
		style = panelOKStyle
	}
	return style.Width(width).Render(truncateRunes(msg, maxInt(width-2, 10)))
}

func (m panelModel) viewClearConfirm() string {
	st := m.q.Stats()
	text := fmt.Sprintf(
		"Clear all %d job(s)?\n\n%d pending and %d rendering job(s) will be dropped.\nDownloaded files stay on disk.\n\nPress y or Enter to confirm, n or Esc to cancel.",
		st.Total, st.Pending, st.Rendering,
	)
	boxW := clampInt(m.width-8, 36, 80)
	boxH := clampInt(m.height-6, 9, 14)
	panel := panelBoxStyle.Width(boxW).Height(boxH).Render(text)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, panel)
}
