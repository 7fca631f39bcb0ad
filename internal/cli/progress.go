package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"shortsai-batch/internal/model"
)

// liveProgress repaints a single status line for the job being rendered.
// Lines printed through Println scroll above it.
type liveProgress struct {
	enabled bool
	out     io.Writer

	mu      sync.Mutex
	queue   model.Queue
	started time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func newLiveProgress(enabled bool, out io.Writer) *liveProgress {
	return &liveProgress{
		enabled: enabled,
		out:     out,
		queue:   model.EmptyQueue(),
		started: time.Now(),
		stop:    make(chan struct{}),
	}
}

func (p *liveProgress) Start() {
	if !p.enabled {
		return
	}
	go func() {
		t := time.NewTicker(700 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-t.C:
				p.mu.Lock()
				fmt.Fprintf(p.out, "\r\033[2K%s", p.renderLocked())
				p.mu.Unlock()
			}
		}
	}()
}

func (p *liveProgress) Stop(final string) {
	p.stopOnce.Do(func() { close(p.stop) })
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled {
		fmt.Fprintf(p.out, "\r\033[2K%s\n", final)
		return
	}
	fmt.Fprintln(p.out, final)
}

func (p *liveProgress) Update(q model.Queue) {
	p.mu.Lock()
	p.queue = q
	p.mu.Unlock()
}

func (p *liveProgress) Println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled {
		fmt.Fprintf(p.out, "\r\033[2K%s\n", line)
		return
	}
	fmt.Fprintln(p.out, line)
}

func (p *liveProgress) render() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.renderLocked()
}

func (p *liveProgress) renderLocked() string {
	q := p.queue
	st := q.Stats()
	job, ok := q.CurrentJob()
	if !ok {
		return fmt.Sprintf("[%d/%d] %s  elapsed %s", st.Done, st.Total, queueState(q), formatElapsed(time.Since(p.started)))
	}

	title := job.ProjectTitle
	if len([]rune(title)) > 48 {
		title = truncateRunes(title, 48)
	}
	phase := job.Phase
	if phase == "" {
		phase = job.Status
	}
	parts := []string{
		fmt.Sprintf("[%d/%d]", q.CurrentJobIndex+1, st.Total),
		phase,
		progressBar(job.Progress, 20),
		fmt.Sprintf("%3d%%", job.Progress),
	}
	if st.Failed > 0 {
		parts = append(parts, fmt.Sprintf("failed %d", st.Failed))
	}
	if q.IsPaused {
		parts = append(parts, "paused")
	}
	parts = append(parts, "elapsed "+formatElapsed(time.Since(p.started)))
	parts = append(parts, "| "+title)
	return strings.Join(parts, "  ")
}

func progressBar(pct, width int) string {
	if width <= 0 {
		return ""
	}
	pct = clampInt(pct, 0, 100)
	filled := pct * width / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
