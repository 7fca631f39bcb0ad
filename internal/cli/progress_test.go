package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"shortsai-batch/internal/model"
)

func TestProgressBar(t *testing.T) {
	if got := progressBar(50, 10); got != "█████░░░░░" {
		t.Fatalf("unexpected bar %q", got)
	}
	if got := progressBar(150, 4); got != "████" {
		t.Fatalf("expected clamp to full, got %q", got)
	}
	if got := progressBar(-5, 4); got != "░░░░" {
		t.Fatalf("expected clamp to empty, got %q", got)
	}
}

func TestFormatElapsed(t *testing.T) {
	if got := formatElapsed(75 * time.Second); got != "01:15" {
		t.Fatalf("unexpected %q", got)
	}
	if got := formatElapsed(time.Hour + 2*time.Minute + 3*time.Second); got != "1:02:03" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestLiveProgressRendersCurrentJob(t *testing.T) {
	p := newLiveProgress(false, &bytes.Buffer{})
	q := model.Queue{
		Jobs: []model.Job{
			{ID: "a", ProjectTitle: "Done", Status: model.StatusCompleted, Progress: 100},
			{ID: "b", ProjectTitle: "Ocean Facts", Status: model.StatusRendering, Progress: 40, Phase: model.PhaseProcessing},
			{ID: "c", ProjectTitle: "Later", Status: model.StatusPending},
		},
		CurrentJobIndex: 1,
		IsActive:        true,
		IsPaused:        true,
	}
	p.Update(q)
	line := p.render()
	for _, want := range []string{"[2/3]", "processing", " 40%", "paused", "| Ocean Facts"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}

func TestLiveProgressDisabledPrintsPlainLines(t *testing.T) {
	var out bytes.Buffer
	p := newLiveProgress(false, &out)
	p.Start()
	p.Println("completed: A")
	p.Stop("queue: stopped")
	if got := out.String(); got != "completed: A\nqueue: stopped\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestJobResultLine(t *testing.T) {
	failed := model.Job{ProjectTitle: "A", Status: model.StatusFailed, Error: "boom"}
	if got := jobResultLine(failed); got != "failed: A | boom" {
		t.Fatalf("unexpected %q", got)
	}
	done := model.Job{ProjectTitle: "B", Status: model.StatusCompleted, DownloadURL: "https://x/v.mp4"}
	if got := jobResultLine(done); got != "completed: B | https://x/v.mp4" {
		t.Fatalf("unexpected %q", got)
	}
}
