package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"shortsai-batch/internal/config"
	"shortsai-batch/internal/model"
)

func runRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath, "settings path")
	noStart := fs.Bool("no-start", false, "only run if the queue is already started")
	quiet := fs.Bool("quiet", false, "disable the live progress line")
	jsonOut := fs.Bool("json", false, "print JSON summary when done")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(*cfgPath, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ex, err := a.newExecutor()
	if err != nil {
		return err
	}

	if len(a.store.Snapshot().Jobs) == 0 {
		if *jsonOut {
			return printJSON(map[string]any{"stats": model.Stats{}, "state": "stopped"})
		}
		fmt.Println("queue is empty")
		fmt.Println("next: shortsai-batch add --project <id>")
		return nil
	}
	if snap := a.store.Snapshot(); snap.IsPaused {
		if *jsonOut {
			return printJSON(map[string]any{"state": queueState(snap), "stats": snap.Stats(), "jobs": snap.Jobs})
		}
		fmt.Println(queueSummary(snap))
		fmt.Println("queue is paused; next: shortsai-batch resume")
		return nil
	}
	if !*noStart {
		a.store.Start()
	}

	live := newLiveProgress(!*quiet && !*jsonOut && stdoutIsTTY(), os.Stdout)
	if !*jsonOut {
		a.store.OnJobComplete(func(j model.Job) {
			live.Println(jobResultLine(j))
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopSignals := handleInterrupts(cancel, func() {
		a.store.Stop()
		if !*jsonOut {
			live.Println("stopping after the current job (press ctrl+c again to abort)")
		}
	})
	defer stopSignals()

	changes, unsubscribe := a.store.Subscribe()
	defer unsubscribe()
	go func() {
		for range changes {
			live.Update(a.store.Snapshot())
		}
	}()
	live.Update(a.store.Snapshot())
	live.Start()

	runErr := ex.RunUntilDrained(ctx)
	q := a.store.Snapshot()
	if *jsonOut {
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			return runErr
		}
		return printJSON(map[string]any{"state": queueState(q), "stats": q.Stats(), "jobs": q.Jobs})
	}
	live.Stop(queueSummary(q))
	if errors.Is(runErr, context.Canceled) {
		return errors.New("run aborted; interrupted jobs return to pending on the next start")
	}
	if runErr != nil {
		return runErr
	}
	if st := q.Stats(); st.Failed > 0 && st.Pending == 0 {
		return fmt.Errorf("%d job(s) failed", st.Failed)
	}
	return nil
}

func jobResultLine(j model.Job) string {
	if j.Status == model.StatusFailed {
		return fmt.Sprintf("failed: %s | %s", j.ProjectTitle, j.Error)
	}
	if j.LocalPath != "" {
		return fmt.Sprintf("completed: %s | %s (%s)", j.ProjectTitle, j.LocalPath, localFileSize(j.LocalPath))
	}
	return fmt.Sprintf("completed: %s | %s", j.ProjectTitle, j.DownloadURL)
}

func localFileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "missing"
	}
	return formatBytesIEC(info.Size())
}

// handleInterrupts calls graceful on the first SIGINT/SIGTERM and abort on
// the second.
func handleInterrupts(abort func(), graceful func()) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		count := 0
		for {
			select {
			case <-done:
				return
			case <-sigCh:
				count++
				if count == 1 {
					graceful()
					continue
				}
				abort()
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
