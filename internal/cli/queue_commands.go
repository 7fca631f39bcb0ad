package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"shortsai-batch/internal/config"
	"shortsai-batch/internal/model"
)

func runAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	projects := fs.String("project", "", "project id or comma-separated ids (positional ids also accepted)")
	cfgPath := fs.String("config", config.DefaultConfigPath, "settings path")
	rf := bindRenderFlags(fs)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	ids := splitIDs(append([]string{*projects}, fs.Args()...)...)
	if len(ids) == 0 {
		return errors.New("at least one project id is required (--project <id>)")
	}

	a, err := openApp(*cfgPath, true)
	if err != nil {
		return err
	}
	defer a.Close()

	renderCfg, err := rf.apply(a.settings.Render)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	loaded, err := fetchProjects(ctx, a.client, ids)
	if err != nil {
		return err
	}
	added := a.store.AddJobs(loaded, renderCfg)
	q := a.store.Snapshot()

	if *jsonOut {
		return printJSON(map[string]any{
			"added": added,
			"jobs":  q.Jobs[len(q.Jobs)-added:],
			"stats": q.Stats(),
		})
	}
	for _, j := range q.Jobs[len(q.Jobs)-added:] {
		fmt.Printf("queued: %s | %s\n", j.ID, j.ProjectTitle)
	}
	fmt.Printf("added %d job(s); queue total: %d\n", added, len(q.Jobs))
	if !q.IsActive {
		fmt.Println("next: shortsai-batch run")
	}
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath, "settings path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(*cfgPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	q := a.store.Snapshot()
	if *jsonOut {
		return printJSON(map[string]any{
			"queue": q,
			"stats": q.Stats(),
		})
	}

	if len(q.Jobs) == 0 {
		fmt.Println("queue is empty")
		fmt.Println("next: shortsai-batch add --project <id>")
		return nil
	}
	for i, j := range q.Jobs {
		marker := " "
		if i == q.CurrentJobIndex {
			marker = ">"
		}
		fmt.Printf("%s %d. %s\n", marker, i+1, jobLine(j))
	}
	fmt.Println(queueSummary(q))
	return nil
}

func jobLine(j model.Job) string {
	parts := []string{fmt.Sprintf("[%s]", j.Status), j.ProjectTitle, j.ID}
	switch j.Status {
	case model.StatusRendering:
		parts = append(parts, fmt.Sprintf("%d%%", j.Progress))
		if j.Phase != "" {
			parts = append(parts, j.Phase)
		}
	case model.StatusCompleted:
		if j.LocalPath != "" {
			parts = append(parts, j.LocalPath)
		} else if j.DownloadURL != "" {
			parts = append(parts, j.DownloadURL)
		}
	case model.StatusFailed:
		parts = append(parts, "error: "+j.Error)
	case model.StatusPending:
		if j.Message != "" {
			parts = append(parts, j.Message)
		}
	}
	return strings.Join(parts, " | ")
}

func queueState(q model.Queue) string {
	switch {
	case q.IsActive && q.IsPaused:
		return "paused"
	case q.IsActive:
		return "active"
	default:
		return "stopped"
	}
}

func queueSummary(q model.Queue) string {
	st := q.Stats()
	return fmt.Sprintf(
		"queue: %s | done %d/%d (%d%%) | completed %d | failed %d | pending %d",
		queueState(q), st.Done, st.Total, st.Percent, st.Completed, st.Failed, st.Pending,
	)
}

func runRemove(args []string) error {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	id := fs.String("id", "", "job id")
	cfgPath := fs.String("config", config.DefaultConfigPath, "settings path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	target := strings.TrimSpace(*id)
	if target == "" && fs.NArg() > 0 {
		target = strings.TrimSpace(fs.Arg(0))
	}
	if target == "" {
		return errors.New("--id is required")
	}

	a, err := openApp(*cfgPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	before := a.store.Snapshot()
	idx := before.IndexOf(target)
	if idx < 0 {
		return fmt.Errorf("job not found: %s", target)
	}
	a.store.Remove(target)
	removed := a.store.Snapshot().IndexOf(target) < 0

	if *jsonOut {
		return printJSON(map[string]any{"id": target, "removed": removed})
	}
	if !removed {
		fmt.Printf("job %s is rendering and cannot be removed\n", target)
		return nil
	}
	fmt.Printf("removed job: %s (%s)\n", target, before.Jobs[idx].ProjectTitle)
	return nil
}

func runClear(args []string) error {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	all := fs.Bool("all", false, "remove every job and reset the queue")
	cfgPath := fs.String("config", config.DefaultConfigPath, "settings path")
	yes := fs.Bool("yes", false, "skip confirmation for --all")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(*cfgPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	before := len(a.store.Snapshot().Jobs)
	if *all {
		if !*yes {
			ok, err := promptConfirm(fmt.Sprintf("remove all %d job(s) from the queue? [y/N] ", before))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("aborted")
				return nil
			}
		}
		a.store.ClearAll()
	} else {
		a.store.ClearCompleted()
	}
	removed := before - len(a.store.Snapshot().Jobs)

	if *jsonOut {
		return printJSON(map[string]any{"removed": removed, "all": *all})
	}
	fmt.Printf("removed %d job(s)\n", removed)
	return nil
}

// runQueueControl handles start, stop, pause and resume. These only change
// the persisted flags; the run and panel commands act on them.
func runQueueControl(name string, args []string) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath, "settings path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(*cfgPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	switch name {
	case "start":
		a.store.Start()
	case "stop":
		a.store.Stop()
	case "pause":
		a.store.Pause()
	case "resume":
		a.store.Resume()
	default:
		return fmt.Errorf("unknown queue control %q", name)
	}

	q := a.store.Snapshot()
	if *jsonOut {
		return printJSON(map[string]any{"state": queueState(q), "stats": q.Stats()})
	}
	fmt.Println(queueSummary(q))
	if name == "start" && len(q.Jobs) == 0 {
		fmt.Println("queue is empty; nothing to start")
	}
	return nil
}
