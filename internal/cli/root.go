package cli

import "fmt"

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "init":
		return runInit(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "settings":
		return runSettings(args[1:])
	case "add":
		return runAdd(args[1:])
	case "list", "status":
		return runList(args[1:])
	case "remove":
		return runRemove(args[1:])
	case "clear":
		return runClear(args[1:])
	case "start", "stop", "pause", "resume":
		return runQueueControl(args[0], args[1:])
	case "run":
		return runRun(args[1:])
	case "panel":
		return runPanel(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("shortsai-batch: batch render queue for generated shorts")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  shortsai-batch init")
	fmt.Println("  shortsai-batch settings set --backend-url <url> --user-id <id>")
	fmt.Println("  shortsai-batch add --project <id>[,<id>...] [--fps 60] [--format webm]")
	fmt.Println("  shortsai-batch run")
	fmt.Println()
	fmt.Println("Queue Commands:")
	fmt.Println("  add       queue render jobs for one or more projects")
	fmt.Println("  list      show queued jobs and queue state (alias: status)")
	fmt.Println("  remove    remove a job that is not rendering")
	fmt.Println("  clear     clear finished jobs (--all clears everything)")
	fmt.Println("  start     mark the queue active from the first pending job")
	fmt.Println("  pause     hold the queue after the current job (run keeps it held)")
	fmt.Println("  resume    continue a paused queue")
	fmt.Println("  stop      deactivate the queue; an in-flight render still finishes")
	fmt.Println()
	fmt.Println("Execution:")
	fmt.Println("  run       render pending jobs one at a time until the queue drains")
	fmt.Println("  panel     interactive queue panel with live progress")
	fmt.Println()
	fmt.Println("Workspace:")
	fmt.Println("  init      create settings + state directories and run checks")
	fmt.Println("  doctor    check directories, settings and backend reachability")
	fmt.Println("  settings  show/update backend settings and render defaults")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Use --json on commands for machine-readable output")
	fmt.Println("  - SHORTSAI_* environment variables and a local .env override settings")
	fmt.Println("  - One process owns the queue state at a time; use the panel to add while rendering")
}
