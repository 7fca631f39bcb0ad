package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"shortsai-batch/internal/backend"
	"shortsai-batch/internal/config"
)

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath, "settings path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := config.LoadEnvFile(config.DefaultEnvFile); err != nil {
		return err
	}
	res, err := config.InitWorkspace(config.InitWorkspaceOptions{ConfigPath: strings.TrimSpace(*cfgPath)})
	if err != nil {
		return err
	}
	s, err := config.Resolve(res.ConfigPath)
	if err != nil {
		return err
	}
	res.DoctorResult = doctor(s, res.ConfigPath)
	if *jsonOut {
		return printJSON(res)
	}

	fmt.Println("workspace initialized")
	fmt.Printf("config: %s\n", res.ConfigPath)
	fmt.Printf("state_dir: %s\n", res.StateDir)
	fmt.Printf("output_dir: %s\n", res.OutputDir)
	fmt.Printf("created_config: %t\n", res.CreatedConfig)
	fmt.Println("checks:")
	printChecks(res.DoctorResult, "  ")
	if !res.DoctorResult.OK {
		fmt.Println("next: shortsai-batch settings set --backend-url <url> --user-id <id>")
		return errors.New("doctor checks failed")
	}
	fmt.Println("next: shortsai-batch add --project <id>")
	return nil
}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath, "settings path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := loadSettings(*cfgPath)
	if err != nil {
		return err
	}
	res := doctor(s, strings.TrimSpace(*cfgPath))
	if *jsonOut {
		return printJSON(res)
	}

	printChecks(res, "")
	if !res.OK {
		return errors.New("doctor checks failed")
	}
	fmt.Println("doctor: all checks passed")
	return nil
}

func doctor(s config.Settings, configPath string) config.DoctorResult {
	opts := config.DoctorOptions{ConfigPath: configPath, Settings: s}
	if s.BackendURL != "" {
		client, err := backend.New(backend.Options{
			BaseURL:           s.BackendURL,
			APIToken:          s.APIToken,
			RequestsPerSecond: s.RequestsPerSecond,
		})
		if err == nil {
			opts.Backend = client
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return config.Doctor(ctx, opts)
}

func printChecks(res config.DoctorResult, indent string) {
	for _, c := range res.Checks {
		status := "ok"
		if !c.OK {
			status = "fail"
		}
		fmt.Printf("%s%s: %s (%s)\n", indent, c.Name, status, c.Message)
	}
}
