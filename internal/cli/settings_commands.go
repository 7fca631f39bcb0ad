package cli

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"shortsai-batch/internal/config"
	"shortsai-batch/internal/model"
)

func runSettings(args []string) error {
	if len(args) == 0 {
		printSettingsUsage()
		return nil
	}
	switch args[0] {
	case "show":
		return runSettingsShow(args[1:])
	case "set":
		return runSettingsSet(args[1:])
	case "help", "-h", "--help":
		printSettingsUsage()
		return nil
	default:
		printSettingsUsage()
		return fmt.Errorf("unknown settings subcommand %q", args[0])
	}
}

func runSettingsShow(args []string) error {
	fs := flag.NewFlagSet("settings show", flag.ContinueOnError)
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
	s = s.Redacted()
	if *jsonOut {
		return printJSON(map[string]any{
			"config_path": strings.TrimSpace(*cfgPath),
			"settings":    s,
		})
	}

	fmt.Printf("config: %s\n", strings.TrimSpace(*cfgPath))
	printSettings(s)
	return nil
}

func printSettings(s config.Settings) {
	fmt.Printf("backend_url: %s\n", defaultIfEmpty(s.BackendURL, "(not set)"))
	fmt.Printf("user_id: %s\n", defaultIfEmpty(s.UserID, "(not set)"))
	fmt.Printf("api_token: %s\n", defaultIfEmpty(s.APIToken, "(not set)"))
	fmt.Printf("state_dir: %s\n", s.StateDir)
	fmt.Printf("output_dir: %s\n", s.OutputDir)
	fmt.Printf("requests_per_second: %s\n", formatFloat(s.RequestsPerSecond))
	fmt.Println("render defaults:")
	for _, line := range renderConfigLines(s.Render) {
		fmt.Printf("  %s\n", line)
	}
}

func renderConfigLines(c model.RenderConfig) []string {
	lines := []string{
		kv("fps", strconv.Itoa(c.FPS)),
		kv("resolution", c.Resolution),
		kv("format", c.Format),
		kv("subtitles", yesNo(c.ShowSubtitles)),
	}
	if c.HasMusic() {
		lines = append(lines, kv("music", defaultIfEmpty(c.BgMusicFile, c.BgMusicURL)))
		lines = append(lines, kv("music_volume", strconv.Itoa(c.Volume())))
	} else {
		lines = append(lines, kv("music", "(none)"))
	}
	lines = append(lines, kv("ending", defaultIfEmpty(defaultIfEmpty(c.EndingVideoFile, c.EndingVideoURL), "(none)")))
	return lines
}

func runSettingsSet(args []string) error {
	fs := flag.NewFlagSet("settings set", flag.ContinueOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath, "settings path")
	backendURL := fs.String("backend-url", "", "backend base URL")
	userID := fs.String("user-id", "", "user id sent with render requests")
	apiToken := fs.String("api-token", "", "bearer token for the backend")
	stateDir := fs.String("state-dir", "", "queue state directory")
	outputDir := fs.String("output-dir", "", "directory for downloaded renders")
	rps := fs.Float64("requests-per-second", -1, "backend request rate limit (>0, -1 keeps current)")
	clearAssets := fs.Bool("clear-assets", false, "remove default music and ending video")
	rf := bindRenderFlags(fs)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := strings.TrimSpace(*cfgPath)
	s, err := config.Read(path)
	if err != nil {
		return err
	}

	if v := strings.TrimSpace(*backendURL); v != "" {
		s.BackendURL = v
	}
	if v := strings.TrimSpace(*userID); v != "" {
		s.UserID = v
	}
	if v := strings.TrimSpace(*apiToken); v != "" {
		s.APIToken = v
	}
	if v := strings.TrimSpace(*stateDir); v != "" {
		s.StateDir = v
	}
	if v := strings.TrimSpace(*outputDir); v != "" {
		s.OutputDir = v
	}
	if *rps != -1 {
		if *rps <= 0 {
			return errors.New("--requests-per-second must be > 0")
		}
		s.RequestsPerSecond = *rps
	}
	if *clearAssets {
		s.Render.BgMusicFile = ""
		s.Render.BgMusicURL = ""
		s.Render.BgMusicVolume = nil
		s.Render.EndingVideoFile = ""
		s.Render.EndingVideoURL = ""
	}
	s.Render, err = rf.apply(s.Render)
	if err != nil {
		return err
	}

	res, err := config.Update(config.UpdateOptions{ConfigPath: path, Settings: s})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(config.UpdateResult{ConfigPath: res.ConfigPath, Settings: res.Settings.Redacted()})
	}
	fmt.Printf("updated settings in %s\n", res.ConfigPath)
	printSettings(res.Settings.Redacted())
	return nil
}

func printSettingsUsage() {
	fmt.Println("settings commands:")
	fmt.Println("  settings show")
	fmt.Println("  settings set [--backend-url URL] [--user-id ID] [--api-token TOKEN]")
	fmt.Println("               [--state-dir DIR] [--output-dir DIR] [--requests-per-second N]")
	fmt.Println("               [--fps 30|60] [--resolution 720p|1080p] [--format mp4|webm] [--subtitles yes|no]")
	fmt.Println("               [--music FILE | --music-url URL] [--music-volume 0-100]")
	fmt.Println("               [--ending FILE | --ending-url URL] [--clear-assets]")
	fmt.Println()
	fmt.Println("environment overrides (also read from .env):")
	fmt.Printf("  %s, %s, %s,\n", config.EnvBackendURL, config.EnvUserID, config.EnvAPIToken)
	fmt.Printf("  %s, %s, %s\n", config.EnvStateDir, config.EnvOutputDir, config.EnvRequestsPerSecond)
}

func formatFloat(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
