package cli

import (
	"flag"
	"fmt"
	"strings"

	"shortsai-batch/internal/model"
)

// renderFlags binds the per-enqueue render options. Unset flags keep the
// configured defaults.
type renderFlags struct {
	fps         *int
	resolution  *string
	format      *string
	subtitles   *string
	musicFile   *string
	musicURL    *string
	musicVolume *int
	endingFile  *string
	endingURL   *string
}

func bindRenderFlags(fs *flag.FlagSet) renderFlags {
	return renderFlags{
		fps:         fs.Int("fps", 0, "frames per second: 30|60 (0 keeps default)"),
		resolution:  fs.String("resolution", "", "resolution: 720p|1080p"),
		format:      fs.String("format", "", "container format: mp4|webm"),
		subtitles:   fs.String("subtitles", "", "burn in subtitles: yes|no"),
		musicFile:   fs.String("music", "", "local background music file to upload"),
		musicURL:    fs.String("music-url", "", "already hosted background music URL"),
		musicVolume: fs.Int("music-volume", -1, "background music volume 0-100 (-1 keeps default)"),
		endingFile:  fs.String("ending", "", "local ending video file to upload"),
		endingURL:   fs.String("ending-url", "", "already hosted ending video URL"),
	}
}

func (f renderFlags) apply(base model.RenderConfig) (model.RenderConfig, error) {
	cfg := base
	if *f.fps != 0 {
		cfg.FPS = *f.fps
	}
	if v := strings.TrimSpace(*f.resolution); v != "" {
		cfg.Resolution = strings.ToLower(v)
	}
	if v := strings.TrimSpace(*f.format); v != "" {
		cfg.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(*f.subtitles); v != "" {
		on, ok := parseBool(v)
		if !ok {
			return model.RenderConfig{}, fmt.Errorf("--subtitles must be yes or no")
		}
		cfg.ShowSubtitles = on
	}
	if v := strings.TrimSpace(*f.musicFile); v != "" {
		cfg.BgMusicFile = v
	}
	if v := strings.TrimSpace(*f.musicURL); v != "" {
		cfg.BgMusicURL = v
	}
	if *f.musicVolume != -1 {
		if *f.musicVolume < 0 || *f.musicVolume > 100 {
			return model.RenderConfig{}, fmt.Errorf("--music-volume must be between 0 and 100")
		}
		vol := *f.musicVolume
		cfg.BgMusicVolume = &vol
	}
	if v := strings.TrimSpace(*f.endingFile); v != "" {
		cfg.EndingVideoFile = v
	}
	if v := strings.TrimSpace(*f.endingURL); v != "" {
		cfg.EndingVideoURL = v
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return model.RenderConfig{}, err
	}
	return cfg, nil
}
