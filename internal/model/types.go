package model

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	FPS30 = 30
	FPS60 = 60

	Resolution720p  = "720p"
	Resolution1080p = "1080p"

	FormatMP4  = "mp4"
	FormatWebM = "webm"

	DefaultBgMusicVolume = 50
)

// RenderConfig is the per-job render parameter set. It is copied into every
// job created from one enqueue call and never modified afterwards.
type RenderConfig struct {
	FPS             int    `json:"fps"`
	Resolution      string `json:"resolution"`
	Format          string `json:"format"`
	ShowSubtitles   bool   `json:"showSubtitles"`
	BgMusicFile     string `json:"bgMusicFile,omitempty"`
	BgMusicURL      string `json:"bgMusicUrl,omitempty"`
	BgMusicVolume   *int   `json:"bgMusicVolume,omitempty"`
	EndingVideoFile string `json:"endingVideoFile,omitempty"`
	EndingVideoURL  string `json:"endingVideoUrl,omitempty"`
}

func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		FPS:           FPS30,
		Resolution:    Resolution1080p,
		Format:        FormatMP4,
		ShowSubtitles: true,
	}
}

func (c RenderConfig) HasMusic() bool {
	return c.BgMusicFile != "" || c.BgMusicURL != ""
}

// Normalize fills unset fields with defaults and clamps the music volume.
func (c RenderConfig) Normalize() RenderConfig {
	def := DefaultRenderConfig()
	if c.FPS == 0 {
		c.FPS = def.FPS
	}
	if c.Resolution == "" {
		c.Resolution = def.Resolution
	}
	if c.Format == "" {
		c.Format = def.Format
	}
	if c.HasMusic() {
		vol := DefaultBgMusicVolume
		if c.BgMusicVolume != nil {
			vol = min(max(*c.BgMusicVolume, 0), 100)
		}
		c.BgMusicVolume = &vol
	}
	return c
}

func (c RenderConfig) Validate() error {
	if c.FPS != FPS30 && c.FPS != FPS60 {
		return fmt.Errorf("unsupported fps %d (expected %d or %d)", c.FPS, FPS30, FPS60)
	}
	if c.Resolution != Resolution720p && c.Resolution != Resolution1080p {
		return fmt.Errorf("unsupported resolution %q (expected %s or %s)", c.Resolution, Resolution720p, Resolution1080p)
	}
	if c.Format != FormatMP4 && c.Format != FormatWebM {
		return fmt.Errorf("unsupported format %q (expected %s or %s)", c.Format, FormatMP4, FormatWebM)
	}
	if c.BgMusicVolume != nil && (*c.BgMusicVolume < 0 || *c.BgMusicVolume > 100) {
		return fmt.Errorf("background music volume must be between 0 and 100")
	}
	return nil
}

// Volume returns the effective music volume sent to the renderer.
func (c RenderConfig) Volume() int {
	if c.BgMusicVolume == nil {
		return DefaultBgMusicVolume
	}
	return *c.BgMusicVolume
}

type Job struct {
	ID           string       `json:"id"`
	ProjectID    string       `json:"projectId"`
	ProjectTitle string       `json:"projectTitle"`
	ThumbnailURL string       `json:"thumbnailUrl,omitempty"`
	Config       RenderConfig `json:"config"`
	Status       string       `json:"status"`
	Progress     int          `json:"progress"`
	Phase        string       `json:"phase,omitempty"`
	Message      string       `json:"message,omitempty"`
	Error        string       `json:"error,omitempty"`
	DownloadURL  string       `json:"downloadUrl,omitempty"`
	LocalPath    string       `json:"localPath,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	CompletedAt  *time.Time   `json:"completedAt,omitempty"`
}

func (j Job) IsDone() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Queue is the persisted aggregate. CurrentJobIndex is -1 when no job is
// current, otherwise a valid index into Jobs.
type Queue struct {
	Jobs            []Job `json:"jobs"`
	CurrentJobIndex int   `json:"currentJobIndex"`
	IsActive        bool  `json:"isActive"`
	IsPaused        bool  `json:"isPaused"`
}

func EmptyQueue() Queue {
	return Queue{
		Jobs:            []Job{},
		CurrentJobIndex: -1,
	}
}

// Clone returns a deep copy safe to hand out of the store.
func (q Queue) Clone() Queue {
	out := q
	out.Jobs = make([]Job, len(q.Jobs))
	for i, j := range q.Jobs {
		if j.Config.BgMusicVolume != nil {
			v := *j.Config.BgMusicVolume
			j.Config.BgMusicVolume = &v
		}
		if j.CompletedAt != nil {
			t := *j.CompletedAt
			j.CompletedAt = &t
		}
		out.Jobs[i] = j
	}
	return out
}

func (q Queue) CurrentJob() (Job, bool) {
	if q.CurrentJobIndex < 0 || q.CurrentJobIndex >= len(q.Jobs) {
		return Job{}, false
	}
	return q.Jobs[q.CurrentJobIndex], true
}

func (q Queue) IndexOf(jobID string) int {
	for i := range q.Jobs {
		if q.Jobs[i].ID == jobID {
			return i
		}
	}
	return -1
}

type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Rendering int `json:"rendering"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Done      int `json:"done"`
	Percent   int `json:"percent"`
}

func (q Queue) Stats() Stats {
	var s Stats
	for _, j := range q.Jobs {
		switch j.Status {
		case StatusPending:
			s.Pending++
		case StatusRendering:
			s.Rendering++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	s.Total = len(q.Jobs)
	s.Done = s.Completed + s.Failed
	if s.Total > 0 {
		s.Percent = s.Done * 100 / s.Total
	}
	return s
}

// Project is the persistence service's view of one generated short.
type Project struct {
	ID           string  `json:"id"`
	Title        string  `json:"title,omitempty"`
	Topic        string  `json:"topic,omitempty"`
	ThumbnailURL string  `json:"thumbnailUrl,omitempty"`
	Scenes       []Scene `json:"scenes,omitempty"`
}

// Scene mirrors the editor representation. Nested editor configs are kept
// opaque; the renderer interprets them.
type Scene struct {
	SceneNumber     int             `json:"sceneNumber"`
	ImageURL        string          `json:"imageUrl,omitempty"`
	VideoURL        string          `json:"videoUrl,omitempty"`
	VideoDuration   float64         `json:"videoDuration,omitempty"`
	VideoCropConfig json.RawMessage `json:"videoCropConfig,omitempty"`
	AudioURL        string          `json:"audioUrl,omitempty"`
	DurationSeconds float64         `json:"durationSeconds"`
	Narration       string          `json:"narration"`
	WordTimings     json.RawMessage `json:"wordTimings,omitempty"`
	EffectConfig    json.RawMessage `json:"effectConfig,omitempty"`
	HookText        string          `json:"hookText,omitempty"`
	TextStyle       json.RawMessage `json:"textStyle,omitempty"`
	ParticleOverlay json.RawMessage `json:"particleOverlay,omitempty"`
	ImagePrompt     string          `json:"imagePrompt,omitempty"`
	LocalDraft      json.RawMessage `json:"localDraft,omitempty"`
}
