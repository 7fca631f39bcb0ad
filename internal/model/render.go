package model

import "encoding/json"

const (
	EventRenderProgress = "render_progress"
	EventRenderComplete = "render_complete"
	EventRenderFailed   = "render_failed"

	PhaseDownloading = "downloading"
	PhaseProcessing  = "processing"
	PhaseUploading   = "uploading"
	PhaseComplete    = "complete"
)

// RenderScene is the renderer's scene input. Editor-only fields are absent.
type RenderScene struct {
	SceneNumber     int             `json:"sceneNumber"`
	ImageURL        string          `json:"imageUrl,omitempty"`
	VideoURL        string          `json:"videoUrl,omitempty"`
	VideoDuration   float64         `json:"videoDuration,omitempty"`
	VideoCropConfig json.RawMessage `json:"videoCropConfig,omitempty"`
	AudioURL        string          `json:"audioUrl"`
	DurationSeconds float64         `json:"durationSeconds"`
	Narration       string          `json:"narration"`
	WordTimings     json.RawMessage `json:"wordTimings,omitempty"`
	EffectConfig    json.RawMessage `json:"effectConfig,omitempty"`
	HookText        string          `json:"hookText,omitempty"`
	TextStyle       json.RawMessage `json:"textStyle,omitempty"`
	ParticleOverlay json.RawMessage `json:"particleOverlay,omitempty"`
}

type RenderOptions struct {
	FPS           int    `json:"fps"`
	Resolution    string `json:"resolution"`
	Format        string `json:"format"`
	ShowSubtitles bool   `json:"showSubtitles"`
	BgMusicVolume int    `json:"bgMusicVolume"`
}

type RenderRequest struct {
	ProjectID      string        `json:"projectId"`
	UserID         string        `json:"userId"`
	Scenes         []RenderScene `json:"scenes"`
	Options        RenderOptions `json:"options"`
	EndingVideoURL string        `json:"endingVideoUrl,omitempty"`
	BgMusicURL     string        `json:"bgMusicUrl,omitempty"`
}

type RenderResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RenderEvent is one message on the renderer's push channel.
type RenderEvent struct {
	Type     string  `json:"type"`
	JobID    string  `json:"jobId"`
	Phase    string  `json:"phase,omitempty"`
	Progress float64 `json:"progress,omitempty"`
	Message  string  `json:"message,omitempty"`
	VideoURL string  `json:"videoUrl,omitempty"`
	Error    string  `json:"error,omitempty"`
}

type UploadResponse struct {
	URL string `json:"url"`
}
