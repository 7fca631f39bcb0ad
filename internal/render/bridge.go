package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"shortsai-batch/internal/model"
)

type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

type Submitter interface {
	SubmitRender(ctx context.Context, req model.RenderRequest) (string, error)
}

type EventFeed interface {
	Subscribe(ctx context.Context) (<-chan model.RenderEvent, error)
}

type Downloader interface {
	Download(ctx context.Context, videoURL, dest string) (int64, error)
}

type Options struct {
	Uploader   Uploader
	Submitter  Submitter
	Events     EventFeed
	Downloader Downloader
	UserID     string
	// OutputDir receives finished videos. Empty disables auto-download.
	OutputDir string
	Logger    *log.Logger
}

// Bridge drives one remote render per call. It keeps no job state between
// calls.
type Bridge struct {
	opts   Options
	logger *log.Logger
}

type Request struct {
	JobID   string
	Project model.Project
	Config  model.RenderConfig
}

type Progress struct {
	Phase   string
	Percent int
	Message string
}

type Result struct {
	RenderJobID string
	VideoURL    string
	LocalPath   string
}

func New(opts Options) (*Bridge, error) {
	if opts.Submitter == nil || opts.Events == nil {
		return nil, fmt.Errorf("render bridge requires a submitter and an event feed")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Bridge{opts: opts, logger: logger}, nil
}

func (b *Bridge) Render(ctx context.Context, req Request, progress func(Progress)) (Result, error) {
	if progress == nil {
		progress = func(Progress) {}
	}
	cfg := req.Config.Normalize()

	musicURL := b.hostedAsset(ctx, "background music", cfg.BgMusicFile, cfg.BgMusicURL)
	endingURL := b.hostedAsset(ctx, "ending video", cfg.EndingVideoFile, cfg.EndingVideoURL)

	renderReq := model.RenderRequest{
		ProjectID: req.Project.ID,
		UserID:    b.opts.UserID,
		Scenes:    Scenes(req.Project.Scenes),
		Options: model.RenderOptions{
			FPS:           cfg.FPS,
			Resolution:    cfg.Resolution,
			Format:        cfg.Format,
			ShowSubtitles: cfg.ShowSubtitles,
			BgMusicVolume: cfg.Volume(),
		},
		EndingVideoURL: endingURL,
		BgMusicURL:     musicURL,
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := b.opts.Events.Subscribe(streamCtx)
	if err != nil {
		return Result{}, fmt.Errorf("subscribe to render events: %w", err)
	}

	renderJobID, err := b.opts.Submitter.SubmitRender(ctx, renderReq)
	if err != nil {
		return Result{}, err
	}
	progress(Progress{Phase: model.PhaseProcessing, Message: "render job " + renderJobID + " submitted"})

	videoURL, err := b.await(ctx, events, renderJobID, progress)
	if err != nil {
		return Result{RenderJobID: renderJobID}, err
	}
	result := Result{RenderJobID: renderJobID, VideoURL: videoURL}
	result.LocalPath = b.download(ctx, req, cfg, renderJobID, videoURL)
	return result, nil
}

// hostedAsset returns a URL for an optional asset, uploading the local file
// when one is configured. Failures degrade to rendering without the asset.
func (b *Bridge) hostedAsset(ctx context.Context, label, localPath, hostedURL string) string {
	localPath = strings.TrimSpace(localPath)
	if localPath == "" {
		return strings.TrimSpace(hostedURL)
	}
	if b.opts.Uploader == nil {
		b.logger.Printf("warning: no uploader configured; rendering without %s", label)
		return strings.TrimSpace(hostedURL)
	}
	if _, err := os.Stat(localPath); err != nil {
		b.logger.Printf("warning: %s file unavailable (%v); rendering without it", label, err)
		return strings.TrimSpace(hostedURL)
	}
	url, err := b.opts.Uploader.Upload(ctx, localPath)
	if err != nil {
		b.logger.Printf("warning: %s upload failed (%v); rendering without it", label, err)
		return strings.TrimSpace(hostedURL)
	}
	return url
}

func (b *Bridge) await(ctx context.Context, events <-chan model.RenderEvent, renderJobID string, progress func(Progress)) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return "", fmt.Errorf("render event stream closed before job %s finished", renderJobID)
			}
			if ev.JobID != renderJobID {
				continue
			}
			switch ev.Type {
			case model.EventRenderProgress:
				progress(Progress{
					Phase:   ev.Phase,
					Percent: int(math.Round(ev.Progress)),
					Message: ev.Message,
				})
			case model.EventRenderComplete:
				if strings.TrimSpace(ev.VideoURL) == "" {
					return "", fmt.Errorf("render job %s completed without a video url", renderJobID)
				}
				return ev.VideoURL, nil
			case model.EventRenderFailed:
				msg := strings.TrimSpace(ev.Error)
				if msg == "" {
					msg = "render failed"
				}
				return "", errors.New(msg)
			}
		}
	}
}

func (b *Bridge) download(ctx context.Context, req Request, cfg model.RenderConfig, renderJobID, videoURL string) string {
	if b.opts.Downloader == nil || strings.TrimSpace(b.opts.OutputDir) == "" {
		return ""
	}
	dest := filepath.Join(b.opts.OutputDir, OutputFileName(req.Project.Title, renderJobID, cfg.Format))
	if _, err := b.opts.Downloader.Download(ctx, videoURL, dest); err != nil {
		b.logger.Printf("warning: download for job %s failed: %v", req.JobID, err)
		return ""
	}
	return dest
}

// Scenes maps editor scenes to renderer input, ordered by scene number.
func Scenes(in []model.Scene) []model.RenderScene {
	sorted := append([]model.Scene(nil), in...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SceneNumber < sorted[j].SceneNumber
	})
	out := make([]model.RenderScene, 0, len(sorted))
	for _, s := range sorted {
		out = append(out, model.RenderScene{
			SceneNumber:     s.SceneNumber,
			ImageURL:        s.ImageURL,
			VideoURL:        s.VideoURL,
			VideoDuration:   s.VideoDuration,
			VideoCropConfig: s.VideoCropConfig,
			AudioURL:        s.AudioURL,
			DurationSeconds: s.DurationSeconds,
			Narration:       s.Narration,
			WordTimings:     s.WordTimings,
			EffectConfig:    s.EffectConfig,
			HookText:        s.HookText,
			TextStyle:       s.TextStyle,
			ParticleOverlay: s.ParticleOverlay,
		})
	}
	return out
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func OutputFileName(title, renderJobID, format string) string {
	base := strings.Trim(unsafeFileChars.ReplaceAllString(strings.TrimSpace(title), "-"), "-.")
	if base == "" {
		base = "render"
	}
	if len(base) > 80 {
		base = base[:80]
	}
	id := strings.Trim(unsafeFileChars.ReplaceAllString(renderJobID, "-"), "-.")
	if format == "" {
		format = model.FormatMP4
	}
	return fmt.Sprintf("%s-%s.%s", base, id, format)
}
