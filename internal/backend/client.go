package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"shortsai-batch/internal/model"
	"shortsai-batch/internal/runstore"
)

const (
	DefaultRequestsPerSecond = 5
	requestIDHeader          = "X-Request-ID"
	maxErrorBody             = 4 * 1024
)

// ErrRenderRejected is returned when the render service answers a submission
// without accepting it.
var ErrRenderRejected = errors.New("render request rejected")

type Options struct {
	BaseURL           string
	APIToken          string
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client talks to the project persistence service and the render service.
// Every outgoing request waits on a shared rate limiter.
type Client struct {
	base    *url.URL
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("backend URL is required (set SHORTSAI_BACKEND_URL or run settings --backend-url)")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q", raw)
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	burst := max(int(rps), 1)

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		base:    base,
		token:   strings.TrimSpace(opts.APIToken),
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) endpoint(parts ...string) string {
	u := *c.base
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(escaped, "/")
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, target, err)
	}
	req.Header.Set(requestIDHeader, uuid.NewString())
	// Only the backend host sees the token; result URLs may point at a CDN.
	if c.token != "" && strings.EqualFold(req.URL.Host, c.base.Host) {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	return resp, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return statusError(req, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func statusError(req *http.Request, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		return fmt.Errorf("%s %s: unexpected status %s", req.Method, req.URL.Path, resp.Status)
	}
	return fmt.Errorf("%s %s: unexpected status %s: %s", req.Method, req.URL.Path, resp.Status, msg)
}

func (c *Client) GetProject(ctx context.Context, projectID string) (model.Project, error) {
	id := strings.TrimSpace(projectID)
	if id == "" {
		return model.Project{}, fmt.Errorf("project id is required")
	}
	req, err := c.newRequest(ctx, http.MethodGet, c.endpoint("api", "projects", id), nil)
	if err != nil {
		return model.Project{}, err
	}
	req.Header.Set("Accept", "application/json")

	var project model.Project
	if err := c.doJSON(req, &project); err != nil {
		return model.Project{}, fmt.Errorf("load project %s: %w", id, err)
	}
	if project.ID == "" {
		project.ID = id
	}
	return project, nil
}

// Upload sends a local file to the asset store and returns its hosted URL.
func (c *Client) Upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open upload %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read upload %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finish upload form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint("api", "upload"), &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out model.UploadResponse
	if err := c.doJSON(req, &out); err != nil {
		return "", fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	if strings.TrimSpace(out.URL) == "" {
		return "", fmt.Errorf("upload %s: response has no url", filepath.Base(path))
	}
	return out.URL, nil
}

// SubmitRender posts one render job and returns the service's job id.
func (c *Client) SubmitRender(ctx context.Context, in model.RenderRequest) (string, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("encode render request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint("api", "render"), bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("submit render: %w", err)
	}
	defer resp.Body.Close()

	var out model.RenderResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode/100 != 2 {
		if decodeErr == nil && out.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrRenderRejected, out.Error)
		}
		return "", fmt.Errorf("submit render: unexpected status %s", resp.Status)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode render response: %w", decodeErr)
	}
	if !out.Success {
		msg := strings.TrimSpace(out.Error)
		if msg == "" {
			msg = "render service did not accept the job"
		}
		return "", fmt.Errorf("%w: %s", ErrRenderRejected, msg)
	}
	if strings.TrimSpace(out.JobID) == "" {
		return "", fmt.Errorf("%w: response has no job id", ErrRenderRejected)
	}
	return out.JobID, nil
}

// Download fetches a rendered video into dest atomically and returns the
// number of bytes written.
func (c *Client) Download(ctx context.Context, videoURL, dest string) (int64, error) {
	target, err := c.resolve(videoURL)
	if err != nil {
		return 0, err
	}
	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", videoURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return 0, fmt.Errorf("download %s: %w", videoURL, statusError(req, resp))
	}
	n, err := runstore.WriteStream(dest, resp.Body)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", videoURL, err)
	}
	return n, nil
}

// resolve accepts absolute URLs and service-relative paths such as
// /renders/abc.mp4.
func (c *Client) resolve(raw string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (ref.Host == "" && ref.Path == "") {
		return "", fmt.Errorf("invalid video url %q", raw)
	}
	return c.base.ResolveReference(ref).String(), nil
}

// Ping reports whether the backend answers HTTP at all.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.base.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("backend %s answered %s", c.base, resp.Status)
	}
	return nil
}
