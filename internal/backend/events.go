package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"shortsai-batch/internal/model"
)

// Subscribe opens the render event stream. It returns once the server has
// accepted the connection, so a job submitted afterwards cannot miss its
// events. The channel closes when the stream ends or ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context) (<-chan model.RenderEvent, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.endpoint("api", "render", "events"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("subscribe to render events: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("subscribe to render events: %w", statusError(req, resp))
	}

	out := make(chan model.RenderEvent, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		readEvents(ctx, resp.Body, out)
	}()
	return out, nil
}

// readEvents parses a text/event-stream body. Data lines of one event are
// joined with newlines and dispatched on the blank line that ends it.
func readEvents(ctx context.Context, r io.Reader, out chan<- model.RenderEvent) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var data []string
	dispatch := func() bool {
		if len(data) == 0 {
			return true
		}
		payload := strings.Join(data, "\n")
		data = data[:0]

		var ev model.RenderEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil || ev.Type == "" {
			return true
		}
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		switch {
		case line == "":
			if !dispatch() {
				return
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	dispatch()
}
