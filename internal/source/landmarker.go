package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Landmarker turns an encoded image into detected faces with landmarks.
type Landmarker interface {
	Landmarks(ctx context.Context, jpeg []byte) ([]Face, error)
}

// HTTPLandmarker posts JPEG frames to a landmark detection sidecar and
// decodes its answer, which uses the same face layout as replay files:
//
//	{"faces": [{"id": "0", "points": [[x, y], ... 68 points]}]}
type HTTPLandmarker struct {
	url  string
	http *http.Client
}

func NewHTTPLandmarker(url string, timeout time.Duration) *HTTPLandmarker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPLandmarker{url: url, http: &http.Client{Timeout: timeout}}
}

func (l *HTTPLandmarker) Landmarks(ctx context.Context, jpeg []byte) ([]Face, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(jpeg))
	if err != nil {
		return nil, fmt.Errorf("landmarker request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	resp, err := l.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("landmarker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("landmarker status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var result replayLine
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode landmarks: %w", err)
	}

	faces := make([]Face, 0, len(result.Faces))
	for i, f := range result.Faces {
		id := f.ID
		if id == "" {
			id = fmt.Sprintf("%d", i)
		}
		faces = append(faces, Face{
			ID:        id,
			Landmarks: toPoints(f.Points),
			Left:      toPoints(f.Left),
			Right:     toPoints(f.Right),
		})
	}
	return faces, nil
}
