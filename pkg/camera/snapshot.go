package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/teslashibe/go-headwatch/internal/httpc"
)

// SnapshotSource fetches one still image per Capture.
type SnapshotSource struct {
	url    string
	client *http.Client
}

// NewSnapshotSource creates a source polling url. A zero timeout uses the
// shared client defaults.
func NewSnapshotSource(url string, timeout time.Duration) *SnapshotSource {
	client := httpc.Client
	if timeout > 0 {
		client = httpc.NewClient(timeout)
	}
	return &SnapshotSource{url: url, client: client}
}

// Capture performs one GET and returns the body.
func (s *SnapshotSource) Capture(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("camera: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("camera: fetch frame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("camera: fetch frame: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxFrameSize+1))
	if err != nil {
		return nil, fmt.Errorf("camera: read frame: %w", err)
	}
	if len(body) == 0 {
		return nil, ErrEmptyFrame
	}
	if len(body) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return body, nil
}

// Close releases idle connections.
func (s *SnapshotSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
