package camera

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/teslashibe/go-headwatch/internal/httpc"
)

// StreamSource reads frames from an MJPEG (multipart/x-mixed-replace)
// stream. The connection is opened on the first Capture and reopened on the
// Capture after any error.
type StreamSource struct {
	url    string
	client *http.Client

	mu      sync.Mutex
	body    io.ReadCloser
	scanner *bufio.Scanner
	closed  bool
}

// NewStreamSource creates a source for the MJPEG stream at url.
func NewStreamSource(url string) *StreamSource {
	return &StreamSource{
		url:    url,
		client: httpc.NewClient(0),
	}
}

// Capture returns the next complete JPEG from the stream. The connection
// is bound to the ctx of the Capture call that opened it.
func (s *StreamSource) Capture(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.scanner == nil {
		if err := s.connect(ctx); err != nil {
			return nil, err
		}
	}

	if !s.scanner.Scan() {
		err := s.scanner.Err()
		s.disconnect()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("camera: read stream: %w", err)
	}

	frame := make([]byte, len(s.scanner.Bytes()))
	copy(frame, s.scanner.Bytes())
	return frame, nil
}

func (s *StreamSource) connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("camera: build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("camera: open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("camera: open stream: HTTP %d", resp.StatusCode)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64<<10), MaxFrameSize)
	sc.Split(SplitJPEG)

	s.body = resp.Body
	s.scanner = sc
	return nil
}

func (s *StreamSource) disconnect() {
	if s.body != nil {
		s.body.Close()
	}
	s.body = nil
	s.scanner = nil
}

// Close drops the stream connection.
func (s *StreamSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.disconnect()
	return nil
}
