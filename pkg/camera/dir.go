package camera

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DirSource replays image files from a directory in name order.
// Capture returns io.EOF once every file has been returned.
type DirSource struct {
	mu    sync.Mutex
	files []string
	next  int
}

// NewDirSource lists the .jpg/.jpeg/.png files in dir.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("camera: read dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return &DirSource{files: files}, nil
}

// Len returns the number of frames in the directory.
func (d *DirSource) Len() int {
	return len(d.files)
}

// Capture reads the next file.
func (d *DirSource) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.next >= len(d.files) {
		d.mu.Unlock()
		return nil, io.EOF
	}
	path := d.files[d.next]
	d.next++
	d.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("camera: read frame: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFrame, filepath.Base(path))
	}
	return data, nil
}

// Close is a no-op.
func (d *DirSource) Close() error {
	return nil
}
