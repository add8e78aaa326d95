package sensor

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DirCamera replays the JPEG frames of a directory in name order, looping at
// the end. It backs headless kiosks and integration runs.
type DirCamera struct {
	dir string

	mu     sync.Mutex
	frames []string
	next   int
	open   bool
}

func NewDirCamera(dir string) *DirCamera {
	return &DirCamera{dir: dir}
}

func (c *DirCamera) Open(ctx context.Context) error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return &CameraError{Name: "NotFoundError", Err: err}
	}

	var frames []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg":
			frames = append(frames, filepath.Join(c.dir, entry.Name()))
		}
	}
	if len(frames) == 0 {
		return &CameraError{Name: "NotFoundError", Err: fmt.Errorf("no jpeg frames in %s", c.dir)}
	}
	sort.Strings(frames)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = frames
	c.next = 0
	c.open = true
	return nil
}

func (c *DirCamera) Capture(ctx context.Context) (image.Image, error) {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil, &CameraError{Name: "NotReadableError"}
	}
	path := c.frames[c.next]
	c.next = (c.next + 1) % len(c.frames)
	c.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, &CameraError{Name: "NotReadableError", Err: err}
	}
	defer f.Close()

	frame, err := jpeg.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", filepath.Base(path), err)
	}
	return frame, nil
}

func (c *DirCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}
