// Package camera provides frame sources for the scan pipeline.
//
// DirCamera treats a directory of still images as a camera. Frames are read in name order; in
// live mode new images dropped into the directory are picked up through fsnotify, which lets a
// phone sync folder or a capture tool feed the scanner.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/webp" // Register WebP decoder

	"github.com/purescanapp/purescan-server/internal/logger"
	"github.com/purescanapp/purescan-server/internal/scan"
)

// frameExtensions lists the file types read as frames.
var frameExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// Options configures a DirCamera.
type Options struct {
	Dir           string
	Live          bool          // Wait for new frames once the existing ones are consumed
	Loop          bool          // Replay the directory when exhausted (ignored in live mode)
	FrameInterval time.Duration // Delay between frames
	SettleDelay   time.Duration // Live mode: wait after a file appears before reading it (default 100ms)
	Logger        *slog.Logger
}

func (o *Options) setDefaults() {
	if o.SettleDelay == 0 {
		o.SettleDelay = 100 * time.Millisecond
	}
}

// DirCamera is a scan.Camera backed by a directory of images.
type DirCamera struct {
	opts   Options
	logger *slog.Logger
}

// New creates a DirCamera.
func New(opts Options) *DirCamera {
	opts.setDefaults()
	return &DirCamera{
		opts:   opts,
		logger: logger.OrDiscard(opts.Logger),
	}
}

// Open implements scan.Camera. A directory has a single facing, so facing is only logged.
func (c *DirCamera) Open(ctx context.Context, facing scan.Facing) (scan.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Clean(c.opts.Dir)
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%s: %w", dir, scan.ErrPermissionDenied)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", dir, errors.Join(scan.ErrCameraUnavailable, err))
	case !info.IsDir():
		return nil, fmt.Errorf("%s is not a directory: %w", dir, scan.ErrCameraUnavailable)
	}

	frames, err := listFrames(dir)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%s: %w", dir, scan.ErrPermissionDenied)
		}
		return nil, fmt.Errorf("list frames: %w", err)
	}

	s := &dirStream{
		camera: c,
		frames: frames,
		queued: make(map[string]bool, len(frames)),
	}
	for _, f := range frames {
		s.queued[f] = true
	}

	if c.opts.Live {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
		}
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		s.watcher = w
	}

	c.logger.Info("camera opened",
		"dir", dir,
		"facing", string(facing),
		"frames", len(frames),
		"live", c.opts.Live,
	)

	return s, nil
}

// listFrames returns the image files in dir sorted by name. Hidden files are skipped.
func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var frames []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if isFrame(path) {
			frames = append(frames, path)
		}
	}
	slices.Sort(frames)
	return frames, nil
}

func isFrame(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return frameExtensions[strings.ToLower(filepath.Ext(base))]
}

// dirStream is a scan.Stream over a DirCamera's directory.
type dirStream struct {
	camera  *DirCamera
	watcher *fsnotify.Watcher

	frames []string
	pos    int
	queued map[string]bool // unread paths, to fold Create and Write of the same file

	// decoded counts frames read since the last replay, to stop looping over a directory
	// that holds no readable image.
	decoded int
	started bool

	closeOnce sync.Once
	closeErr  error
}

// Next implements scan.Stream.
func (s *dirStream) Next(ctx context.Context) (image.Image, error) {
	if s.started && s.camera.opts.FrameInterval > 0 {
		if err := sleep(ctx, s.camera.opts.FrameInterval); err != nil {
			return nil, err
		}
	}
	s.started = true

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if s.pos < len(s.frames) {
			path := s.frames[s.pos]
			s.pos++
			delete(s.queued, path)

			img, err := loadFrame(path)
			if err != nil {
				s.camera.logger.Warn("skipping unreadable frame", "path", path, "error", err)
				continue
			}
			s.decoded++
			return img, nil
		}

		switch {
		case s.watcher != nil:
			if err := s.waitForFrame(ctx); err != nil {
				return nil, err
			}
		case s.camera.opts.Loop && s.decoded > 0:
			s.pos = 0
			s.decoded = 0
		default:
			return nil, scan.ErrStreamEnded
		}
	}
}

// waitForFrame blocks until the watcher reports a new or rewritten frame and queues it.
func (s *dirStream) waitForFrame(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-s.watcher.Events:
			if !ok {
				return scan.ErrStreamEnded
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isFrame(event.Name) {
				continue
			}
			if s.queued[event.Name] {
				continue
			}

			// Give the writer a moment to finish the file.
			if err := sleep(ctx, s.camera.opts.SettleDelay); err != nil {
				return err
			}
			s.queued[event.Name] = true
			s.frames = append(s.frames, event.Name)
			s.camera.logger.Debug("frame arrived", "path", event.Name)
			return nil
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return scan.ErrStreamEnded
			}
			return fmt.Errorf("watch frames: %w", err)
		}
	}
}

// Close implements scan.Stream. It is safe to call more than once.
func (s *dirStream) Close() error {
	s.closeOnce.Do(func() {
		if s.watcher != nil {
			s.closeErr = s.watcher.Close()
		}
		s.camera.logger.Debug("camera released", "dir", s.camera.opts.Dir)
	})
	return s.closeErr
}

func loadFrame(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
