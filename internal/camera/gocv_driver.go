package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// GoCVDriver captures from a V4L2 device through OpenCV. One instance per
// device; the owning Machine serializes all calls.
type GoCVDriver struct {
	device string

	mu     sync.Mutex
	cap    *gocv.VideoCapture
	writer *gocv.VideoWriter
	width  int
	height int
	fps    int

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewGoCVDriver(device string) *GoCVDriver {
	return &GoCVDriver{device: device}
}

func (d *GoCVDriver) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cap != nil {
		return errors.New("device already open")
	}

	type result struct {
		cap *gocv.VideoCapture
		err error
	}
	ch := make(chan result, 1)
	go func() {
		cap, err := gocv.OpenVideoCapture(d.device)
		ch <- result{cap, err}
	}()

	select {
	case <-ctx.Done():
		// The open finishes in the background; a leaked handle is closed
		// when it arrives.
		go func() {
			if r := <-ch; r.cap != nil {
				_ = r.cap.Close()
			}
		}()
		return fmt.Errorf("open %s: %w", d.device, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("open %s: %w", d.device, r.err)
		}
		if !r.cap.IsOpened() {
			_ = r.cap.Close()
			return fmt.Errorf("open %s: device not opened", d.device)
		}
		d.cap = r.cap
		return nil
	}
}

func (d *GoCVDriver) Configure(width, height, fps int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cap == nil {
		return errors.New("device not open")
	}

	d.cap.Set(gocv.VideoCaptureFrameWidth, float64(width))
	d.cap.Set(gocv.VideoCaptureFrameHeight, float64(height))
	d.cap.Set(gocv.VideoCaptureFPS, float64(fps))

	d.width = width
	d.height = height
	d.fps = fps
	return nil
}

func (d *GoCVDriver) CaptureTestFrame(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cap == nil {
		return nil, errors.New("device not open")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := gocv.NewMat()
	defer img.Close()

	if ok := d.cap.Read(&img); !ok || img.Empty() {
		return nil, fmt.Errorf("device %s produced no frame", d.device)
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode test frame: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

func (d *GoCVDriver) Start(ctx context.Context, artifactPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cap == nil {
		return errors.New("device not open")
	}
	if d.writer != nil {
		return errors.New("capture already running")
	}

	fps := d.fps
	if fps <= 0 {
		fps = 30
	}

	writer, err := gocv.VideoWriterFile(artifactPath, "avc1", float64(fps), d.width, d.height, true)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", artifactPath, err)
	}
	if !writer.IsOpened() {
		_ = writer.Close()
		return fmt.Errorf("writer for %s not opened", artifactPath)
	}

	d.writer = writer
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	go d.captureLoop(d.cap, writer, fps, d.stopCh, d.doneCh)
	return nil
}

// captureLoop owns the frame pump between Start and Stop. It holds no
// locks; Stop signals it and waits.
func (d *GoCVDriver) captureLoop(cap *gocv.VideoCapture, writer *gocv.VideoWriter, fps int, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	img := gocv.NewMat()
	defer img.Close()

	interval := time.Second / time.Duration(fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if ok := cap.Read(&img); !ok || img.Empty() {
				continue
			}
			_ = writer.Write(img)
		}
	}
}

func (d *GoCVDriver) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.writer == nil {
		return nil
	}

	close(d.stopCh)
	select {
	case <-d.doneCh:
	case <-ctx.Done():
		return fmt.Errorf("stop capture: %w", ctx.Err())
	}

	err := d.writer.Close()
	d.writer = nil
	d.stopCh = nil
	d.doneCh = nil
	if err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

func (d *GoCVDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cap == nil {
		return nil
	}
	err := d.cap.Close()
	d.cap = nil
	if err != nil {
		return fmt.Errorf("close device %s: %w", d.device, err)
	}
	return nil
}
