//go:build linux

package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"manual-shutter/pkg/histogram"
	"manual-shutter/pkg/ov"
	"manual-shutter/pkg/session"
	"manual-shutter/pkg/types"
	"manual-shutter/pkg/utils/image"
)

var ErrCapturing = errors.New("capture in progress")

type stream struct {
	camera *device.Device
	cancel context.CancelFunc
	width  int
	height int
}

// Backend drives one V4L2 node. The preview stream stays open between
// repeating requests; a still capture stops it, reopens the device at full
// resolution for each output and resumes the preview afterwards.
type Backend struct {
	path     string
	cfg      Config
	probed   *probed
	listener session.Listener
	preview  *Broadcaster
	onClose  func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lock      sync.Mutex
	cur       *stream
	repeating *session.Request
	settings  types.CameraSettings
	capturing bool
	closed    bool
}

func newBackend(ctx context.Context, path string, cfg Config, p *probed, l session.Listener, preview *Broadcaster) *Backend {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &Backend{
		path:     path,
		cfg:      cfg,
		probed:   p,
		listener: l,
		preview:  preview,
		ctx:      ctx,
		cancel:   cancel,
		settings: make(types.CameraSettings),
	}
	b.wg.Add(1)
	go b.meterLoop()

	return b
}

func (b *Backend) SubmitRepeating(req session.Request) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return ErrNotStarted
	}
	b.repeating = &req
	if b.capturing {
		return nil
	}
	b.apply(b.probed.ctrls.Settings(req))
	if b.cur == nil {
		if err := b.startPreview(); err != nil {
			return err
		}
	}
	if req.AFTrigger && b.probed.ctrls.Has(CtrlAFStart) {
		if err := b.cur.camera.SetControlValue(v4l2.CtrlID(CtrlAFStart), 1); err != nil {
			logger.Warnf("camera: start auto focus: %s", err)
		}
	}

	return nil
}

// StopRepeating stops delivering preview frames. The stream itself stays up
// until the next capture or Close.
func (b *Backend) StopRepeating() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.repeating = nil
	return nil
}

func (b *Backend) SubmitOnce(req session.Request) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return ErrNotStarted
	}
	if b.capturing {
		return ErrCapturing
	}
	b.capturing = true
	b.wg.Add(1)
	go b.capture(req)

	return nil
}

func (b *Backend) Close() error {
	b.lock.Lock()
	if b.closed {
		b.lock.Unlock()
		return nil
	}
	b.closed = true
	b.repeating = nil
	b.cancel()
	err := b.stop()
	b.lock.Unlock()

	b.wg.Wait()
	if b.onClose != nil {
		b.onClose()
	}
	logger.Infof("camera: %s closed", b.path)

	return err
}

// Controls reads the known controls back from the open stream.
func (b *Backend) Controls() ([]ov.Control, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.cur == nil {
		return nil, ErrNotStarted
	}

	var res []ov.Control
	for _, id := range KnownControls {
		c, ok := b.probed.ctrls.Control(id)
		if !ok {
			continue
		}
		ctrl, err := v4l2.GetControl(b.cur.camera.Fd(), v4l2.CtrlID(id))
		if err != nil {
			logger.Warnf("The device does not support control(%d)", id)
			continue
		}
		c.Value = int32(ctrl.Value)
		res = append(res, c.OV())
	}

	return res, nil
}

// open starts a stream; the caller holds the lock.
func (b *Backend) open(format v4l2.FourCCType, width, height int) (*stream, error) {
	logger.Infof("camera: start %s in %d*%d", b.path, width, height)
	camera, err := device.Open(
		b.path,
		device.WithBufferSize(uint32(b.cfg.BufferSize)),
		device.WithFPS(uint32(b.cfg.FPS)),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: format,
			Width:       uint32(width),
			Height:      uint32(height),
			Field:       v4l2.FieldNone,
		}),
	)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(b.ctx)
	if err = camera.Start(ctx); err != nil {
		cancel()
		_ = camera.Close()
		return nil, err
	}
	s := &stream{camera: camera, cancel: cancel, width: width, height: height}
	for k, v := range b.settings {
		if err := camera.SetControlValue(v4l2.CtrlID(k), v4l2.CtrlValue(v)); err != nil {
			logger.Warnf("set ctrl(%d) to %d, err: %s", k, v, err)
		}
	}

	return s, nil
}

// stop closes the current stream; the caller holds the lock.
func (b *Backend) stop() error {
	if b.cur == nil {
		return nil
	}
	s := b.cur
	b.cur = nil
	// let the streaming goroutine see ctx.Done and stop the device before Close
	s.cancel()
	time.Sleep(100 * time.Millisecond)

	return s.camera.Close()
}

// apply records settings and writes the changed values to the open stream.
func (b *Backend) apply(settings types.CameraSettings) {
	for k, v := range settings {
		if old, ok := b.settings[k]; ok && old == v {
			continue
		}
		b.settings[k] = v
		if b.cur == nil {
			continue
		}
		if err := b.cur.camera.SetControlValue(v4l2.CtrlID(k), v4l2.CtrlValue(v)); err != nil {
			logger.Warnf("set ctrl(%d) to %d, err: %s", k, v, err)
		}
	}
}

func (b *Backend) startPreview() error {
	s, err := b.open(v4l2.PixelFmtYUYV, b.cfg.Preview.Width, b.cfg.Preview.Height)
	if err != nil {
		return err
	}
	b.cur = s
	b.wg.Add(1)
	go b.previewLoop(s)

	return nil
}

// resumePreview restarts the preview after a capture, retrying while the
// driver still reports the device busy.
func (b *Backend) resumePreview() error {
	time.Sleep(50 * time.Millisecond)
	var err error
	for i := 0; i < 5; i++ {
		if err = b.startPreview(); err == nil {
			return nil
		}
		if !isBusyErr(err) {
			break
		}
		logger.Warnf("failed to resume preview will retry %d/5: %v", i+1, err)
		time.Sleep(150 * time.Millisecond)
	}
	return err
}

func (b *Backend) previewLoop(s *stream) {
	defer b.wg.Done()
	frames := s.camera.GetOutput()
	for {
		select {
		case <-b.ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				b.streamEnded(s)
				return
			}
			b.previewFrame(s, frame)
		}
	}
}

func (b *Backend) streamEnded(s *stream) {
	b.lock.Lock()
	unexpected := b.cur == s && !b.closed
	b.lock.Unlock()
	if unexpected {
		b.listener.OnDeviceError(fmt.Errorf("camera %s: preview stream ended", b.path))
	}
}

func (b *Backend) previewFrame(s *stream, frame []byte) {
	b.lock.Lock()
	deliver := b.repeating != nil && b.cur == s
	b.lock.Unlock()
	if !deliver || len(frame) == 0 {
		return
	}

	gray, err := image.GrayFromYUYV(frame, s.width, s.height)
	if err != nil {
		logger.Debugf("camera: drop preview frame: %s", err)
		return
	}
	b.listener.OnPreviewFrame(histogram.Luma{Pix: gray.Pix, Width: s.width, Height: s.height, Stride: gray.Stride})

	if !b.preview.Active() {
		return
	}
	img, err := image.YCbCrFromYUYV(frame, s.width, s.height)
	if err != nil {
		return
	}
	var buf bytes.Buffer
	if err = image.EncodeJPEG(img, &buf, b.cfg.PreviewQuality); err != nil {
		logger.Warnf("camera: encode preview: %s", err)
		return
	}
	b.preview.Publish(buf.Bytes())
}

func (b *Backend) meterLoop() {
	defer b.wg.Done()
	t := time.NewTicker(b.cfg.MeterInterval)
	defer t.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-t.C:
		}
		b.lock.Lock()
		var values types.CameraSettings
		if b.cur != nil && b.repeating != nil && !b.capturing {
			values = b.readControls()
		}
		b.lock.Unlock()
		if values != nil {
			b.listener.OnMetering(b.probed.ctrls.Result(values, time.Now()))
		}
	}
}

// readControls reads the metering controls; the caller holds the lock.
func (b *Backend) readControls() types.CameraSettings {
	res := make(types.CameraSettings)
	for _, id := range []types.CtrlID{CtrlExposureAbsolute, CtrlISO, CtrlGain, CtrlFocusAbsolute, CtrlAFStatus, CtrlSensorRotation} {
		if !b.probed.ctrls.Has(id) {
			continue
		}
		ctrl, err := v4l2.GetControl(b.cur.camera.Fd(), v4l2.CtrlID(id))
		if err != nil {
			continue
		}
		res[id] = types.CtrlValue(ctrl.Value)
	}
	return res
}

func (b *Backend) capture(req session.Request) {
	defer b.wg.Done()
	start := time.Now()
	err := b.shoot(req)

	b.lock.Lock()
	b.capturing = false
	if b.cur == nil && b.repeating != nil && !b.closed {
		if err := b.resumePreview(); err != nil {
			logger.Warnf("failed to resume preview after capture: %v", err)
		}
	}
	b.lock.Unlock()

	if err != nil {
		b.listener.OnCaptureFailed(req.TxID, err)
		return
	}
	logger.Debugf("camera: capture %s took %s", req.TxID, time.Since(start))
}

func (b *Backend) shoot(req session.Request) error {
	settings := b.probed.ctrls.Settings(req)

	var values types.CameraSettings
	for _, kind := range req.Outputs {
		format, res := v4l2.PixelFmtJPEG, b.probed.jpeg
		if kind == session.ArtifactRaw {
			format, res = v4l2.PixelFmtYUYV, b.probed.raw
		}

		b.lock.Lock()
		if b.closed {
			b.lock.Unlock()
			return ErrNotStarted
		}
		_ = b.stop()
		b.apply(settings)
		s, err := b.open(format, res.Width, res.Height)
		if err == nil {
			b.cur = s
		}
		b.lock.Unlock()
		if err != nil {
			return fmt.Errorf("start %s stream: %w", kind, err)
		}

		frame, err := b.grab(s)
		b.lock.Lock()
		if err == nil {
			values = b.readControls()
		}
		_ = b.stop()
		b.lock.Unlock()
		if err != nil {
			return fmt.Errorf("capture %s: %w", kind, err)
		}

		b.listener.OnArtifact(session.Artifact{
			Kind:      kind,
			TxID:      req.TxID,
			Data:      frame,
			Width:     res.Width,
			Height:    res.Height,
			Timestamp: time.Now(),
		})
	}

	r := b.probed.ctrls.Result(values, time.Now())
	r.TxID = req.TxID
	if r.Orientation == 0 {
		r.Orientation = req.Orientation
	}
	b.listener.OnCaptureCompleted(r)

	return nil
}

// grab returns a copy of the first frame after the warmup frames.
func (b *Backend) grab(s *stream) ([]byte, error) {
	frames := s.camera.GetOutput()
	timeout := time.NewTimer(b.cfg.CaptureTimeout)
	defer timeout.Stop()
	for skip := b.cfg.WarmupFrames; ; skip-- {
		select {
		case <-b.ctx.Done():
			return nil, b.ctx.Err()
		case <-timeout.C:
			return nil, errors.New("capture timed out")
		case frame, ok := <-frames:
			if !ok {
				return nil, errors.New("capture stream closed")
			}
			if skip > 0 || len(frame) == 0 {
				continue
			}
			return append([]byte(nil), frame...), nil
		}
	}
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "busy") || strings.Contains(s, "ebusy")
}
