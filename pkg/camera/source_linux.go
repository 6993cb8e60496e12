//go:build linux

package camera

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	dev "manual-shutter/pkg/device"
	"manual-shutter/pkg/ov"
	"manual-shutter/pkg/session"
	"manual-shutter/pkg/types"
	"manual-shutter/pkg/utils"
)

var ErrNotStarted = errors.New("camera not started")

// Source enumerates V4L2 nodes and opens them as session backends.
type Source struct {
	cfg     Config
	Preview *Broadcaster

	lock    sync.Mutex
	current *Backend
}

func NewSource(cfg Config) *Source {
	return &Source{cfg: cfg, Preview: NewBroadcaster()}
}

func (s *Source) ListDevices(ctx context.Context) ([]dev.Facts, error) {
	paths, err := filepath.Glob(s.cfg.Devices)
	if err != nil {
		return nil, err
	}
	var facts []dev.Facts
	for _, path := range paths {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		p, perr := probe(path)
		if perr != nil {
			logger.Infof("camera: skip %s", perr)
			continue
		}
		facts = append(facts, p.facts)
	}

	return facts, nil
}

func (s *Source) OpenDevice(ctx context.Context, id string, l session.Listener) (session.Backend, error) {
	p, err := probe(id)
	if err != nil {
		return nil, err
	}
	b := newBackend(ctx, id, s.cfg, p, l, s.Preview)

	s.lock.Lock()
	s.current = b
	s.lock.Unlock()
	b.onClose = func() {
		s.lock.Lock()
		if s.current == b {
			s.current = nil
		}
		s.lock.Unlock()
	}

	return b, nil
}

// Controls reports the known controls of the open device.
func (s *Source) Controls() ([]ov.Control, error) {
	s.lock.Lock()
	b := s.current
	s.lock.Unlock()
	if b == nil {
		return nil, ErrNotStarted
	}
	return b.Controls()
}

type probed struct {
	facts dev.Facts
	ctrls *Map
	jpeg  dev.Resolution
	raw   dev.Resolution
}

func probe(path string) (*probed, error) {
	camera, err := device.Open(path,
		device.WithBufferSize(1),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtJPEG,
			Width:       uint32(320),
			Height:      uint32(240),
		}))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer camera.Close()

	ctrls, err := queryControls(camera.Fd())
	if err != nil {
		return nil, fmt.Errorf("%s: query controls: %w", path, err)
	}
	sizes, err := v4l2.GetAllFormatFrameSizes(camera.Fd())
	if err != nil {
		return nil, fmt.Errorf("%s: frame sizes: %w", path, err)
	}
	p := &probed{
		ctrls: NewMap(ctrls),
		jpeg:  maxSize(sizes, v4l2.PixelFmtJPEG),
		raw:   maxSize(sizes, v4l2.PixelFmtYUYV),
	}
	if p.jpeg.Pixels() == 0 {
		return nil, fmt.Errorf("%s: unable to determine the maximum pixels of the camera", path)
	}
	p.facts = p.ctrls.Facts(path, p.jpeg, p.raw)

	return p, nil
}

func maxSize(sizes []v4l2.FrameSizeEnum, format v4l2.FourCCType) dev.Resolution {
	var r dev.Resolution
	for _, size := range sizes {
		if size.PixelFormat != format {
			continue
		}
		if int(size.Size.MaxWidth*size.Size.MaxHeight) > r.Pixels() {
			r = dev.Resolution{Width: int(size.Size.MaxWidth), Height: int(size.Size.MaxHeight)}
		}
	}
	return r
}

func queryControls(fd uintptr) ([]Control, error) {
	ctrls, err := v4l2.QueryAllExtControls(fd)
	if err != nil {
		return nil, err
	}
	res := make([]Control, 0, len(ctrls))
	for _, ctrl := range ctrls {
		c := Control{
			ID:      types.CtrlID(ctrl.ID),
			Name:    ctrl.Name,
			Minimum: ctrl.Minimum,
			Maximum: ctrl.Maximum,
			Step:    ctrl.Step,
			Default: ctrl.Default,
			Value:   int32(ctrl.Value),
		}
		if ctrl.IsMenu() {
			menuItems(ctrl, &c)
		}
		logger.Debugf("camera: %s", c)
		res = append(res, c)
	}

	return res, nil
}

// menuItems fills the menu of c. Integer menus are indexed by control value;
// indexes the driver skips repeat the previous value.
func menuItems(ctrl v4l2.Control, c *Control) {
	items, err := ctrl.GetMenuItems()
	if err != nil {
		return
	}
	if ctrl.Type != v4l2.CtrlTypeIntegerMenu {
		for _, m := range items {
			c.Menu = append(c.Menu, m.Name)
		}
		return
	}
	if ctrl.Maximum < 0 {
		return
	}
	values := make(map[uint32]int64, len(items))
	for _, m := range items {
		values[m.Index] = utils.IntMenuValue(m.Name)
	}
	c.Items = make([]int64, ctrl.Maximum+1)
	var last int64
	for i := range c.Items {
		if v, ok := values[uint32(i)]; ok {
			last = v
		}
		c.Items[i] = last
	}
}

// Inspect probes one node without keeping it open and reports its facts and
// the known controls it carries.
func Inspect(path string) (dev.Facts, []ov.Control, error) {
	p, err := probe(path)
	if err != nil {
		return dev.Facts{}, nil, err
	}
	var res []ov.Control
	for _, id := range KnownControls {
		if c, ok := p.ctrls.Control(id); ok {
			res = append(res, c.OV())
		}
	}
	return p.facts, res, nil
}
