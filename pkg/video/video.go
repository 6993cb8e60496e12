// Package video assembles the compressed frames of a capture sequence into
// an MJPEG AVI next to the stills.
package video

import (
	"errors"
	"sync"

	"github.com/icza/mjpeg"
	"go.uber.org/zap"

	"manual-shutter/pkg/storage/consts"
	"manual-shutter/pkg/types"
	"manual-shutter/pkg/utils"
)

var ErrNotRecording = errors.New("no timelapse in progress")

type Builder struct {
	width  int
	height int
	fps    int

	cnt int
	aw  mjpeg.AviWriter
}

func NewBuilder(path string, width, height, fps int) (*Builder, error) {
	aw, err := mjpeg.New(path, int32(width), int32(height), int32(fps))
	if err != nil {
		return nil, err
	}

	return &Builder{
		width:  width,
		height: height,
		fps:    fps,
		aw:     aw,
	}, nil
}

func (b *Builder) Add(frame []byte) error {
	err := b.aw.AddFrame(frame)
	if err != nil {
		return err
	}
	b.cnt++

	return nil
}

func (b *Builder) Close() error {
	return b.aw.Close()
}

func (b *Builder) GetCnt() int {
	return b.cnt
}

// Folder is where stills and the timelapse are written.
type Folder interface {
	CreateAndWrite(name, mime string, data []byte) error
	Path(name string) (string, error)
}

// Recorder sits between the persistence queue and the folder. While a
// timelapse is open every JPEG that reaches the folder is also appended to it.
type Recorder struct {
	folder  Folder
	setting types.TimelapseSetting
	logger  *zap.SugaredLogger

	lock sync.Mutex
	name string
	cur  *Builder
}

func NewRecorder(folder Folder, setting types.TimelapseSetting) *Recorder {
	return &Recorder{folder: folder, setting: setting, logger: utils.GetLogger()}
}

func (r *Recorder) CreateAndWrite(name, mime string, data []byte) error {
	if err := r.folder.CreateAndWrite(name, mime, data); err != nil {
		return err
	}
	if mime != consts.MimeJPEG {
		return nil
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if r.cur == nil {
		return nil
	}
	if r.setting.MaxFrames > 0 && r.cur.GetCnt() >= r.setting.MaxFrames {
		return nil
	}
	if err := r.cur.Add(data); err != nil {
		// the still is safe, only the timelapse misses a frame
		r.logger.Warnf("timelapse %s: add %s: %s", r.name, name, err)
	}

	return nil
}

// Begin opens name for a new run, closing any run still open. fps is used
// unless the setting overrides it.
func (r *Recorder) Begin(name string, width, height, fps int) error {
	if !r.setting.Enable {
		return nil
	}
	p, err := r.folder.Path(name)
	if err != nil {
		return err
	}
	if r.setting.FPS > 0 {
		fps = r.setting.FPS
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if r.cur != nil {
		r.closeLocked()
	}
	b, err := NewBuilder(p, width, height, fps)
	if err != nil {
		return err
	}
	r.cur, r.name = b, name
	r.logger.Infof("timelapse %s: %dx%d at %d fps", name, width, height, fps)

	return nil
}

func (r *Recorder) End() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.cur == nil {
		if !r.setting.Enable {
			return nil
		}
		return ErrNotRecording
	}
	return r.closeLocked()
}

// Frames is the number of frames of the open run.
func (r *Recorder) Frames() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.cur == nil {
		return 0
	}
	return r.cur.GetCnt()
}

func (r *Recorder) closeLocked() error {
	b, name := r.cur, r.name
	r.cur, r.name = nil, ""
	if err := b.Close(); err != nil {
		return err
	}
	r.logger.Infof("timelapse %s: %d frames", name, b.GetCnt())
	return nil
}
