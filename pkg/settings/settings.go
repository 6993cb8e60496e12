// Package settings persists the user controlled parameters between runs.
package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"manual-shutter/pkg/exposure"
	"manual-shutter/pkg/sequence"
	"manual-shutter/pkg/session"
	"manual-shutter/pkg/utils"
)

var ErrInvalid = errors.New("invalid settings")

const (
	maxStepsPerStop = 12
	maxExposureSec  = 3600
)

// Settings is the persisted form. Durations are whole seconds, the speed is
// in nanoseconds.
type Settings struct {
	ISOMode   exposure.Mode `json:"isoMode"`
	ISO       int           `json:"iso"`
	SpeedMode exposure.Mode `json:"speedMode"`
	SpeedNs   int64         `json:"speedNs"`

	Compensation  int               `json:"compensation"`
	FocusType     session.FocusMode `json:"focusType"`
	FocusDistance float32           `json:"focusDistance"`

	OutputMode     session.OutputMode `json:"outputMode"`
	NoiseReduction session.Quality    `json:"noiseReduction"`
	Flash          session.FlashMode  `json:"flash"`
	Location       bool               `json:"location"`

	SequenceStartDelay int  `json:"sequenceStartDelay"`
	SequenceInterval   int  `json:"sequenceInterval"`
	SequenceTarget     int  `json:"sequenceTarget"`
	SequenceTimelapse  bool `json:"sequenceTimelapse"`

	StepsPerStop        int    `json:"stepsPerStop"`
	MaxManualExposure   int    `json:"maxManualExposure"`
	CameraID            string `json:"cameraId"`
	AdmissionRetryLimit int    `json:"admissionRetryLimit"`
}

func Default() Settings {
	return Settings{
		ISOMode:            exposure.Auto,
		SpeedMode:          exposure.Auto,
		FocusType:          session.FocusAuto,
		OutputMode:         session.OutputJPEG,
		NoiseReduction:     session.QualityHigh,
		Flash:              session.FlashOff,
		SequenceStartDelay: 3,
		SequenceInterval:   5,
		StepsPerStop:       3,
		MaxManualExposure:  30,
	}
}

// Validate resets every out of range value to its default and reports all
// of them in one error.
func (s *Settings) Validate() error {
	def := Default()
	var errs []error
	reset := func(name string, bad bool, fix func()) {
		if bad {
			errs = append(errs, fmt.Errorf("%s out of range", name))
			fix()
		}
	}
	reset("iso", s.ISO < 0, func() { s.ISO = def.ISO })
	reset("speedNs", s.SpeedNs < 0, func() { s.SpeedNs = def.SpeedNs })
	reset("focusDistance", s.FocusDistance < 0, func() { s.FocusDistance = def.FocusDistance })
	reset("sequenceStartDelay", s.SequenceStartDelay < 0, func() { s.SequenceStartDelay = def.SequenceStartDelay })
	reset("sequenceInterval", s.SequenceInterval < 0, func() { s.SequenceInterval = def.SequenceInterval })
	reset("sequenceTarget", s.SequenceTarget < 0, func() { s.SequenceTarget = def.SequenceTarget })
	reset("stepsPerStop", s.StepsPerStop < 1 || s.StepsPerStop > maxStepsPerStop, func() { s.StepsPerStop = def.StepsPerStop })
	reset("maxManualExposure", s.MaxManualExposure < 1 || s.MaxManualExposure > maxExposureSec, func() { s.MaxManualExposure = def.MaxManualExposure })
	reset("admissionRetryLimit", s.AdmissionRetryLimit < 0, func() { s.AdmissionRetryLimit = def.AdmissionRetryLimit })

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func (s Settings) Sequence() sequence.Config {
	return sequence.Config{
		StartDelay: time.Duration(s.SequenceStartDelay) * time.Second,
		Interval:   time.Duration(s.SequenceInterval) * time.Second,
		Target:     s.SequenceTarget,
	}
}

func (s Settings) Options() session.Options {
	return session.Options{
		Exposure: exposure.Setting{
			ISOMode:   s.ISOMode,
			ISO:       s.ISO,
			SpeedMode: s.SpeedMode,
			Speed:     s.SpeedNs,
		},
		Compensation:   s.Compensation,
		Focus:          s.FocusType,
		FocusDistance:  s.FocusDistance,
		Output:         s.OutputMode,
		Flash:          s.Flash,
		NoiseReduction: s.NoiseReduction,
		Location:       s.Location,
		Sequence:       s.Sequence(),
		Timelapse:      s.SequenceTimelapse,
	}
}

// SetOptions copies the session owned values back for persisting.
func (s *Settings) SetOptions(o session.Options) {
	s.ISOMode, s.ISO = o.Exposure.ISOMode, o.Exposure.ISO
	s.SpeedMode, s.SpeedNs = o.Exposure.SpeedMode, o.Exposure.Speed
	s.Compensation = o.Compensation
	s.FocusType, s.FocusDistance = o.Focus, o.FocusDistance
	s.OutputMode = o.Output
	s.Flash = o.Flash
	s.NoiseReduction = o.NoiseReduction
	s.Location = o.Location
	s.SequenceStartDelay = int(o.Sequence.StartDelay / time.Second)
	s.SequenceInterval = int(o.Sequence.Interval / time.Second)
	s.SequenceTarget = o.Sequence.Target
	s.SequenceTimelapse = o.Timelapse
}

// Apply sets the session configuration derived from the settings.
func (s Settings) Apply(cfg *session.Config) {
	cfg.Device.StepsPerStop = s.StepsPerStop
	cfg.Device.MaxManualExposure = time.Duration(s.MaxManualExposure) * time.Second
	cfg.AdmissionRetryLimit = s.AdmissionRetryLimit
}

// Store keeps the settings file and the in-memory copy in sync.
type Store struct {
	path   string
	logger *zap.SugaredLogger

	lock    sync.Mutex
	cur     Settings
	dirty   bool
	written []byte
}

// Load reads path over the defaults. A missing file is not an error. An
// invalid value is reset and reported with ErrInvalid, the store is still
// usable.
func Load(path string) (*Store, error) {
	st := &Store{path: path, cur: Default(), logger: utils.GetLogger()}
	s, err := st.read()
	if err != nil && !errors.Is(err, ErrInvalid) {
		return nil, err
	}
	st.cur = s

	return st, err
}

func (st *Store) read() (Settings, error) {
	s := Default()
	data, err := os.ReadFile(st.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err = json.Unmarshal(data, &s); err != nil {
		return Default(), fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	return s, s.Validate()
}

func (st *Store) Get() Settings {
	st.lock.Lock()
	defer st.lock.Unlock()
	return st.cur
}

// Update changes the in-memory copy; Flush writes it.
func (st *Store) Update(fn func(s *Settings)) {
	st.lock.Lock()
	defer st.lock.Unlock()
	fn(&st.cur)
	st.dirty = true
}

// Flush writes the settings if they changed since the last write.
func (st *Store) Flush() error {
	st.lock.Lock()
	defer st.lock.Unlock()
	if !st.dirty {
		return nil
	}
	data, err := json.MarshalIndent(st.cur, "", "  ")
	if err != nil {
		return err
	}
	tmp := st.path + ".tmp"
	if err = os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err = os.Rename(tmp, st.path); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	st.dirty = false
	st.written = data
	st.logger.Debugf("settings: flushed to %s", st.path)

	return nil
}

// Watch calls onChange with the new settings whenever the file is changed
// by someone else. It returns when ctx is done.
func (st *Store) Watch(ctx context.Context, onChange func(Settings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new settings watcher: %w", err)
	}
	defer watcher.Close()
	// editors replace the file, so the directory is watched
	if err = watcher.Add(filepath.Dir(st.path)); err != nil {
		return fmt.Errorf("watch settings: %w", err)
	}
	name := filepath.Clean(st.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if s, changed := st.reload(); changed {
				onChange(s)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			st.logger.Warnf("settings: watcher: %s", err)
		}
	}
}

// reload rereads the file unless it holds what Flush wrote last.
func (st *Store) reload() (Settings, bool) {
	data, err := os.ReadFile(st.path)
	if err != nil {
		return Settings{}, false
	}
	st.lock.Lock()
	own := bytes.Equal(data, st.written)
	st.lock.Unlock()
	// a partial write shows up as invalid json; the next event has the rest
	if own || !json.Valid(data) {
		return Settings{}, false
	}

	s, err := st.read()
	if err != nil {
		if !errors.Is(err, ErrInvalid) {
			st.logger.Warnf("settings: reload: %s", err)
			return Settings{}, false
		}
		st.logger.Warnf("settings: reload: %s", err)
	}
	st.lock.Lock()
	st.cur = s
	st.written = data
	st.dirty = false
	st.lock.Unlock()
	st.logger.Infof("settings: reloaded %s", st.path)

	return s, true
}
