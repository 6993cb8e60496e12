package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"manual-shutter/pkg/device"
	"manual-shutter/pkg/exposure"
	"manual-shutter/pkg/histogram"
	"manual-shutter/pkg/persist"
	"manual-shutter/pkg/sequence"
	"manual-shutter/pkg/storage/consts"
	"manual-shutter/pkg/timer"
	"manual-shutter/pkg/utils"
)

var (
	ErrClosed   = errors.New("session closed")
	ErrBusy     = errors.New("capture in progress")
	ErrNoDevice = errors.New("no device open")
)

// defaultSpeed seeds exposure math before the first metering result.
const defaultSpeed = int64(time.Second / 60)

// SessionState is everything the control goroutine owns.
type SessionState struct {
	state      State
	configured Template
	caps       *device.Capabilities
	backend    Backend
	opts       Options

	metered   exposure.Metered
	lastClass histogram.Class

	focus       FocusState
	focusRegion image.Rectangle

	tx        *Transaction
	admitting bool
	// still is fixed when a capture is asked for; a deferred admission
	// submits it unchanged
	still            *stillRequest
	admissionRetries int
	settle           int

	triggerHeld bool
	chain       captureSource
	// seqWaiting is set when a sequence shot came due during another capture.
	seqWaiting bool
	// timelapse is the file a running sequence appends to, if any
	timelapse string

	fatal error
}

type stillRequest struct {
	req    Request
	output OutputMode
}

// Machine holds the transition functions. It must only be used from the
// goroutine that delivers its events.
type Machine struct {
	cfg    Config
	deps   Deps
	logger *zap.SugaredLogger

	st SessionState

	post      func(event)
	postFrame func(event) bool

	retry    *timer.Deferred
	debounce *timer.Deferred
	queue    *persist.Queue
	seq      *sequence.Controller
	analyzer Analyzer
}

func newMachine(cfg Config, opts Options, deps Deps, post func(event), postFrame func(event) bool) *Machine {
	deps.defaults()
	m := &Machine{
		cfg:       cfg,
		deps:      deps,
		logger:    utils.GetLogger(),
		st:        SessionState{opts: opts},
		post:      post,
		postFrame: postFrame,
	}
	postFn := func(fn func()) { post(funcEvent{fn: fn}) }
	m.retry = timer.NewDeferred("admission", deps.Scheduler, postFn)
	m.debounce = timer.NewDeferred("select", deps.Scheduler, postFn)
	m.queue = persist.NewQueue(deps.Sink, postFn, m.persisted)
	m.seq = sequence.New(deps.Scheduler, postFn, sequence.Hooks{
		Capture: func() { m.capture(sourceSequence) },
		Stopped: m.sequenceStopped,
	})
	m.analyzer = deps.NewAnalyzer(cfg.Histogram, func(a histogram.Analysis) {
		post(histogramEvent{a: a})
	})

	return m
}

// Handle dispatches one event to its transition.
func (m *Machine) Handle(ev event) {
	switch ev := ev.(type) {
	case openEvent:
		ev.reply <- m.open(ev.id)
	case selectDeviceEvent:
		m.selectDevice(ev.id)
	case deviceErrorEvent:
		m.fail(fmt.Errorf("device error: %w", ev.err))
	case meteringEvent:
		m.metering(ev.r)
	case previewFrameEvent:
		m.previewFrame(ev.l)
	case histogramEvent:
		m.histogram(ev.a)
	case captureEvent:
		m.capture(ev.source)
	case holdTriggerEvent:
		m.holdTrigger(ev.held)
	case artifactEvent:
		m.artifact(ev.a)
	case completedEvent:
		m.completed(ev.r)
	case failedEvent:
		m.captureFailed(ev.txID, ev.err)
	case tapEvent:
		m.tap(ev.x, ev.y)
	case focusEvent:
		m.setFocus(ev.mode, ev.distance)
	case exposureEvent:
		m.setExposure(ev.s)
	case stepEvent:
		m.step(ev.control, ev.dir)
	case compensationEvent:
		m.setCompensation(ev.value)
	case optionsEvent:
		m.setOptions(ev.o)
	case sequenceStartEvent:
		ev.reply <- m.startSequence(ev.cfg)
	case sequenceStopEvent:
		m.seq.Stop()
	case snapshotEvent:
		ev.reply <- m.snapshot()
	case funcEvent:
		ev.fn()
	default:
		m.logger.Warnf("session: unhandled event %T", ev)
		return
	}
	m.publish()
}

func (m *Machine) open(id string) error {
	if m.st.backend != nil {
		m.closeDevice()
	}
	ctx := context.Background()
	cat, err := device.Load(ctx, m.deps.Source, m.cfg.Device)
	if err != nil {
		return m.fail(err)
	}
	caps, err := cat.Find(id)
	if err != nil {
		return m.fail(err)
	}
	backend, err := m.deps.Source.OpenDevice(ctx, caps.ID, listener{post: m.post, postFrame: m.postFrame})
	if err != nil {
		return m.fail(fmt.Errorf("open device %s: %w", caps.ID, err))
	}

	st := &m.st
	st.caps = caps
	st.backend = backend
	st.fatal = nil
	st.metered = exposure.Metered{}
	st.focus = FocusStateManual
	st.configured = TemplateNone
	m.sanitizeOptions()

	if err = m.configure(TemplatePreview, true); err != nil {
		return m.fail(fmt.Errorf("configure session: %w", err))
	}
	st.state = PreviewStreaming
	m.logger.Infof("session: device %s open (%s), %dx%d", caps.ID, caps.Level, caps.Resolution.Width, caps.Resolution.Height)

	return nil
}

// selectDevice debounces device switches and waits for a running capture.
func (m *Machine) selectDevice(id string) {
	m.debounce.Arm(m.cfg.SelectDebounce, func() {
		if m.st.tx != nil || m.st.admitting {
			m.selectDevice(id)
			return
		}
		if err := m.open(id); err != nil {
			m.logger.Errorf("session: select %s: %s", id, err)
		}
	})
}

// fail is terminal for the session: no retry, the user is told.
func (m *Machine) fail(err error) error {
	m.logger.Errorf("session: %s", err)
	m.st.fatal = err
	m.st.state = Failed
	m.retry.Cancel()
	m.seq.Stop()
	if m.st.tx != nil {
		m.st.tx.release()
		m.st.tx = nil
	}
	m.st.admitting = false
	if m.st.backend != nil {
		_ = m.st.backend.StopRepeating()
		_ = m.st.backend.Close()
		m.st.backend = nil
	}
	m.deps.Display.ShowMessage(LevelError, err.Error())

	return err
}

func (m *Machine) closeDevice() {
	m.retry.Cancel()
	m.debounce.Cancel()
	m.seq.Stop()
	if m.st.tx != nil {
		m.st.tx.release()
		m.st.tx = nil
	}
	m.st.admitting = false
	if m.st.backend != nil {
		_ = m.st.backend.StopRepeating()
		if err := m.st.backend.Close(); err != nil {
			m.logger.Warnf("session: close device: %s", err)
		}
		m.st.backend = nil
	}
	m.st.state = Closed
	m.st.configured = TemplateNone
}

func (m *Machine) shutdown() {
	m.closeDevice()
	m.analyzer.Close()
	m.queue.Close()
}

// configure switches the repeating request to t. Nothing happens when t is
// already configured unless force is set.
func (m *Machine) configure(t Template, force bool) error {
	if m.st.configured == t && !force {
		return nil
	}
	return m.rebuild(t)
}

// rebuild stops, rebuilds and restarts the repeating request, then ignores
// the next few preview frames.
func (m *Machine) rebuild(t Template) error {
	st := &m.st
	if st.backend == nil {
		return ErrNoDevice
	}
	if err := st.backend.StopRepeating(); err != nil {
		m.logger.Warnf("session: stop repeating: %s", err)
	}
	req := m.buildRequest(t)
	if err := st.backend.SubmitRepeating(req); err != nil {
		return err
	}
	st.configured = t
	st.settle = m.cfg.SettleFrames
	m.logger.Debugf("session: %s request ae=%t iso=%d speed=%s af=%t trigger=%t",
		t, req.AutoExposure, req.ISO, exposure.FormatSpeed(req.Speed), req.AutoFocus, req.AFTrigger)

	return nil
}

// refresh rebuilds the currently configured request after a parameter change.
func (m *Machine) refresh() {
	if m.st.backend == nil || m.st.configured == TemplateNone || m.st.state == CaptureInFlight {
		return
	}
	if err := m.rebuild(m.st.configured); err != nil {
		m.logger.Warnf("session: rebuild %s request: %s", m.st.configured, err)
	}
}

func (m *Machine) metering(r Result) {
	st := &m.st
	if st.caps == nil {
		return
	}
	if r.ISO > 0 && r.Speed > 0 {
		st.metered = exposure.Metered{ISO: r.ISO, Speed: r.Speed}
	}

	switch {
	case st.focus == FocusClickRequested && r.AF == AFScanning:
		st.focus = FocusSearching
		m.logger.Debug("session: focus searching")
	case st.focus == FocusSearching && r.AF.Settled():
		st.focus = FocusLocked
		m.logger.Debugf("session: focus locked (af=%d)", r.AF)
		m.refresh()
	}
}

func (m *Machine) previewFrame(l histogram.Luma) {
	if m.st.state == Closed || m.st.state == Failed {
		return
	}
	if m.st.settle > 0 {
		m.st.settle--
		return
	}
	m.analyzer.Submit(l)
}

func (m *Machine) histogram(a histogram.Analysis) {
	st := &m.st
	if st.caps == nil || st.settle > 0 {
		return
	}
	st.lastClass = a.Class
	m.deps.Display.ShowHistogram(a.Bitmap, a.Class)

	if st.opts.Exposure.SpeedMode != exposure.ProtectHighlights || st.state != PreviewStreaming {
		return
	}
	var c exposure.Correction
	switch a.Class {
	case histogram.OverExposed:
		c = exposure.Darker
	case histogram.UnderExposed:
		c = exposure.Lighter
	default:
		return
	}
	speed := st.opts.Exposure.Speed
	if speed <= 0 {
		speed = m.effective().Speed
	}
	next := exposure.SuggestSpeed(speed, st.caps.SpeedSteps, c)
	if next == st.opts.Exposure.Speed {
		return
	}
	m.logger.Debugf("session: %s exposure, speed %s -> %s", a.Class, exposure.FormatSpeed(speed), exposure.FormatSpeed(next))
	st.opts.Exposure.Speed = next
	m.refresh()
}

// capture asks for a still capture transaction.
func (m *Machine) capture(src captureSource) {
	st := &m.st
	if st.backend == nil {
		m.logger.Warnf("session: %s capture ignored: %s", src, ErrNoDevice)
		return
	}
	if st.tx != nil || st.admitting || st.state == CaptureInFlight {
		if src == sourceSequence {
			st.seqWaiting = true
			return
		}
		m.logger.Infof("session: %s capture ignored: %s", src, ErrBusy)
		return
	}
	if st.state != PreviewStreaming && st.state != PhotoConfigured {
		return
	}
	st.chain = src
	if err := m.configure(TemplateStill, false); err != nil {
		m.logger.Warnf("session: configure still: %s", err)
		m.backToPreview()
		return
	}
	st.state = PhotoConfigured
	st.admissionRetries = 0
	st.still = &stillRequest{req: m.buildRequest(TemplateStill), output: st.opts.Output}
	m.admit()
}

// admit starts the transaction unless a persistence backlog exists and free
// memory is below what the capture needs, in which case it retries later.
func (m *Machine) admit() {
	st := &m.st
	st.admitting = false
	if st.backend == nil || st.state != PhotoConfigured {
		return
	}

	if m.queue.Backlog() && m.deps.Memory != nil {
		output := st.opts.Output
		if st.still != nil {
			output = st.still.output
		}
		need := RequiredMB(output, st.caps)
		free, err := m.deps.Memory.AvailableMB()
		if err != nil {
			m.logger.Warnf("session: memory probe: %s", err)
		} else if free < need {
			st.admissionRetries++
			limit := m.cfg.AdmissionRetryLimit
			if limit > 0 && st.admissionRetries > limit {
				m.logger.Warnf("session: capture abandoned after %d admission retries", limit)
				m.deps.Display.ShowMessage(LevelError, fmt.Sprintf("not enough memory to capture (need %s)", humanize.IBytes(need*mb)))
				st.admissionRetries = 0
				m.chainStopped()
				m.backToPreview()
				return
			}
			m.logger.Infof("session: deferring capture, %s free < %s needed, backlog %d",
				humanize.IBytes(free*mb), humanize.IBytes(need*mb), m.queue.Len())
			st.admitting = true
			m.retry.Arm(m.cfg.AdmissionRetryDelay, m.admit)
			return
		}
	}

	m.startTransaction()
}

func (m *Machine) startTransaction() {
	st := &m.st
	still := st.still
	st.still = nil
	if still == nil {
		still = &stillRequest{req: m.buildRequest(TemplateStill), output: st.opts.Output}
	}
	tx := newTransaction(still.output, m.deps.Now(), m.cfg.FilePrefix)
	req := still.req
	req.TxID = tx.ID
	tx.Request = req

	st.tx = tx
	st.state = CaptureInFlight
	if err := st.backend.SubmitOnce(req); err != nil {
		m.logger.Warnf("session: capture %s rejected: %s", tx.ID, err)
		st.tx = nil
		m.chainStopped()
		m.backToPreview()
		return
	}
	m.logger.Infof("session: capture %s started (%s, iso=%d speed=%s) waiting for %s",
		tx.ID, tx.BaseName, req.ISO, exposure.FormatSpeed(req.Speed), tx.Pending)
}

func (m *Machine) holdTrigger(held bool) {
	m.st.triggerHeld = held
	if held {
		m.capture(sourceContinuous)
	}
}

func (m *Machine) artifact(a Artifact) {
	tx := m.st.tx
	if tx == nil || a.TxID != tx.ID {
		m.logger.Warnf("session: drop stray %s artifact for %q", a.Kind, a.TxID)
		a.release()
		return
	}
	if a.Kind == ArtifactMetadata || !tx.store(&a) {
		m.logger.Warnf("session: drop unexpected %s artifact for %s", a.Kind, tx.ID)
		a.release()
		return
	}
	m.logger.Debugf("session: %s %s delivered, waiting for %s", tx.ID, a.Kind, tx.Pending)
	m.maybeComplete()
}

func (m *Machine) completed(r Result) {
	tx := m.st.tx
	if tx == nil || r.TxID != tx.ID {
		m.logger.Warnf("session: drop stray metadata for %q", r.TxID)
		return
	}
	if !tx.storeMetadata(r) {
		return
	}
	m.logger.Debugf("session: %s metadata delivered, waiting for %s", tx.ID, tx.Pending)
	m.maybeComplete()
}

func (m *Machine) captureFailed(txID string, err error) {
	tx := m.st.tx
	if tx == nil || txID != tx.ID {
		return
	}
	m.logger.Warnf("session: capture %s failed: %s", tx.ID, err)
	tx.release()
	m.st.tx = nil
	m.deps.Display.ShowMessage(LevelWarn, "capture failed")
	m.chainStopped()
	m.backToPreview()
}

func (m *Machine) maybeComplete() {
	tx := m.st.tx
	if !tx.Pending.AllSatisfied() {
		return
	}
	m.st.tx = nil
	m.st.state = PhotoConfigured
	m.finish(tx)
	m.next(tx)
}

// finish turns the held artifacts into persistence jobs and releases them.
func (m *Machine) finish(tx *Transaction) {
	defer tx.release()

	var jobs []persist.Job
	if tx.Compressed != nil {
		jobs = append(jobs, persist.Job{
			Group:    tx.ID,
			FileName: tx.BaseName + consts.JPEGExt,
			MimeType: consts.MimeJPEG,
			Payload:  tx.Compressed.Data,
		})
	}
	if tx.Raw != nil {
		data, err := m.deps.RawEncoder.EncodeRaw(tx.Raw.Data, m.rawTags(tx))
		if err != nil {
			m.logger.Warnf("session: encode raw %s: %s", tx.ID, err)
			m.deps.Display.ShowMessage(LevelWarn, "raw encoding failed")
		} else {
			jobs = append(jobs, persist.Job{
				Group:    tx.ID,
				FileName: tx.BaseName + consts.RawExt,
				MimeType: consts.MimeRaw,
				Payload:  data,
			})
		}
	}
	m.queue.Enqueue(jobs...)
	m.logger.Infof("session: capture %s complete in %s, %d files queued",
		tx.ID, m.deps.Now().Sub(tx.Started), len(jobs))
}

func (m *Machine) rawTags(tx *Transaction) persist.Tags {
	md := tx.Metadata
	t := persist.Tags{
		DeviceID:      m.st.caps.ID,
		Width:         tx.Raw.Width,
		Height:        tx.Raw.Height,
		Orientation:   md.Orientation,
		ISO:           md.ISO,
		SpeedNs:       md.Speed,
		FocusDistance: md.FocusDistance,
		Timestamp:     md.Timestamp,
		Location:      tx.Request.Location,
	}
	if t.Width == 0 {
		t.Width, t.Height = m.st.caps.RawResolution.Width, m.st.caps.RawResolution.Height
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = tx.Started
	}

	return t
}

// next decides whether another capture follows directly. A finished
// sequence shot always reports back to the controller first, even while the
// trigger is held.
func (m *Machine) next(tx *Transaction) {
	st := &m.st
	switch {
	case st.chain == sourceSequence && m.seq.Active():
		// either captures right away or starts the inter-shot countdown
		m.seq.CaptureDone()
		switch {
		case st.tx != nil || st.admitting:
		case st.triggerHeld:
			st.chain = sourceContinuous
			m.admit()
		default:
			m.backToPreview()
		}
	case st.seqWaiting && m.seq.Active():
		st.seqWaiting = false
		m.capture(sourceSequence)
	case st.triggerHeld:
		st.chain = sourceContinuous
		m.admit()
	default:
		m.backToPreview()
	}
}

func (m *Machine) chainStopped() {
	if (m.st.chain == sourceSequence || m.st.seqWaiting) && m.seq.Active() {
		m.seq.Stop()
	}
	m.st.chain = sourceUser
}

func (m *Machine) backToPreview() {
	st := &m.st
	st.admitting = false
	st.still = nil
	m.retry.Cancel()
	if st.backend == nil {
		return
	}
	if err := m.configure(TemplatePreview, false); err != nil {
		m.fail(fmt.Errorf("restart preview: %w", err))
		return
	}
	st.state = PreviewStreaming
}

func (m *Machine) persisted(r persist.Result) {
	if r.Err != nil {
		m.deps.Display.ShowMessage(LevelWarn, fmt.Sprintf("could not save %s", r.Job.FileName))
	}
}

func (m *Machine) startSequence(cfg sequence.Config) error {
	if m.st.backend == nil {
		return ErrNoDevice
	}
	if err := m.seq.Start(cfg); err != nil {
		return err
	}
	m.st.opts.Sequence = cfg
	if m.st.opts.Timelapse && m.deps.Timelapse != nil {
		r := m.st.caps.Resolution
		name := BaseName(m.cfg.FilePrefix, m.deps.Now()) + consts.AVIExt
		if err := m.deps.Timelapse.Begin(name, r.Width, r.Height, m.cfg.TimelapseFPS); err != nil {
			m.logger.Warnf("session: timelapse: %s", err)
		} else {
			m.st.timelapse = name
		}
	}
	return nil
}

func (m *Machine) sequenceStopped(shots int) {
	m.st.seqWaiting = false
	if m.st.chain == sourceSequence {
		m.st.chain = sourceUser
	}
	if m.st.timelapse != "" {
		// closed behind the frames of the run that are still being written
		m.queue.Enqueue(persist.Job{
			Group:    "timelapse",
			FileName: m.st.timelapse,
			MimeType: consts.MimeAVI,
			Run:      m.deps.Timelapse.End,
		})
		m.st.timelapse = ""
	}
	m.deps.Display.ShowMessage(LevelInfo, fmt.Sprintf("sequence finished, %d shots", shots))
}
