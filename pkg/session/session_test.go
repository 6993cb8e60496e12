package session

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manual-shutter/pkg/device"
	"manual-shutter/pkg/exposure"
	"manual-shutter/pkg/histogram"
	"manual-shutter/pkg/sequence"
	"manual-shutter/pkg/storage/consts"
	"manual-shutter/pkg/timer"
)

func testFacts(id string) device.Facts {
	minFocus := float32(10)
	active := image.Rect(0, 0, 4000, 3000)
	return device.Facts{
		ID:                  id,
		Level:               device.LevelFull,
		Resolution:          device.Resolution{Width: 4000, Height: 3000},
		RawResolution:       device.Resolution{Width: 4000, Height: 3000},
		Sensitivity:         &device.IntRange{Lower: 100, Upper: 3200},
		ExposureTime:        &device.Int64Range{Lower: int64(time.Second / 8000), Upper: int64(32 * time.Second)},
		MinFocusDistance:    &minFocus,
		HyperfocalDistance:  0.4,
		ActiveArray:         &active,
		Compensation:        device.IntRange{Lower: -12, Upper: 12},
		CompensationStep:    1.0 / 6,
		SupportsManualFocus: true,
		SupportsRaw:         true,
	}
}

type fakeSource struct {
	facts   []device.Facts
	backend *fakeBackend
}

func (s *fakeSource) ListDevices(context.Context) ([]device.Facts, error) {
	return s.facts, nil
}

func (s *fakeSource) OpenDevice(_ context.Context, id string, l Listener) (Backend, error) {
	s.backend.mu.Lock()
	s.backend.id = id
	s.backend.listener = l
	s.backend.mu.Unlock()
	return s.backend, nil
}

type fakeBackend struct {
	mu        sync.Mutex
	id        string
	listener  Listener
	repeating []Request
	once      []Request
	onceErr   error
	closed    bool
}

func (b *fakeBackend) SubmitRepeating(req Request) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.repeating = append(b.repeating, req)
	return nil
}

func (b *fakeBackend) SubmitOnce(req Request) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.onceErr != nil {
		return b.onceErr
	}
	b.once = append(b.once, req)
	return nil
}

func (b *fakeBackend) StopRepeating() error { return nil }

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBackend) lastRepeating() Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.repeating[len(b.repeating)-1]
}

func (b *fakeBackend) onceCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.once)
}

func (b *fakeBackend) lastOnce() Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.once[len(b.once)-1]
}

type message struct {
	level Level
	text  string
}

type fakeDisplay struct {
	mu       sync.Mutex
	status   Status
	messages []message
	classes  []histogram.Class
}

func (d *fakeDisplay) ShowStatus(s Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = s
}

func (d *fakeDisplay) ShowHistogram(_ image.Image, c histogram.Class) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.classes = append(d.classes, c)
}

func (d *fakeDisplay) ShowMessage(level Level, msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, message{level, msg})
}

func (d *fakeDisplay) lastStatus() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *fakeDisplay) has(level Level) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range d.messages {
		if m.level == level {
			return true
		}
	}
	return false
}

// fakeSink blocks every write while gate is set.
type fakeSink struct {
	mu    sync.Mutex
	files map[string][]byte
	order []string
	gate  chan struct{}
}

func (s *fakeSink) CreateAndWrite(name, _ string, data []byte) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files == nil {
		s.files = map[string][]byte{}
	}
	s.files[name] = data
	s.order = append(s.order, name)
	return nil
}

func (s *fakeSink) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

type fakeMemory struct {
	mu   sync.Mutex
	free uint64
}

func (f *fakeMemory) AvailableMB() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.free, nil
}

func (f *fakeMemory) set(v uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.free = v
}

type fakeAnalyzer struct {
	submitted int
}

func (a *fakeAnalyzer) Submit(histogram.Luma) uint64 {
	a.submitted++
	return uint64(a.submitted)
}

func (a *fakeAnalyzer) Close() {}

// End runs on the persistence worker.
type fakeTimelapse struct {
	mu           sync.Mutex
	begun, ended int
}

func (f *fakeTimelapse) Begin(string, int, int, int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begun++
	return nil
}

func (f *fakeTimelapse) End() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended++
	return nil
}

func (f *fakeTimelapse) counts() (begun, ended int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begun, f.ended
}

type harness struct {
	t         *testing.T
	m         *Machine
	events    chan event
	clock     *timer.Manual
	backend   *fakeBackend
	display   *fakeDisplay
	sink      *fakeSink
	memory    *fakeMemory
	analyzer  *fakeAnalyzer
	timelapse *fakeTimelapse
}

func newHarness(t *testing.T, cfg Config, opts Options) *harness {
	h := &harness{
		t:         t,
		events:    make(chan event, 1024),
		clock:     timer.NewManual(),
		backend:   &fakeBackend{},
		display:   &fakeDisplay{},
		sink:      &fakeSink{},
		memory:    &fakeMemory{free: 4096},
		analyzer:  &fakeAnalyzer{},
		timelapse: &fakeTimelapse{},
	}
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	deps := Deps{
		Source:    &fakeSource{facts: []device.Facts{testFacts("0")}, backend: h.backend},
		Display:   h.display,
		Sink:      h.sink,
		Memory:    h.memory,
		Timelapse: h.timelapse,
		Scheduler: h.clock,
		Now:       func() time.Time { return start.Add(h.clock.Elapsed()) },
		NewAnalyzer: func(histogram.Config, func(histogram.Analysis)) Analyzer {
			return h.analyzer
		},
	}
	post := func(ev event) { h.events <- ev }
	postFrame := func(ev event) bool {
		select {
		case h.events <- ev:
			return true
		default:
			return false
		}
	}
	h.m = newMachine(cfg, opts, deps, post, postFrame)
	t.Cleanup(func() {
		if h.sink.gate != nil {
			close(h.sink.gate)
		}
		h.m.shutdown()
	})

	return h
}

func (h *harness) open() {
	reply := make(chan error, 1)
	h.handle(openEvent{reply: reply})
	require.NoError(h.t, <-reply)
	require.Equal(h.t, PreviewStreaming, h.m.st.state)
}

func (h *harness) handle(ev event) {
	h.m.Handle(ev)
	h.drain()
}

func (h *harness) drain() {
	for {
		select {
		case ev := <-h.events:
			h.m.Handle(ev)
		default:
			return
		}
	}
}

func (h *harness) advance(d time.Duration) {
	const step = 10 * time.Millisecond
	for ; d > 0; d -= step {
		h.clock.Advance(min(step, d))
		h.drain()
	}
}

// waitWritten waits for the persistence worker, handling its completions.
func (h *harness) waitWritten(n int) {
	require.Eventually(h.t, func() bool {
		h.drain()
		return len(h.sink.written()) >= n && !h.m.queue.Backlog()
	}, time.Second, 5*time.Millisecond)
}

func (h *harness) settle() {
	for i := 0; i < h.m.cfg.SettleFrames; i++ {
		h.handle(previewFrameEvent{})
	}
}

func (h *harness) deliver(txID string, kind ArtifactKind, released *int) {
	if kind == ArtifactMetadata {
		h.handle(completedEvent{r: Result{TxID: txID, ISO: 200, Speed: int64(time.Second / 125)}})
		return
	}
	h.handle(artifactEvent{a: Artifact{
		Kind:    kind,
		TxID:    txID,
		Data:    []byte(kind.String()),
		Release: func() { *released++ },
	}})
}

func (h *harness) completeLast() {
	txID := h.backend.lastOnce().TxID
	var released int
	for _, k := range h.m.st.opts.Output.Kinds() {
		h.deliver(txID, k, &released)
	}
	h.deliver(txID, ArtifactMetadata, &released)
}

func TestOpenStartsPreview(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	h.open()

	req := h.backend.lastRepeating()
	assert.Equal(t, TemplatePreview, req.Template)
	assert.True(t, req.AutoExposure)
	assert.True(t, req.AutoFocus)
	assert.Equal(t, QualityFast, req.Edge)
	assert.Equal(t, "0", h.display.lastStatus().DeviceID)
}

func TestOpenWithoutQualifyingDeviceFails(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	facts := testFacts("0")
	facts.Sensitivity = nil
	h.m.deps.Source = &fakeSource{facts: []device.Facts{facts}, backend: h.backend}

	reply := make(chan error, 1)
	h.handle(openEvent{reply: reply})
	assert.ErrorIs(t, <-reply, device.ErrNoQualifyingDevice)
	assert.Equal(t, Failed, h.m.st.state)
	assert.True(t, h.display.has(LevelError))
	assert.NotEmpty(t, h.display.lastStatus().Fatal)

	h.handle(captureEvent{})
	assert.Equal(t, 0, h.backend.onceCount())
}

func TestArtifactOrderDoesNotMatter(t *testing.T) {
	orders := [][]ArtifactKind{
		{ArtifactCompressed, ArtifactRaw, ArtifactMetadata},
		{ArtifactCompressed, ArtifactMetadata, ArtifactRaw},
		{ArtifactRaw, ArtifactCompressed, ArtifactMetadata},
		{ArtifactRaw, ArtifactMetadata, ArtifactCompressed},
		{ArtifactMetadata, ArtifactCompressed, ArtifactRaw},
		{ArtifactMetadata, ArtifactRaw, ArtifactCompressed},
	}
	for _, order := range orders {
		h := newHarness(t, DefaultConfig(), Options{Output: OutputJPEGAndRaw})
		h.open()
		h.handle(captureEvent{})
		require.Equal(t, CaptureInFlight, h.m.st.state)
		txID := h.backend.lastOnce().TxID
		assert.ElementsMatch(t, []ArtifactKind{ArtifactCompressed, ArtifactRaw}, h.backend.lastOnce().Outputs)

		var released int
		for i, k := range order {
			require.NotNil(t, h.m.st.tx, "order %v step %d", order, i)
			h.deliver(txID, k, &released)
		}
		assert.Nil(t, h.m.st.tx, "order %v", order)
		assert.Equal(t, 2, released, "order %v", order)
		assert.Equal(t, PreviewStreaming, h.m.st.state)

		h.waitWritten(2)
		names := h.sink.written()
		require.Len(t, names, 2)
		assert.Equal(t, consts.JPEGExt, names[0][len(names[0])-len(consts.JPEGExt):])
		assert.Equal(t, consts.RawExt, names[1][len(names[1])-len(consts.RawExt):])
	}
}

func TestDuplicateAndStrayArtifactsAreReleased(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	h.open()
	h.handle(captureEvent{})
	txID := h.backend.lastOnce().TxID

	var released int
	h.deliver("other", ArtifactCompressed, &released)
	assert.Equal(t, 1, released)

	h.deliver(txID, ArtifactRaw, &released)
	assert.Equal(t, 2, released, "raw was not requested")

	h.deliver(txID, ArtifactCompressed, &released)
	h.deliver(txID, ArtifactCompressed, &released)
	assert.Equal(t, 3, released, "duplicate must be released at once")
	require.NotNil(t, h.m.st.tx)

	h.deliver(txID, ArtifactMetadata, &released)
	assert.Nil(t, h.m.st.tx)
	assert.Equal(t, 4, released)

	// late arrivals after completion are stray
	h.deliver(txID, ArtifactCompressed, &released)
	assert.Equal(t, 5, released)
	h.waitWritten(1)
	assert.Len(t, h.sink.written(), 1)
}

func TestCaptureWhileBusyIsIgnored(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	h.open()
	h.handle(captureEvent{})
	h.handle(captureEvent{})
	assert.Equal(t, 1, h.backend.onceCount())
}

func TestCaptureRejectedReturnsToPreview(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	h.open()
	h.backend.onceErr = errors.New("session reconfigured")

	h.handle(captureEvent{})
	assert.Nil(t, h.m.st.tx)
	assert.Equal(t, PreviewStreaming, h.m.st.state)
	assert.Equal(t, TemplatePreview, h.backend.lastRepeating().Template)
	assert.False(t, h.display.lastStatus().Busy)
}

func TestCaptureFailedReleasesBuffers(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	h.open()
	h.handle(captureEvent{})
	txID := h.backend.lastOnce().TxID

	var released int
	h.deliver(txID, ArtifactCompressed, &released)
	h.handle(failedEvent{txID: txID, err: errors.New("frame dropped")})
	assert.Equal(t, 1, released)
	assert.Nil(t, h.m.st.tx)
	assert.Equal(t, PreviewStreaming, h.m.st.state)
	assert.True(t, h.display.has(LevelWarn))
}

func TestAdmissionWaitsForMemory(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	h.sink.gate = make(chan struct{})
	h.open()

	h.handle(captureEvent{})
	h.completeLast()
	require.True(t, h.m.queue.Backlog())

	h.memory.set(1)
	h.handle(captureEvent{})
	assert.Equal(t, 1, h.backend.onceCount())
	assert.Equal(t, PhotoConfigured, h.m.st.state)
	assert.True(t, h.display.lastStatus().Busy)

	h.advance(time.Second)
	assert.Equal(t, 1, h.backend.onceCount(), "still deferred")

	h.memory.set(4096)
	h.advance(250 * time.Millisecond)
	assert.Equal(t, 2, h.backend.onceCount())
	assert.Equal(t, CaptureInFlight, h.m.st.state)
}

func TestDeferredCaptureKeepsItsRequest(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	h.sink.gate = make(chan struct{})
	h.open()
	h.handle(captureEvent{})
	h.completeLast()

	h.memory.set(1)
	h.handle(captureEvent{})
	require.True(t, h.m.st.admitting)
	want := h.backend.lastRepeating()

	h.handle(stepEvent{control: ControlISO, dir: 1})
	require.True(t, h.m.st.opts.Exposure.ISOMode.IsManual())

	h.memory.set(4096)
	h.advance(250 * time.Millisecond)
	require.Equal(t, 2, h.backend.onceCount())
	got := h.backend.lastOnce()
	assert.Equal(t, want.AutoExposure, got.AutoExposure)
	assert.Equal(t, want.ISO, got.ISO)
	assert.Equal(t, want.Speed, got.Speed)

	h.completeLast()
	h.handle(captureEvent{})
	assert.NotEqual(t, want.AutoExposure, h.backend.lastOnce().AutoExposure, "the next capture uses the edit")
}

func TestAdmissionIgnoresMemoryWithoutBacklog(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	h.memory.set(1)
	h.open()
	h.handle(captureEvent{})
	assert.Equal(t, 1, h.backend.onceCount())
}

func TestAdmissionRetryLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdmissionRetryLimit = 2
	h := newHarness(t, cfg, Options{})
	h.sink.gate = make(chan struct{})
	h.open()
	h.handle(captureEvent{})
	h.completeLast()

	h.memory.set(1)
	h.handle(captureEvent{})
	h.advance(time.Second)

	assert.Equal(t, 1, h.backend.onceCount())
	assert.Equal(t, PreviewStreaming, h.m.st.state)
	assert.False(t, h.m.st.admitting)
	assert.True(t, h.display.has(LevelError))
}

func TestRequiredMB(t *testing.T) {
	caps, err := device.Build(testFacts("0"), device.DefaultConfig())
	require.NoError(t, err)

	jpeg := RequiredMB(OutputJPEG, caps)
	raw := RequiredMB(OutputRaw, caps)
	both := RequiredMB(OutputJPEGAndRaw, caps)
	assert.Equal(t, uint64(18), jpeg)
	assert.Equal(t, uint64(46), raw)
	assert.Equal(t, uint64(63), both)
}

func TestTapToFocusWithManualExposure(t *testing.T) {
	opts := Options{Exposure: exposure.Setting{
		ISOMode: exposure.Manual, ISO: 400,
		SpeedMode: exposure.Manual, Speed: int64(time.Second / 60),
	}}
	h := newHarness(t, DefaultConfig(), opts)
	h.open()
	assert.False(t, h.backend.lastRepeating().AutoExposure)

	h.handle(tapEvent{x: 0.5, y: 0.5})
	req := h.backend.lastRepeating()
	assert.Equal(t, FocusClickRequested, h.m.st.focus)
	assert.True(t, req.AutoFocus)
	assert.True(t, req.AFTrigger)
	assert.Equal(t, image.Rect(1800, 1300, 2200, 1700), req.FocusRegion)
	assert.True(t, req.AutoExposure, "manual exposure is suspended during the scan")
	assert.Zero(t, req.Compensation)

	n := len(h.backend.repeating)
	h.handle(meteringEvent{r: Result{ISO: 800, Speed: int64(time.Second / 30), AF: AFScanning}})
	assert.Equal(t, FocusSearching, h.m.st.focus)
	assert.Len(t, h.backend.repeating, n, "no rebuild while searching")

	h.handle(meteringEvent{r: Result{ISO: 800, Speed: int64(time.Second / 30), AF: AFLocked}})
	assert.Equal(t, FocusLocked, h.m.st.focus)
	require.Len(t, h.backend.repeating, n+1)
	req = h.backend.lastRepeating()
	assert.False(t, req.AFTrigger)
	assert.False(t, req.AutoExposure)
	assert.Equal(t, 400, req.ISO)
	assert.Equal(t, "locked", h.display.lastStatus().Focus)

	h.handle(focusEvent{mode: FocusManual, distance: 2})
	assert.Equal(t, FocusStateManual, h.m.st.focus)
	req = h.backend.lastRepeating()
	assert.False(t, req.AutoFocus)
	assert.Equal(t, float32(2), req.FocusDistance)
}

func TestMeteringUpdatesDeviation(t *testing.T) {
	opts := Options{Exposure: exposure.Setting{
		ISOMode: exposure.Manual, ISO: 400,
		SpeedMode: exposure.Manual, Speed: int64(time.Second / 60),
	}}
	h := newHarness(t, DefaultConfig(), opts)
	h.open()

	h.handle(meteringEvent{r: Result{ISO: 800, Speed: int64(time.Second / 60)}})
	st := h.display.lastStatus()
	assert.Equal(t, "+1.0 EV", st.Deviation)
	assert.Equal(t, "ISO 400", st.ISO)
}

func TestProtectHighlightsShortensSpeed(t *testing.T) {
	speed := int64(time.Second / 125)
	opts := Options{Exposure: exposure.Setting{SpeedMode: exposure.ProtectHighlights, Speed: speed}}
	h := newHarness(t, DefaultConfig(), opts)
	h.open()

	over := histogram.Analysis{Class: histogram.OverExposed}
	h.handle(histogramEvent{a: over})
	assert.Equal(t, speed, h.m.st.opts.Exposure.Speed, "frames right after a rebuild are ignored")

	h.settle()
	h.handle(histogramEvent{a: over})
	next := h.m.st.opts.Exposure.Speed
	assert.Less(t, next, speed)
	assert.Contains(t, h.m.st.caps.SpeedSteps, next)
	assert.Equal(t, next, h.backend.lastRepeating().Speed)
	assert.Equal(t, 0, h.m.st.opts.Exposure.ISO, "iso is never touched")

	h.settle()
	h.handle(histogramEvent{a: histogram.Analysis{Class: histogram.UnderExposed}})
	assert.Greater(t, h.m.st.opts.Exposure.Speed, next)
}

func TestPreviewFramesSettleBeforeAnalysis(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	h.open()
	h.settle()
	assert.Equal(t, 0, h.analyzer.submitted)
	h.handle(previewFrameEvent{})
	assert.Equal(t, 1, h.analyzer.submitted)
}

func TestStepSwitchesToManual(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	h.open()
	h.handle(meteringEvent{r: Result{ISO: 400, Speed: int64(time.Second / 60)}})

	h.handle(stepEvent{control: ControlISO, dir: 1})
	s := h.m.st.opts.Exposure
	assert.Equal(t, exposure.Manual, s.ISOMode)
	assert.Equal(t, 504, s.ISO)
	assert.False(t, h.backend.lastRepeating().AutoExposure)

	for i := 0; i < 50; i++ {
		h.handle(stepEvent{control: ControlISO, dir: 1})
	}
	assert.Equal(t, h.m.st.caps.ISOSteps[len(h.m.st.caps.ISOSteps)-1], h.m.st.opts.Exposure.ISO)

	for i := 0; i < 50; i++ {
		h.handle(stepEvent{control: ControlCompensation, dir: -1})
	}
	assert.Equal(t, h.m.st.caps.Compensation.Lower, h.m.st.opts.Compensation)
}

func TestHoldTriggerChainsCaptures(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	h.open()

	h.handle(holdTriggerEvent{held: true})
	assert.Equal(t, 1, h.backend.onceCount())
	h.completeLast()
	assert.Equal(t, 2, h.backend.onceCount())
	assert.Equal(t, CaptureInFlight, h.m.st.state)

	h.handle(holdTriggerEvent{held: false})
	h.completeLast()
	assert.Equal(t, 2, h.backend.onceCount())
	assert.Equal(t, PreviewStreaming, h.m.st.state)
	h.waitWritten(2)
}

func TestSequenceRunsToTarget(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{Timelapse: true})
	h.open()

	reply := make(chan error, 1)
	h.handle(sequenceStartEvent{cfg: sequence.Config{StartDelay: 2 * time.Second, Interval: time.Second, Target: 2}, reply: reply})
	require.NoError(t, <-reply)
	begun, _ := h.timelapse.counts()
	assert.Equal(t, 1, begun)
	assert.Equal(t, "countdown", h.display.lastStatus().Sequence.State)
	assert.Equal(t, 2, h.display.lastStatus().Sequence.Countdown)

	h.advance(1990 * time.Millisecond)
	assert.Equal(t, 0, h.backend.onceCount())
	h.advance(20 * time.Millisecond)
	require.Equal(t, 1, h.backend.onceCount())

	h.completeLast()
	assert.Equal(t, PreviewStreaming, h.m.st.state)
	assert.Equal(t, 1, h.display.lastStatus().Sequence.Shots)

	h.advance(1010 * time.Millisecond)
	require.Equal(t, 2, h.backend.onceCount())
	h.completeLast()

	assert.False(t, h.m.seq.Active())
	assert.True(t, h.display.has(LevelInfo))
	h.advance(5 * time.Second)
	assert.Equal(t, 2, h.backend.onceCount())
	h.waitWritten(2)
	_, ended := h.timelapse.counts()
	assert.Equal(t, 1, ended, "closed after the last frame was written")
}

func TestSequenceShotWaitsForUserCapture(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	h.open()
	reply := make(chan error, 1)
	h.handle(sequenceStartEvent{cfg: sequence.Config{StartDelay: time.Second, Target: 1}, reply: reply})
	require.NoError(t, <-reply)

	h.handle(captureEvent{})
	require.Equal(t, 1, h.backend.onceCount())
	h.advance(2 * time.Second)
	assert.Equal(t, 1, h.backend.onceCount())

	h.completeLast()
	assert.Equal(t, 2, h.backend.onceCount(), "the due shot runs after the user capture")
	h.completeLast()
	assert.False(t, h.m.seq.Active())
}

func TestSequenceShotCompletedWhileTriggerHeld(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	h.open()
	reply := make(chan error, 1)
	h.handle(sequenceStartEvent{cfg: sequence.Config{StartDelay: time.Second, Interval: time.Second, Target: 3}, reply: reply})
	require.NoError(t, <-reply)

	h.advance(1010 * time.Millisecond)
	require.Equal(t, 1, h.backend.onceCount())

	h.handle(holdTriggerEvent{held: true})
	h.completeLast()
	assert.Equal(t, 2, h.backend.onceCount(), "the held trigger continues")
	assert.Equal(t, 1, h.display.lastStatus().Sequence.Shots)
	assert.Equal(t, "countdown", h.display.lastStatus().Sequence.State)

	h.handle(holdTriggerEvent{held: false})
	h.completeLast()
	assert.Equal(t, PreviewStreaming, h.m.st.state)

	h.advance(1010 * time.Millisecond)
	require.Equal(t, 3, h.backend.onceCount())
	h.completeLast()
	h.advance(1010 * time.Millisecond)
	require.Equal(t, 4, h.backend.onceCount())
	h.completeLast()

	assert.False(t, h.m.seq.Active())
	h.advance(5 * time.Second)
	assert.Equal(t, 4, h.backend.onceCount())
}

func TestStopSequenceDuringCountdown(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	h.open()
	reply := make(chan error, 1)
	h.handle(sequenceStartEvent{cfg: sequence.Config{StartDelay: 3 * time.Second}, reply: reply})
	require.NoError(t, <-reply)

	h.advance(time.Second)
	h.handle(sequenceStopEvent{})
	h.advance(5 * time.Second)
	assert.Equal(t, 0, h.backend.onceCount())
	assert.Equal(t, "idle", h.display.lastStatus().Sequence.State)
}

func TestDeviceErrorIsFatal(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	h.open()
	h.handle(captureEvent{})

	h.handle(deviceErrorEvent{err: errors.New("disconnected")})
	assert.Equal(t, Failed, h.m.st.state)
	assert.Nil(t, h.m.st.tx)
	assert.True(t, h.backend.closed)
	assert.Contains(t, h.display.lastStatus().Fatal, "disconnected")
}

func TestRawRequiresDeviceSupport(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{Output: OutputRaw})
	facts := testFacts("0")
	facts.SupportsRaw = false
	h.m.deps.Source = &fakeSource{facts: []device.Facts{facts}, backend: h.backend}
	h.open()
	assert.Equal(t, OutputJPEG, h.m.st.opts.Output)
}

func TestSessionLoop(t *testing.T) {
	backend := &fakeBackend{}
	display := &fakeDisplay{}
	s := New(DefaultConfig(), Options{}, Deps{
		Source:  &fakeSource{facts: []device.Facts{testFacts("0"), testFacts("1")}, backend: backend},
		Display: display,
		Sink:    &fakeSink{},
	})
	require.NoError(t, s.Start(context.Background(), "1"))

	s.SetExposure(exposure.Setting{ISOMode: exposure.Manual, ISO: 800})
	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "1", snap.Capabilities.ID)
	assert.Equal(t, 800, snap.Options.Exposure.ISO)
	assert.Equal(t, "preview", snap.Status.State)

	s.Capture()
	require.Eventually(t, func() bool { return backend.onceCount() == 1 }, time.Second, 5*time.Millisecond)

	s.Close()
	s.Close()
	_, err = s.Snapshot()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.StartSequence(sequence.Config{}), ErrClosed)
	assert.True(t, backend.closed)
}

func TestCloseWithoutStart(t *testing.T) {
	s := New(DefaultConfig(), Options{}, Deps{Source: &fakeSource{backend: &fakeBackend{}}, Display: &fakeDisplay{}, Sink: &fakeSink{}})
	s.Close()
	assert.ErrorIs(t, s.Start(context.Background(), ""), ErrClosed)
}

func TestParseControl(t *testing.T) {
	for in, want := range map[string]Control{"iso": ControlISO, "Shutter": ControlSpeed, "focus": ControlFocus, "ev": ControlCompensation} {
		c, err := ParseControl(in)
		require.NoError(t, err)
		assert.Equal(t, want, c, in)
	}
	_, err := ParseControl("zoom")
	assert.Error(t, err)
}
