package histogram

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"manual-shutter/pkg/utils"
)

// Worker analyses preview frames off the delivery path. It holds a single
// slot: a frame submitted while an older one is still waiting replaces it,
// so the analysis always runs on the freshest frame.
type Worker struct {
	cfg    Config
	result func(Analysis)
	logger *zap.SugaredLogger

	mu     sync.Mutex
	cond   *sync.Cond
	slot   *Luma
	seq    uint64
	closed bool
	done   chan struct{}

	superseded atomic.Uint64
	analysed   atomic.Uint64
}

// NewWorker starts the analysis goroutine. result runs on that goroutine and
// must hand the analysis to its owner.
func NewWorker(cfg Config, result func(Analysis)) *Worker {
	w := &Worker{
		cfg:    cfg,
		result: result,
		logger: utils.GetLogger(),
		done:   make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.loop()

	return w
}

// Submit never blocks. It returns the sequence number given to the frame.
func (w *Worker) Submit(l Luma) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0
	}
	if w.slot != nil {
		w.superseded.Add(1)
	}
	w.seq++
	w.slot = &l
	w.cond.Signal()

	return w.seq
}

// Stats returns analysed and superseded frame counts.
func (w *Worker) Stats() (analysed, superseded uint64) {
	return w.analysed.Load(), w.superseded.Load()
}

func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.cond.Signal()
	w.mu.Unlock()
	<-w.done
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for w.slot == nil && !w.closed {
			w.cond.Wait()
		}
		if w.closed {
			w.mu.Unlock()
			return
		}
		l, seq := *w.slot, w.seq
		w.slot = nil
		w.mu.Unlock()

		a, err := Analyze(l, w.cfg)
		if err != nil {
			w.logger.Warnf("histogram: frame %d: %s", seq, err)
			continue
		}
		a.Seq = seq
		w.analysed.Add(1)
		w.result(a)
	}
}
