// Package persist writes captured artifacts in the background, strictly one
// at a time and in the order they were queued.
package persist

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"manual-shutter/pkg/utils"
)

// Sink is the storage provider specific writer injected by the host.
type Sink interface {
	CreateAndWrite(name, mime string, data []byte) error
}

// Job is immutable once queued. A job with Run set writes nothing through
// the sink; Run is called in its place, after every earlier job.
type Job struct {
	Group    string
	FileName string
	MimeType string
	Payload  []byte
	Run      func() error
}

func (j Job) String() string {
	return fmt.Sprintf("%s(%s, %d bytes)", j.FileName, j.MimeType, len(j.Payload))
}

// Result reports one finished job. Err is nil on success.
type Result struct {
	Job     Job
	Err     error
	Elapsed time.Duration
}

// Post hands a function to the goroutine that owns the queue.
type Post func(fn func())

// Queue is owned by a single control goroutine: Enqueue, Len and Busy must
// be called from it, and completion callbacks are posted back to it. The
// actual writes happen on one dedicated worker goroutine.
type Queue struct {
	sink   Sink
	post   Post
	done   func(Result)
	logger *zap.SugaredLogger

	jobs []Job
	busy bool

	work chan Job
	quit chan struct{}
}

// NewQueue starts the writer goroutine. done is called on the owner for every
// job, successful or not.
func NewQueue(sink Sink, post Post, done func(Result)) *Queue {
	q := &Queue{
		sink:   sink,
		post:   post,
		done:   done,
		logger: utils.GetLogger(),
		work:   make(chan Job, 1),
		quit:   make(chan struct{}),
	}
	go q.writer()

	return q
}

// Enqueue appends a job and starts writing if idle.
func (q *Queue) Enqueue(jobs ...Job) {
	q.jobs = append(q.jobs, jobs...)
	q.drain()
}

// Len is the number of jobs not yet finished, the one being written included.
func (q *Queue) Len() int {
	if q.busy {
		return len(q.jobs) + 1
	}
	return len(q.jobs)
}

func (q *Queue) Busy() bool {
	return q.busy
}

// Backlog reports whether anything is still waiting to be written.
func (q *Queue) Backlog() bool {
	return q.Len() > 0
}

// Close stops the writer. Jobs still queued are dropped.
func (q *Queue) Close() {
	select {
	case <-q.quit:
	default:
		close(q.quit)
	}
}

func (q *Queue) drain() {
	if q.busy || len(q.jobs) == 0 {
		return
	}
	job := q.jobs[0]
	q.jobs[0] = Job{}
	q.jobs = q.jobs[1:]
	q.busy = true
	q.work <- job
}

func (q *Queue) finished(r Result) {
	q.busy = false
	if r.Err != nil {
		q.logger.Warnf("persist: %s failed after %s: %s", r.Job, r.Elapsed, r.Err)
	} else {
		q.logger.Debugf("persist: %s written in %s", r.Job, r.Elapsed)
	}
	if q.done != nil {
		q.done(r)
	}
	q.drain()
}

func (q *Queue) writer() {
	for {
		select {
		case <-q.quit:
			return
		case job := <-q.work:
			start := time.Now()
			var err error
			if job.Run != nil {
				err = job.Run()
			} else {
				err = q.sink.CreateAndWrite(job.FileName, job.MimeType, job.Payload)
			}
			r := Result{Job: job, Err: err, Elapsed: time.Since(start)}
			q.post(func() { q.finished(r) })
		}
	}
}
