// Package identify implements the music-recognition worker pool: a bounded
// set of workers processing audio-identify jobs with queue-depth
// back-pressure.
//
// The actual recognition library is an external collaborator (out of
// scope); Pool is built against the Recognizer interface so a real
// implementation can be wired in without touching the pool's concurrency
// model: a fixed worker count consuming a shared job channel.
package identify

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oaktech/musicsync-relay/internal/logging"
	"github.com/oaktech/musicsync-relay/internal/metrics"
)

// ErrOverloaded is returned by Submit when the queue is at capacity.
var ErrOverloaded = errors.New("identify: pool overloaded")

const maxQueueDepth = 50

// Result is a completed recognition outcome.
type Result struct {
	RequestID string
	Match     *Match
	Err       error
}

// Match describes a recognized track. Fields are intentionally minimal;
// richer metadata (album art, MusicBrainz id) is the job of the external
// lookup collaborators, not this pool.
type Match struct {
	Title  string
	Artist string
}

// Recognizer performs the actual audio fingerprint lookup. Production
// wires in the real recognition library; tests and the dev-mode path use
// a stub.
type Recognizer interface {
	Recognize(ctx context.Context, audioFilePath string) (*Match, error)
}

type job struct {
	requestID     string
	audioFilePath string
	resultCh      chan Result
}

// Pool is a fixed-size worker pool for identify jobs with bounded queue
// depth back-pressure.
type Pool struct {
	recognizer Recognizer
	jobs       chan job

	mu    sync.Mutex
	depth int

	wg sync.WaitGroup
}

// DefaultWorkerCount returns max(2, NumCPU-1), the pool's default size
// absent an explicit override.
func DefaultWorkerCount() int {
	n := runtime.NumCPU() - 1
	if n < 2 {
		return 2
	}
	return n
}

// New constructs a Pool with workers workers and starts them immediately.
func New(recognizer Recognizer, workers int) *Pool {
	if workers < 1 {
		workers = DefaultWorkerCount()
	}
	p := &Pool{
		recognizer: recognizer,
		jobs:       make(chan job, maxQueueDepth),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.runWorker()
	}
	return p
}

// Submit enqueues an identify job for audioFilePath and blocks until a
// worker produces a result, the context is cancelled, or the queue is
// already at capacity (ErrOverloaded, returned synchronously without
// enqueueing).
func (p *Pool) Submit(ctx context.Context, audioFilePath string) (*Match, error) {
	p.mu.Lock()
	if p.depth >= maxQueueDepth {
		p.mu.Unlock()
		metrics.IdentifyJobs.WithLabelValues("overloaded").Inc()
		return nil, ErrOverloaded
	}
	p.depth++
	metrics.IdentifyQueueDepth.Set(float64(p.depth))
	p.mu.Unlock()

	requestID := uuid.NewString()
	resultCh := make(chan Result, 1)

	select {
	case p.jobs <- job{requestID: requestID, audioFilePath: audioFilePath, resultCh: resultCh}:
	case <-ctx.Done():
		p.release()
		return nil, ctx.Err()
	}

	select {
	case res := <-resultCh:
		if res.Err != nil {
			metrics.IdentifyJobs.WithLabelValues("error").Inc()
			return nil, res.Err
		}
		metrics.IdentifyJobs.WithLabelValues("success").Inc()
		return res.Match, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) release() {
	p.mu.Lock()
	p.depth--
	metrics.IdentifyQueueDepth.Set(float64(p.depth))
	p.mu.Unlock()
}

func (p *Pool) runWorker() {
	defer p.wg.Done()
	for j := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		match, err := p.recognizer.Recognize(ctx, j.audioFilePath)
		cancel()

		if err != nil {
			logging.Warn(context.Background(), "identify: recognition failed")
		}

		j.resultCh <- Result{RequestID: j.requestID, Match: match, Err: err}
		p.release()
	}
}

// Close stops accepting new work and waits for in-flight jobs to drain.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}

// QueueDepth reports the current number of pending+in-flight jobs, for
// tests and diagnostics.
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.depth
}
