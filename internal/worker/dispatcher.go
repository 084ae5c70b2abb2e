package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"vinochat/internal/models"
)

var (
	// ErrPoolBusy is returned when the pending queue is full.
	ErrPoolBusy = errors.New("agent pool is busy")
	ErrClosed   = errors.New("agent pool is closed")
)

type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type clientQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher fans chat jobs out to a bounded pool of agent workers. Pending
// jobs are grouped per client key and served round-robin so one noisy client
// cannot starve the others.
type Dispatcher struct {
	pool      *jobChannelPool
	jobQueue  chan Job
	queueSize int64
	pending   atomic.Int64
	counters  counters

	mu        sync.Mutex
	queues    map[string]*clientQueue
	ready     *list.List // round-robin order of client keys
	positions map[string]*list.Element

	quit      chan struct{}
	closeOnce sync.Once
}

func NewDispatcher(cfg Config, agent Agent) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	d := &Dispatcher{
		jobQueue:  make(chan Job, cfg.QueueSize),
		queueSize: int64(cfg.QueueSize),
		quit:      make(chan struct{}),
	}
	d.resetQueues()
	d.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, agent, &d.counters)

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

func (d *Dispatcher) resetQueues() {
	d.queues = make(map[string]*clientQueue)
	d.ready = list.New()
	d.positions = make(map[string]*list.Element)
}

// Submit queues a chat turn for key and waits for its answer. It fails fast
// with ErrPoolBusy when the queue is full and returns ctx.Err() if the caller
// stops waiting first.
func (d *Dispatcher) Submit(ctx context.Context, key string, req models.ChatRequest) (*models.ChatResponse, error) {
	select {
	case <-d.quit:
		return nil, ErrClosed
	default:
	}
	if !d.reserve() {
		return nil, ErrPoolBusy
	}
	job := Job{
		Type:     Run,
		Key:      key,
		Ctx:      ctx,
		Request:  req,
		resultCh: make(chan result, 1),
		queuedAt: time.Now(),
	}
	select {
	case d.jobQueue <- job:
	default:
		d.pending.Add(-1)
		return nil, ErrPoolBusy
	}

	select {
	case res := <-job.resultCh:
		return res.response, res.err
	case <-ctx.Done():
		d.counters.abandoned.Add(1)
		return nil, ctx.Err()
	case <-d.quit:
		return nil, ErrClosed
	}
}

func (d *Dispatcher) reserve() bool {
	for {
		n := d.pending.Load()
		if n >= d.queueSize {
			return false
		}
		if d.pending.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Stats reports pool occupancy and job counters.
func (d *Dispatcher) Stats() Stats {
	running, idle := d.pool.snapshot()
	return Stats{
		Running:   running,
		Idle:      idle,
		Queued:    int(d.pending.Load()),
		Completed: d.counters.completed.Load(),
		Failed:    d.counters.failed.Load(),
		Abandoned: d.counters.abandoned.Load(),
	}
}

// Close stops dispatching; queued jobs fail with ErrClosed.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.quit)
		d.pool.close()
	})
}

func (d *Dispatcher) run() {
	for {
		if !d.dispatchOne() {
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			case <-d.quit:
				d.drain()
				return
			}
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			d.drain()
			return
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &clientQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

// nextJob pops the head job of the first client and rotates that client to
// the back of the ready list.
func (d *Dispatcher) nextJob() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	elem := d.ready.Front()
	if elem == nil {
		return Job{}, false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, key)
		delete(d.queues, key)
	} else {
		d.ready.MoveToBack(elem)
	}
	return job, true
}

func (d *Dispatcher) dispatchOne() bool {
	job, ok := d.nextJob()
	if !ok {
		return false
	}
	workerChan := d.pool.acquire()
	if workerChan == nil {
		d.pending.Add(-1)
		job.finish(result{err: ErrClosed})
		return false
	}
	debugLog("assign job", map[string]interface{}{
		"key":    job.Key,
		"worker": d.pool.workerID(workerChan),
	})
	select {
	case workerChan <- job:
		d.pending.Add(-1)
	case <-d.quit:
		d.pending.Add(-1)
		job.finish(result{err: ErrClosed})
	}
	return true
}

// drain fails everything still waiting once the dispatcher is closed.
func (d *Dispatcher) drain() {
	for {
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
			continue
		default:
		}
		break
	}
	for {
		job, ok := d.nextJob()
		if !ok {
			return
		}
		d.pending.Add(-1)
		job.finish(result{err: ErrClosed})
	}
}
