package worker

import (
	"fmt"
	"time"
)

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		defer w.pool.retire(w.jobChannel)
		for {
			w.pool.Release(w.jobChannel)
			select {
			case job := <-w.jobChannel:
				if job.Type == Stop {
					return
				}
				w.handle(job)
			case <-w.pool.done:
				return
			}
		}
	}()
}

func (w *Worker) handle(job Job) {
	if err := job.Ctx.Err(); err != nil {
		// caller already gave up
		job.finish(result{err: err})
		return
	}

	var res result
	func() {
		defer func() {
			if r := recover(); r != nil {
				res = result{err: fmt.Errorf("agent panic: %v", r)}
			}
		}()
		resp, err := w.pool.agent.Chat(job.Ctx, job.Request)
		res = result{response: resp, err: err}
	}()

	if res.err != nil {
		w.pool.counters.failed.Add(1)
	} else {
		w.pool.counters.completed.Add(1)
	}
	debugLog("job done", map[string]interface{}{
		"worker": w.id,
		"key":    job.Key,
		"waited": time.Since(job.queuedAt).String(),
		"failed": res.err != nil,
	})
	job.finish(res)
}
