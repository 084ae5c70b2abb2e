package worker

import (
	"context"
	"sync/atomic"
	"time"

	"vinochat/internal/models"
)

// Agent answers one chat turn. The agent service satisfies it.
type Agent interface {
	Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error)
}

type JobType string

const (
	Run  JobType = "run"
	Stop JobType = "stop"
)

// Job is a unit of work handed to a worker. Key groups jobs of one client so
// the dispatcher can serve clients round-robin.
type Job struct {
	Type     JobType
	Key      string
	Ctx      context.Context
	Request  models.ChatRequest
	resultCh chan result
	queuedAt time.Time
}

type result struct {
	response *models.ChatResponse
	err      error
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Running   int    `json:"running"`
	Idle      int    `json:"idle"`
	Queued    int    `json:"queued"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Abandoned uint64 `json:"abandoned"`
}

type counters struct {
	completed atomic.Uint64
	failed    atomic.Uint64
	abandoned atomic.Uint64
}

func (j Job) finish(res result) {
	if j.resultCh == nil {
		return
	}
	// buffered with capacity one, never blocks
	j.resultCh <- res
}
