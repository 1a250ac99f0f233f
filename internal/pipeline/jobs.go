package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/opsrag/internal/store"
)

// JobStatus is the lifecycle of a queued ingestion job. The document's own
// processing state is tracked separately as the job's Stage.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Job tracks one asynchronous document ingestion.
type Job struct {
	mu sync.Mutex

	ID      string
	Request Request

	Status   JobStatus
	Stage    store.Status
	Reason   string
	Progress Progress
	Result   *Result

	CreatedAt time.Time
	UpdatedAt time.Time

	errors []string
}

// Progress counts chunk work for a job.
type Progress struct {
	TotalChunks    int      `json:"total_chunks"`
	ChunksEmbedded int      `json:"chunks_embedded"`
	Errors         []string `json:"errors"`
}

// NewJob returns a queued job for req.
func NewJob(req Request) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		Request:   req,
		Status:    StatusQueued,
		Stage:     store.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes jobs that have not changed within the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		idle := now.Sub(job.UpdatedAt)
		job.mu.Unlock()
		if idle > s.ttl {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates the job status and document stage together.
func (j *Job) SetStatus(status JobStatus, stage store.Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Stage = stage
	j.UpdatedAt = time.Now()
}

// Fail marks the job failed with a reason code.
func (j *Job) Fail(reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = StatusFailed
	j.Stage = store.StatusFailed
	j.Reason = reason
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetTotalChunks records total chunk count.
func (j *Job) SetTotalChunks(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.TotalChunks = n
	j.UpdatedAt = time.Now()
}

// AddEmbedded counts n more embedded chunks.
func (j *Job) AddEmbedded(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.ChunksEmbedded += n
	j.UpdatedAt = time.Now()
}

// Complete stores the ingestion result.
func (j *Job) Complete(r Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = StatusCompleted
	j.Stage = store.StatusPersisted
	j.Result = &r
	j.UpdatedAt = time.Now()
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID           string       `json:"job_id"`
	DocumentID   string       `json:"document_id"`
	OwnerID      string       `json:"owner_id"`
	OriginalName string       `json:"original_name"`
	Status       JobStatus    `json:"status"`
	Stage        store.Status `json:"stage"`
	Reason       string       `json:"reason,omitempty"`
	Progress     Progress     `json:"progress"`
	Result       *Result      `json:"result,omitempty"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := append([]string{}, j.Progress.Errors...)
	var res *Result
	if j.Result != nil {
		r := *j.Result
		res = &r
	}
	return JobSnapshot{
		ID:           j.ID,
		DocumentID:   j.Request.DocumentID,
		OwnerID:      j.Request.OwnerID,
		OriginalName: j.Request.OriginalName,
		Status:       j.Status,
		Stage:        j.Stage,
		Reason:       j.Reason,
		Progress: Progress{
			TotalChunks:    j.Progress.TotalChunks,
			ChunksEmbedded: j.Progress.ChunksEmbedded,
			Errors:         errs,
		},
		Result: res,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
