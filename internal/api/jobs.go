package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jnterry/awoken-bible-usfm/core/errors"
	"github.com/jnterry/awoken-bible-usfm/core/usfm/parser"
	"github.com/jnterry/awoken-bible-usfm/internal/logging"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Finished reports whether the job has stopped.
func (s JobStatus) Finished() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobRequest describes the source an asynchronous parse works on.
type JobRequest struct {
	Format string `json:"format"`
	Path   string `json:"path,omitempty"`
	Save   bool   `json:"save"`
	Size   int    `json:"size"`
}

// Job represents an asynchronous book parse.
type Job struct {
	ID          string         `json:"id"`
	Status      JobStatus      `json:"status"`
	Progress    int            `json:"progress"` // 0-100
	Result      *ParseResponse `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
	CompletedAt string         `json:"completed_at,omitempty"`
	Request     JobRequest     `json:"request"`

	seq      int
	finished time.Time
	ctx      context.Context
	cancel   context.CancelFunc
}

// JobStore manages parse jobs in memory. Getters return copies so callers
// can encode them while the job keeps running.
type JobStore struct {
	jobs map[string]*Job
	seq  int
	mu   sync.RWMutex
	now  func() time.Time
}

// NewJobStore creates a new job store.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

// Create registers a pending job whose context is derived from parent.
func (s *JobStore) Create(parent context.Context, req JobRequest) Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	now := s.now().UTC().Format(time.RFC3339)
	s.seq++

	job := &Job{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Request:   req,
		seq:       s.seq,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.jobs[job.ID] = job
	return *job
}

// Get retrieves a job by ID.
func (s *JobStore) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// Update sets a job's status and progress. Updates to a job that has
// already finished are ignored, so a cancelled job stays cancelled.
func (s *JobStore) Update(id string, status JobStatus, progress int, result *ParseResponse, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return errors.NewNotFound("job", id)
	}
	if job.Status.Finished() {
		return nil
	}

	now := s.now()
	job.Status = status
	job.Progress = max(job.Progress, progress)
	job.UpdatedAt = now.UTC().Format(time.RFC3339)
	if result != nil {
		job.Result = result
	}
	if errMsg != "" {
		job.Error = errMsg
	}
	if status.Finished() {
		job.finish(now)
	}
	return nil
}

// Cancel stops a pending or running job.
func (s *JobStore) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return errors.NewNotFound("job", id)
	}
	if job.Status.Finished() {
		return errors.NewValidation("status", string(job.Status), "job has already finished")
	}

	now := s.now()
	job.cancel()
	job.Status = JobStatusCancelled
	job.UpdatedAt = now.UTC().Format(time.RFC3339)
	job.finish(now)
	return nil
}

// Delete removes a job from the store, cancelling it if it is still running.
func (s *JobStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return errors.NewNotFound("job", id)
	}
	job.cancel()
	delete(s.jobs, id)
	return nil
}

// List returns all jobs in creation order.
func (s *JobStore) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].seq < jobs[j].seq })
	return jobs
}

// Prune removes jobs that finished more than age ago and returns how many
// were removed.
func (s *JobStore) Prune(age time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-age)
	removed := 0
	for id, job := range s.jobs {
		if job.Status.Finished() && job.finished.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

func (j *Job) finish(now time.Time) {
	j.finished = now
	j.CompletedAt = now.UTC().Format(time.RFC3339)
	j.cancel()
}

// runJob parses data in the background, reporting each finished chapter
// to the WebSocket hub.
func (s *Server) runJob(job Job, data []byte) {
	go func() {
		ctx := logging.WithRequestID(job.ctx, job.ID)
		s.jobs.Update(job.ID, JobStatusRunning, 0, nil, "")
		s.hub.Broadcast(ProgressMessage{Type: "progress", Job: job.ID, Message: "parsing"})

		var done atomic.Int64
		resp, err := s.parse(ctx, job.Request, data, func(index, total int, res parser.ChapterResult) {
			n := int(done.Add(1))
			progress := n * 100 / total
			s.jobs.Update(job.ID, JobStatusRunning, progress, nil, "")

			msg := ProgressMessage{
				Type:     "progress",
				Job:      job.ID,
				Progress: progress,
				Message:  fmt.Sprintf("parsed %d of %d chapters", n, total),
				Data:     map[string]any{"index": index, "diagnostics": len(res.Errors)},
			}
			if res.Chapter != nil {
				msg.Data["chapter"] = res.Chapter.Number
			}
			s.hub.Broadcast(msg)
		})

		switch {
		case errors.Is(err, context.Canceled) || job.ctx.Err() != nil:
			logging.InfoContext(ctx, "job cancelled")
			s.jobs.Update(job.ID, JobStatusCancelled, 0, nil, "")
			s.hub.Broadcast(ProgressMessage{Type: "cancelled", Job: job.ID, Message: "job cancelled"})
		case err != nil:
			logging.WarnContext(ctx, "job failed", "error", err)
			s.jobs.Update(job.ID, JobStatusFailed, 100, nil, err.Error())
			s.hub.Broadcast(ProgressMessage{Type: "error", Job: job.ID, Message: err.Error()})
		default:
			s.jobs.Update(job.ID, JobStatusCompleted, 100, resp, "")
			s.hub.Broadcast(ProgressMessage{
				Type:     "complete",
				Job:      job.ID,
				Progress: 100,
				Message:  "parse complete",
				Data:     map[string]any{"digest": resp.Digest, "diagnostics": resp.Diagnostics},
			})
		}
	}()
}

// handleCreateJob handles POST /jobs. The body is the raw source; the
// query takes the same parameters as POST /parse.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	req, data, ok := s.readSource(w, r)
	if !ok {
		return
	}

	job := s.jobs.Create(s.baseContext(), req)
	logging.InfoContext(r.Context(), "job created", "job", job.ID, "format", req.Format, "size", req.Size)
	s.runJob(job, data)

	w.Header().Set("Location", "/jobs/"+job.ID)
	respond(w, http.StatusAccepted, job)
}

// handleListJobs handles GET /jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.List()
	respondList(w, jobs, len(jobs))
}

// handleGetJob handles GET /jobs/{id}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, exists := s.jobs.Get(r.PathValue("id"))
	if !exists {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
		return
	}
	respond(w, http.StatusOK, job)
}

// handleCancelJob handles DELETE /jobs/{id}. A running job is cancelled and
// kept so its final state can be read; a finished job is removed.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, exists := s.jobs.Get(id)
	if !exists {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
		return
	}

	if job.Status.Finished() {
		if err := s.jobs.Delete(id); err != nil {
			s.respondErr(w, r, err)
			return
		}
		respond(w, http.StatusOK, map[string]string{"message": "Job deleted"})
		return
	}

	if err := s.jobs.Cancel(id); err != nil {
		s.respondErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"message": "Job cancelled"})
}
