package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"rollcall/internal/queue"
	"rollcall/internal/schema"
)

// Validation errors, raised before the store is touched.
var (
	ErrBadDate    = errors.New("date must be formatted YYYY-MM-DD")
	ErrBadSubject = errors.New("subject is not in the subject list")
	ErrBadStatus  = errors.New("status must be Present or Absent")
	ErrBadStudent = errors.New("student id is required")
)

// msgStatusUpdate is the queue message type for deferred single-record edits.
const msgStatusUpdate = "status_update"

// StatusUpdate is one in-place status edit, addressed by the exact triple.
type StatusUpdate struct {
	StudentID string `json:"student_id"`
	Date      string `json:"date"`
	Subject   string `json:"subject"`
	Status    string `json:"status"`
}

// Task tracks one submitted status update. Wait blocks until the update has
// been applied by an in-process applier. Untracked tasks (the applier runs in
// another process) have no completion channel: Wait blocks until ctx and
// callers rely on the worker's log.
type Task struct {
	ID   string
	done chan error
}

// Wait blocks for completion or context cancellation.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Service validates attendance writes and coordinates the deferred
// single-record update path.
type Service struct {
	repo    *Repository
	q       queue.Queue
	tracked bool

	mu      sync.Mutex
	pending map[string]chan error
}

// NewService creates a service backed by a repository and a queue. Set
// trackCompletions only when RunApplier runs in the same process; otherwise
// nothing ever resolves a pending entry and the map would grow with every
// submission.
func NewService(repo *Repository, q queue.Queue, trackCompletions bool) *Service {
	return &Service{repo: repo, q: q, tracked: trackCompletions, pending: make(map[string]chan error)}
}

// Mark validates and submits one (date, subject) batch. Every record is
// normalized to the submitted pair so a malformed payload cannot scatter rows
// across other days or subjects.
func (s *Service) Mark(records []Record, date, subject string) error {
	if _, err := time.Parse(schema.DateLayout, date); err != nil {
		return ErrBadDate
	}
	if !schema.ValidSubject(subject) {
		return ErrBadSubject
	}
	for i := range records {
		if records[i].StudentID == "" {
			return ErrBadStudent
		}
		if !schema.ValidStatus(records[i].Status) {
			return ErrBadStatus
		}
		records[i].Date = date
		records[i].Subject = subject
	}
	return s.repo.Mark(records, date, subject)
}

// SubmitStatusUpdate validates upd and publishes it to the queue, returning a
// task the caller can wait on.
func (s *Service) SubmitStatusUpdate(ctx context.Context, upd StatusUpdate) (*Task, error) {
	if upd.StudentID == "" {
		return nil, ErrBadStudent
	}
	if _, err := time.Parse(schema.DateLayout, upd.Date); err != nil {
		return nil, ErrBadDate
	}
	if !schema.ValidSubject(upd.Subject) {
		return nil, ErrBadSubject
	}
	if !schema.ValidStatus(upd.Status) {
		return nil, ErrBadStatus
	}

	body, err := json.Marshal(upd)
	if err != nil {
		return nil, err
	}
	id, err := s.q.Publish(ctx, queue.Message{Type: msgStatusUpdate, Body: body})
	if err != nil {
		return nil, fmt.Errorf("publish status update: %w", err)
	}
	if !s.tracked {
		return &Task{ID: id}, nil
	}

	done := make(chan error, 1)
	s.mu.Lock()
	s.pending[id] = done
	s.mu.Unlock()
	return &Task{ID: id, done: done}, nil
}

// RunApplier consumes the queue and applies status updates until ctx is
// cancelled. The API process runs it on a goroutine with the in-memory
// backend; the worker binary runs it against Redis.
func (s *Service) RunApplier(ctx context.Context) error {
	msgs, err := s.q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range msgs {
		if msg.Type != msgStatusUpdate {
			continue
		}
		var upd StatusUpdate
		if err := json.Unmarshal(msg.Body, &upd); err != nil {
			log.Printf("drop malformed update %s: %v", msg.ID, err)
			s.resolve(msg.ID, err)
			continue
		}
		err := s.repo.UpdateSingle(upd.StudentID, upd.Date, upd.Subject, upd.Status)
		if err != nil {
			log.Printf("update %s for %s on %s failed: %v", msg.ID, upd.StudentID, upd.Date, err)
		} else {
			log.Printf("updated record for %s on %s (%s)", upd.StudentID, upd.Date, upd.Subject)
		}
		s.resolve(msg.ID, err)
	}
	return nil
}

func (s *Service) resolve(id string, err error) {
	s.mu.Lock()
	done, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if ok {
		done <- err
	}
}
