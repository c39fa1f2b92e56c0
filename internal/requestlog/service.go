package requestlog

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Service writes Entries to a Repo asynchronously, off the request hot
// path. A full queue drops the new entry rather than blocking a
// live proxy request on disk I/O — observability must never become a
// source of proxy latency.
type Service struct {
	repo    *Repo
	queue   chan Entry
	dropped atomic.Int64
	done    chan struct{}
}

// NewService starts a Service backed by repo with the given queue depth.
func NewService(repo *Repo, queueSize int) *Service {
	if queueSize <= 0 {
		queueSize = 1024
	}
	s := &Service{
		repo:  repo,
		queue: make(chan Entry, queueSize),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Service) run() {
	defer close(s.done)
	for e := range s.queue {
		if err := s.repo.Insert(e); err != nil {
			log.Printf("requestlog: insert failed: %v", err)
		}
	}
}

// Record enqueues one finished-request observation. It never blocks: if the
// queue is full the entry is dropped and counted.
func (s *Service) Record(method, target string, isConnect bool, httpStatus int, netOK bool, durationNs int64) {
	e := Entry{
		ID:         uuid.NewString(),
		TSNanos:    time.Now().UnixNano(),
		Method:     method,
		Target:     target,
		IsConnect:  isConnect,
		HTTPStatus: httpStatus,
		NetOK:      netOK,
		DurationNs: durationNs,
	}
	select {
	case s.queue <- e:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns the number of entries dropped because the queue was full.
func (s *Service) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops accepting new entries and waits for the writer goroutine to
// drain the queue.
func (s *Service) Close() {
	close(s.queue)
	<-s.done
	_ = s.repo.Close()
}
