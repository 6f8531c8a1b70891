package main

import (
	"sync"
	"time"
)

// EventKind identifies a progress notification.
type EventKind int

const (
	TableStarted EventKind = iota
	ChunkCommitted
	TableCompleted
	TableFailed
)

func (k EventKind) String() string {
	switch k {
	case TableStarted:
		return "table-started"
	case ChunkCommitted:
		return "chunk-committed"
	case TableCompleted:
		return "table-completed"
	case TableFailed:
		return "table-failed"
	default:
		return "unknown"
	}
}

// Event is an immutable progress notification.
type Event struct {
	Kind          EventKind
	Table         string
	Time          time.Time
	EstimatedRows int64 // TableStarted; -1 when unknown
	Chunk         int   // ChunkCommitted: 1-based chunk number
	ChunkRows     int   // ChunkCommitted
	Rows          int64 // rows committed so far for the table
	Err           string
}

// progressStream is a bounded event channel that never blocks the sender:
// when the buffer is full the oldest event is discarded.
type progressStream struct {
	mu      sync.Mutex
	ch      chan Event
	dropped int64
	closed  bool
}

func newProgressStream(capacity int) *progressStream {
	return &progressStream{ch: make(chan Event, max(capacity, 1))}
}

func (p *progressStream) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for {
		select {
		case p.ch <- e:
			return
		default:
		}
		select {
		case <-p.ch:
			p.dropped++
		default:
		}
	}
}

func (p *progressStream) droppedCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *progressStream) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
}
