package main

import (
	"sync"
	"testing"
)

func TestProgressStream_DropsOldest(t *testing.T) {
	p := newProgressStream(2)
	for i := 1; i <= 5; i++ {
		p.emit(Event{Kind: ChunkCommitted, Table: "t", Chunk: i})
	}
	p.close()

	var chunks []int
	for e := range p.ch {
		chunks = append(chunks, e.Chunk)
		if e.Time.IsZero() {
			t.Error("emit should stamp the event time")
		}
	}
	if len(chunks) != 2 || chunks[0] != 4 || chunks[1] != 5 {
		t.Errorf("received chunks %v, want [4 5]", chunks)
	}
	if got := p.droppedCount(); got != 3 {
		t.Errorf("droppedCount() = %d, want 3", got)
	}
}

func TestProgressStream_EmitAfterClose(t *testing.T) {
	p := newProgressStream(1)
	p.close()
	p.close()
	p.emit(Event{Kind: TableStarted, Table: "t"})
	if _, ok := <-p.ch; ok {
		t.Error("closed stream delivered an event")
	}
}

func TestProgressStream_ConcurrentEmitNeverBlocks(t *testing.T) {
	p := newProgressStream(4)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				p.emit(Event{Kind: ChunkCommitted})
			}
		}()
	}
	wg.Wait()
	p.close()

	received := 0
	for range p.ch {
		received++
	}
	if int64(received)+p.droppedCount() != 800 {
		t.Errorf("received %d + dropped %d != 800", received, p.droppedCount())
	}
}

func TestEventKindString(t *testing.T) {
	for kind, want := range map[EventKind]string{
		TableStarted:   "table-started",
		ChunkCommitted: "chunk-committed",
		TableCompleted: "table-completed",
		TableFailed:    "table-failed",
		EventKind(99):  "unknown",
	} {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", kind, got, want)
		}
	}
}
