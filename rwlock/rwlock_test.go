package rwlock

import (
	"testing"
	"time"
)

func TestReadPreferringConcurrentReaders(t *testing.T) {
	l := NewReadPreferring(time.Second)
	if !l.AcquireRead() {
		t.Fatal("first read should acquire")
	}
	done := make(chan bool, 1)
	go func() {
		done <- l.AcquireRead()
	}()
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("second reader should acquire while first is held")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("second reader blocked behind first reader")
	}
	l.ReleaseRead()
	l.ReleaseRead()
}

func TestReadPreferringWriteExcludesRead(t *testing.T) {
	l := NewReadPreferring(100 * time.Millisecond)
	if !l.AcquireWrite() {
		t.Fatal("write should acquire")
	}
	if l.AcquireRead() {
		t.Fatal("read should not acquire while writer holds lock")
	}
	l.ReleaseWrite()
	if !l.AcquireRead() {
		t.Fatal("read should acquire after writer releases")
	}
	l.ReleaseRead()
}

func TestWritePreferringReentrantWrite(t *testing.T) {
	l := NewWritePreferring(-1)
	if !l.AcquireWrite() {
		t.Fatal("outer acquire failed")
	}
	if !l.AcquireWrite() {
		t.Fatal("reentrant acquire from same goroutine should succeed")
	}
	l.ReleaseWrite()
	if !l.Locked() {
		t.Fatal("lock should still be held after inner release")
	}
	l.ReleaseWrite()
	if l.Locked() {
		t.Fatal("lock should be free after matching releases")
	}
}

func TestWritePreferringBlocksNewReaders(t *testing.T) {
	l := NewWritePreferring(-1)
	if !l.AcquireRead() {
		t.Fatal("first read should acquire")
	}

	writerWaiting := make(chan struct{})
	writerDone := make(chan bool, 1)
	go func() {
		close(writerWaiting)
		writerDone <- l.AcquireWrite()
	}()
	<-writerWaiting
	time.Sleep(50 * time.Millisecond)

	readerDone := make(chan bool, 1)
	go func() {
		readerDone <- l.AcquireRead()
	}()

	select {
	case <-readerDone:
		t.Fatal("new reader should not acquire while a writer is waiting")
	case <-time.After(100 * time.Millisecond):
	}

	l.ReleaseRead()
	if !<-writerDone {
		t.Fatal("writer should acquire once readers drain")
	}
	l.ReleaseWrite()
	if !<-readerDone {
		t.Fatal("reader should acquire once writer releases")
	}
	l.ReleaseRead()
}
