// Package rwlock provides the two readers-writer lock variants the storage
// engine layers over: a read-preferring lock for the common case and a
// write-preferring, reentrant-on-write lock for structures where writer
// starvation would be unacceptable (the page directory, the transaction
// tracker).
package rwlock

import (
	"runtime"
	"strconv"
	"sync"
	"time"
)

// RWLock is the common surface both variants implement.
type RWLock interface {
	AcquireRead() bool
	ReleaseRead()
	AcquireWrite() bool
	ReleaseWrite()
	Locked() bool
}

// goroutineID extracts the calling goroutine's numeric id by parsing the
// header line of runtime.Stack. There is no supported API for this; it is
// the standard (if frowned-upon) way to get something resembling
// threading.get_ident() in Go, and it's only used here to make the
// write-preferring lock's write side reentrant for its owning goroutine.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := buf[:n]
	// fields looks like "goroutine 123 [running]:..."
	i := 0
	for i < len(fields) && fields[i] != ' ' {
		i++
	}
	i++
	j := i
	for j < len(fields) && fields[j] != ' ' {
		j++
	}
	id, err := strconv.ParseInt(string(fields[i:j]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}

// waitFor waits on cond until pred holds, returning false if d elapses
// first. d < 0 means wait forever.
func waitFor(cond *sync.Cond, pred func() bool, d time.Duration) bool {
	if d < 0 {
		for !pred() {
			cond.Wait()
		}
		return true
	}
	deadline := time.Now().Add(d)
	for !pred() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return pred()
		}
		timer := time.AfterFunc(remaining, func() {
			cond.L.Lock()
			cond.Broadcast()
			cond.L.Unlock()
		})
		cond.Wait()
		timer.Stop()
	}
	return true
}

// ReadPreferring lets readers enter while a writer is waiting: acquiring
// read only blocks on the writer's exclusive lock, never on other readers.
type ReadPreferring struct {
	mu          sync.Mutex // guards numReaders and the exclusive-lock handoff
	numReaders  int
	exclusive   sync.Mutex
	timeout     time.Duration
}

// NewReadPreferring returns a lock with the given acquire timeout; a
// negative timeout means wait forever.
func NewReadPreferring(timeout time.Duration) *ReadPreferring {
	return &ReadPreferring{timeout: timeout}
}

func (l *ReadPreferring) AcquireRead() bool {
	l.mu.Lock()
	l.numReaders++
	if l.numReaders == 1 {
		if !tryLockTimeout(&l.exclusive, l.timeout) {
			l.numReaders--
			l.mu.Unlock()
			return false
		}
	}
	l.mu.Unlock()
	return true
}

func (l *ReadPreferring) ReleaseRead() {
	l.mu.Lock()
	l.numReaders--
	if l.numReaders == 0 {
		l.exclusive.Unlock()
	}
	l.mu.Unlock()
}

func (l *ReadPreferring) AcquireWrite() bool {
	return tryLockTimeout(&l.exclusive, l.timeout)
}

func (l *ReadPreferring) ReleaseWrite() {
	l.exclusive.Unlock()
}

func (l *ReadPreferring) Locked() bool {
	if l.exclusive.TryLock() {
		l.exclusive.Unlock()
		return false
	}
	return true
}

func tryLockTimeout(mu *sync.Mutex, d time.Duration) bool {
	if d < 0 {
		mu.Lock()
		return true
	}
	deadline := time.Now().Add(d)
	for {
		if mu.TryLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// WritePreferring blocks new readers as soon as a writer is waiting, and
// lets its current writer re-enter AcquireWrite from the same goroutine
// without deadlocking.
//
// The Python original releases the underlying lock on every reentrant
// acquire_write() call except the outermost one; here every AcquireWrite
// call is matched by exactly one ReleaseWrite call, which is the simpler
// and correct pairing and is what we implement.
type WritePreferring struct {
	mu               sync.Mutex
	cond             *sync.Cond
	numReadersActive int
	numWritersWaiting int
	writerActive     bool
	writerGoroutine  int64
	recursion        int
	timeout          time.Duration
}

// NewWritePreferring returns a lock with the given acquire timeout; a
// negative timeout means wait forever.
func NewWritePreferring(timeout time.Duration) *WritePreferring {
	l := &WritePreferring{timeout: timeout, writerGoroutine: -1}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *WritePreferring) AcquireRead() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ok := waitFor(l.cond, func() bool {
		return l.numWritersWaiting == 0 && !l.writerActive
	}, l.timeout)
	if ok {
		l.numReadersActive++
	}
	return ok
}

func (l *WritePreferring) ReleaseRead() {
	l.mu.Lock()
	l.numReadersActive--
	if l.numReadersActive == 0 {
		l.cond.Broadcast()
	}
	l.mu.Unlock()
}

func (l *WritePreferring) AcquireWrite() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	gid := goroutineID()
	if l.writerActive && l.writerGoroutine == gid {
		l.recursion++
		return true
	}
	l.numWritersWaiting++
	ok := waitFor(l.cond, func() bool {
		return l.numReadersActive == 0 && !l.writerActive
	}, l.timeout)
	l.numWritersWaiting--
	if ok {
		l.writerGoroutine = gid
		l.recursion = 1
		l.writerActive = true
	}
	return ok
}

func (l *WritePreferring) ReleaseWrite() {
	l.mu.Lock()
	l.recursion--
	if l.recursion == 0 {
		l.writerActive = false
		l.writerGoroutine = -1
		l.cond.Broadcast()
	}
	l.mu.Unlock()
}

func (l *WritePreferring) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writerActive || l.numReadersActive > 0 || l.numWritersWaiting > 0
}
