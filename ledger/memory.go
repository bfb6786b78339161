package ledger

import (
	// Go Internal Packages
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Fault is a failure the MemoryLedger injects into its next Submit.
type Fault int

const (
	FaultNone Fault = iota
	// FaultUnavailable fails before anything is written.
	FaultUnavailable
	// FaultTimeoutAfterCommit writes the entry and then reports a timeout.
	FaultTimeoutAfterCommit
	// FaultRejected fails permanently.
	FaultRejected
)

// Entry is one hash-chained ledger record.
type Entry struct {
	Sequence    int64
	Key         string
	PayloadHash string
	PrevHash    string
	Hash        string
	RecordedAt  time.Time
}

// MemoryLedger is an in-process append-only ledger. It backs tests and local runs and
// can inject the failures a remote ledger exhibits.
type MemoryLedger struct {
	mu               sync.Mutex
	entries          []Entry
	byKey            map[string]int
	unregistered     map[string]bool
	rejectDuplicates bool
	faults           []Fault
	failureRate      float64
	rng              *rand.Rand
	down             bool
	submitCalls      int
	lookupCalls      int
	clock            func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byKey:        map[string]int{},
		unregistered: map[string]bool{},
		clock:        time.Now,
	}
}

// RejectDuplicates makes Submit fail with ErrDuplicateKey for known keys instead of
// returning the existing entry.
func (l *MemoryLedger) RejectDuplicates() *MemoryLedger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejectDuplicates = true
	return l
}

// WithClock overrides the clock for testing.
func (l *MemoryLedger) WithClock(clock func() time.Time) *MemoryLedger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = clock
	return l
}

// InjectFaults queues faults for the next Submit calls, one per call.
func (l *MemoryLedger) InjectFaults(faults ...Fault) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = append(l.faults, faults...)
}

// SetFailureRate makes a fraction of submits fail at random. Half of those failures
// commit the entry before timing out.
func (l *MemoryLedger) SetFailureRate(rate float64, seed int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failureRate = rate
	l.rng = rand.New(rand.NewSource(seed))
}

func (l *MemoryLedger) Unregister(shopkeeperID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unregistered[shopkeeperID] = true
}

func (l *MemoryLedger) SetDown(down bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.down = down
}

func (l *MemoryLedger) SubmitCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submitCalls
}

func (l *MemoryLedger) LookupCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lookupCalls
}

// Entries returns a copy of the chain.
func (l *MemoryLedger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// CountKey returns how many entries carry key. Anything above one is a duplicate write.
func (l *MemoryLedger) CountKey(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.Key == key {
			n++
		}
	}
	return n
}

func (l *MemoryLedger) Submit(ctx context.Context, key string, payload []byte) (SubmissionResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitCalls++

	if err := ctx.Err(); err != nil {
		return SubmissionResult{}, err
	}
	if l.down {
		return SubmissionResult{}, Transient("ledger unavailable", nil)
	}

	fault := l.nextFault()
	switch fault {
	case FaultUnavailable:
		return SubmissionResult{}, Transient("ledger unavailable", nil)
	case FaultRejected:
		return SubmissionResult{}, Permanent("payload rejected", nil)
	}

	if idx, ok := l.byKey[key]; ok {
		if l.rejectDuplicates {
			return SubmissionResult{}, Transient("submit", ErrDuplicateKey)
		}
		e := l.entries[idx]
		return SubmissionResult{Reference: e.Hash, BlockHeight: e.Sequence}, nil
	}

	e := l.append(key, payload)
	if fault == FaultTimeoutAfterCommit {
		return SubmissionResult{}, fmt.Errorf("submit %s: %w", key, context.DeadlineExceeded)
	}
	return SubmissionResult{Reference: e.Hash, BlockHeight: e.Sequence}, nil
}

func (l *MemoryLedger) Lookup(ctx context.Context, key string) (Confirmation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lookupCalls++

	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}
	if l.down {
		return Confirmation{}, Transient("ledger unavailable", nil)
	}
	idx, ok := l.byKey[key]
	if !ok {
		return Confirmation{}, ErrNotFound
	}
	e := l.entries[idx]
	return Confirmation{Key: key, Reference: e.Hash, BlockHeight: e.Sequence, RecordedAt: e.RecordedAt}, nil
}

func (l *MemoryLedger) AccountStatus(ctx context.Context, shopkeeperID string) (AccountStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.down {
		return AccountStatus{}, Transient("ledger unavailable", nil)
	}
	return AccountStatus{ShopkeeperID: shopkeeperID, Registered: !l.unregistered[shopkeeperID]}, nil
}

func (l *MemoryLedger) Status(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.down {
		return Transient("ledger unavailable", nil)
	}
	return nil
}

// Verify walks the chain and reports the first broken link.
func (l *MemoryLedger) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := "genesis"
	for i, e := range l.entries {
		if e.PrevHash != prev {
			return fmt.Errorf("entry %d: prev hash mismatch", i)
		}
		if e.Hash != chainHash(e.Sequence, e.Key, e.PayloadHash, e.PrevHash) {
			return fmt.Errorf("entry %d: hash mismatch", i)
		}
		prev = e.Hash
	}
	return nil
}

func (l *MemoryLedger) nextFault() Fault {
	if len(l.faults) > 0 {
		f := l.faults[0]
		l.faults = l.faults[1:]
		return f
	}
	if l.rng != nil && l.rng.Float64() < l.failureRate {
		if l.rng.Intn(2) == 0 {
			return FaultUnavailable
		}
		return FaultTimeoutAfterCommit
	}
	return FaultNone
}

func (l *MemoryLedger) append(key string, payload []byte) Entry {
	prev := "genesis"
	if n := len(l.entries); n > 0 {
		prev = l.entries[n-1].Hash
	}
	sum := sha256.Sum256(payload)
	e := Entry{
		Sequence:    int64(len(l.entries)) + 1,
		Key:         key,
		PayloadHash: hex.EncodeToString(sum[:]),
		PrevHash:    prev,
		RecordedAt:  l.clock(),
	}
	e.Hash = chainHash(e.Sequence, e.Key, e.PayloadHash, e.PrevHash)
	l.byKey[key] = len(l.entries)
	l.entries = append(l.entries, e)
	return e
}

func chainHash(seq int64, key, payloadHash, prev string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s|%s", seq, key, payloadHash, prev)))
	return hex.EncodeToString(sum[:])
}
