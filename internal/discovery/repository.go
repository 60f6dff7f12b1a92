package discovery

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/yourorg/diagflow/pkg/types"
)

// KnowledgeWriter creates knowledge inside a transaction.
type KnowledgeWriter interface {
	// CreateIfAbsent inserts rec unless a record with the same kind, identifier and scope
	// exists. It reports whether a row was created and sets rec.ID when it was.
	CreateIfAbsent(ctx context.Context, rec *types.KnowledgeRecord) (bool, error)
}

// Repository is the knowledge store boundary.
type Repository interface {
	// WithinTx runs fn in one transaction, committing when fn returns nil and rolling back
	// otherwise.
	WithinTx(ctx context.Context, fn func(KnowledgeWriter) error) error
	StartDiscoveryRun(ctx context.Context, run *types.DiscoveryRun) error
	FinishDiscoveryRun(ctx context.Context, run *types.DiscoveryRun) error
}

// ErrInjected is returned by a MemoryRepository configured to fail.
var ErrInjected = errors.New("memory repository: injected failure")

type recordKey struct {
	kind       types.PatternKind
	identifier string
	scope      string
}

// MemoryRepository keeps knowledge in memory. Writes are staged per transaction and only
// become visible on commit.
type MemoryRepository struct {
	mu      sync.Mutex
	records []types.KnowledgeRecord
	index   map[recordKey]int
	runs    map[string]types.DiscoveryRun
	nextID  int64

	// FailAfter makes the n-th CreateIfAbsent of a transaction fail (1-based). Zero disables.
	FailAfter int
	// Delay is slept inside each CreateIfAbsent, honouring ctx.
	Delay time.Duration
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		index: map[recordKey]int{},
		runs:  map[string]types.DiscoveryRun{},
	}
}

type memoryTx struct {
	repo   *MemoryRepository
	staged []types.KnowledgeRecord
	keys   map[recordKey]bool
	calls  int
}

func (tx *memoryTx) CreateIfAbsent(ctx context.Context, rec *types.KnowledgeRecord) (bool, error) {
	tx.calls++
	if tx.repo.FailAfter > 0 && tx.calls >= tx.repo.FailAfter {
		return false, ErrInjected
	}
	if tx.repo.Delay > 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(tx.repo.Delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	k := recordKey{rec.Kind, rec.Identifier, rec.ScopeID}
	if _, ok := tx.repo.index[k]; ok || tx.keys[k] {
		return false, nil
	}
	tx.keys[k] = true
	tx.repo.nextID++
	rec.ID = tx.repo.nextID
	tx.staged = append(tx.staged, *rec)
	return true, nil
}

// WithinTx implements Repository. Transactions are serialized.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(KnowledgeWriter) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	nextID := r.nextID
	tx := &memoryTx{repo: r, keys: map[recordKey]bool{}}
	if err := fn(tx); err != nil {
		r.nextID = nextID
		return err
	}
	if err := ctx.Err(); err != nil {
		r.nextID = nextID
		return err
	}
	for _, rec := range tx.staged {
		r.index[recordKey{rec.Kind, rec.Identifier, rec.ScopeID}] = len(r.records)
		r.records = append(r.records, rec)
	}
	return nil
}

// StartDiscoveryRun implements Repository.
func (r *MemoryRepository) StartDiscoveryRun(_ context.Context, run *types.DiscoveryRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = *run
	return nil
}

// FinishDiscoveryRun implements Repository.
func (r *MemoryRepository) FinishDiscoveryRun(_ context.Context, run *types.DiscoveryRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = *run
	return nil
}

// Records returns the committed records in insertion order.
func (r *MemoryRepository) Records() []types.KnowledgeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.records)
}

// Run returns a recorded discovery run.
func (r *MemoryRepository) Run(id string) (types.DiscoveryRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	return run, ok
}
