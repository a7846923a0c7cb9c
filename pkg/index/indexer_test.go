package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/graphmill/graphmill/pkg/common"
	"github.com/graphmill/graphmill/pkg/config"
	"github.com/graphmill/graphmill/pkg/extract"
	"github.com/graphmill/graphmill/pkg/kg"
	"github.com/graphmill/graphmill/pkg/store"
)

// fakeExtractor scripts per-chunk behavior: fail, delay, or run a hook.
type fakeExtractor struct {
	mu      sync.Mutex
	failOn  map[string]error
	delayOn map[string]time.Duration
	hook    func(chunk common.Chunk)
	calls   []string
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		failOn:  make(map[string]error),
		delayOn: make(map[string]time.Duration),
	}
}

func (f *fakeExtractor) Extract(ctx context.Context, chunk common.Chunk) (*common.Extraction, error) {
	f.mu.Lock()
	f.calls = append(f.calls, chunk.ID)
	delay := f.delayOn[chunk.ID]
	failErr := f.failOn[chunk.ID]
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(chunk)
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}

	return &common.Extraction{
		Entities: []common.EntityCandidate{
			{Name: "entity-" + chunk.ID, Description: "from " + chunk.ID},
		},
		Relationships: []common.RelationshipCandidate{},
		LLMCalls:      1,
	}, nil
}

// fakeStorage records adds in memory.
type fakeStorage struct {
	mu      sync.Mutex
	indexed map[string]bool
	added   []string
	failAdd map[string]error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		indexed: make(map[string]bool),
		failAdd: make(map[string]error),
	}
}

func (f *fakeStorage) FindOrCreateEntity(ctx context.Context, name, description string, covariates map[string]any) (int64, error) {
	return 1, nil
}

func (f *fakeStorage) CreateRelationship(
	ctx context.Context,
	sourceID, targetID int64,
	typ kg.RelationshipType,
	confidence float64,
	description string,
	prov common.Provenance,
) (int64, error) {
	return 1, nil
}

func (f *fakeStorage) Add(ctx context.Context, extraction *common.Extraction, prov common.Provenance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failAdd[prov.ChunkID]; err != nil {
		return err
	}
	f.added = append(f.added, prov.ChunkID)
	return nil
}

func (f *fakeStorage) HasChunk(ctx context.Context, chunkID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.indexed[chunkID], nil
}

func (f *fakeStorage) Stats(ctx context.Context) (store.GraphStats, error) {
	return store.GraphStats{}, nil
}

func (f *fakeStorage) addedChunks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.added))
	copy(out, f.added)
	return out
}

func makeChunks(n int) []common.Chunk {
	chunks := make([]common.Chunk, n)
	for i := range chunks {
		chunks[i] = common.Chunk{
			ID:         fmt.Sprintf("chunk-%d", i),
			DocumentID: "doc-1",
			Text:       fmt.Sprintf("text %d", i),
		}
	}
	return chunks
}

func parallelConfig() config.Config {
	cfg := config.Default()
	cfg.EnableEnhancedKG = true
	cfg.MaxWorkers = 4
	cfg.ChunkTimeout = 2 * time.Second
	return cfg
}

func newTestIndexer(t *testing.T, extractor Extractor, storage store.GraphStorage, cfg config.Config) *Indexer {
	t.Helper()
	ix, err := NewIndexer(NewIndexerParams{
		Extractor: extractor,
		Storage:   storage,
		Config:    cfg,
	})
	if err != nil {
		t.Fatalf("NewIndexer() error = %v", err)
	}
	return ix
}

func TestErrorIsolation(t *testing.T) {
	extractor := newFakeExtractor()
	extractor.failOn["chunk-37"] = &extract.ExtractionError{ChunkID: "chunk-37", Attempts: 3, Err: errors.New("oracle down")}
	storage := newFakeStorage()

	ix := newTestIndexer(t, extractor, storage, parallelConfig())
	summary, err := ix.AddChunks(context.Background(), "doc-1", makeChunks(100))
	if err != nil {
		t.Fatalf("AddChunks() error = %v", err)
	}

	if summary.Succeeded != 99 {
		t.Errorf("Succeeded = %d, want 99", summary.Succeeded)
	}
	if len(summary.Failed) != 1 {
		t.Fatalf("Failed = %v, want exactly one failure", summary.Failed)
	}
	failure := summary.Failed[0]
	if failure.ChunkID != "chunk-37" || failure.Kind != FailureExtraction {
		t.Errorf("failure = %+v, want chunk-37/extraction_error", failure)
	}
	if got := len(storage.addedChunks()); got != 99 {
		t.Errorf("persisted chunks = %d, want 99", got)
	}
}

func TestChunkTimeout(t *testing.T) {
	extractor := newFakeExtractor()
	extractor.delayOn["chunk-1"] = 500 * time.Millisecond
	storage := newFakeStorage()

	cfg := parallelConfig()
	cfg.ChunkTimeout = 50 * time.Millisecond

	ix := newTestIndexer(t, extractor, storage, cfg)
	summary, err := ix.AddChunks(context.Background(), "doc-1", makeChunks(3))
	if err != nil {
		t.Fatalf("AddChunks() error = %v", err)
	}

	if summary.Succeeded != 2 {
		t.Errorf("Succeeded = %d, want 2", summary.Succeeded)
	}
	if len(summary.Failed) != 1 {
		t.Fatalf("Failed = %v, want exactly one failure", summary.Failed)
	}
	if summary.Failed[0].ChunkID != "chunk-1" || summary.Failed[0].Kind != FailureTimeout {
		t.Errorf("failure = %+v, want chunk-1/timeout", summary.Failed[0])
	}
}

func TestSkipsAlreadyIndexedChunks(t *testing.T) {
	extractor := newFakeExtractor()
	storage := newFakeStorage()
	storage.indexed["chunk-0"] = true

	ix := newTestIndexer(t, extractor, storage, parallelConfig())
	summary, err := ix.AddChunks(context.Background(), "doc-1", makeChunks(3))
	if err != nil {
		t.Fatalf("AddChunks() error = %v", err)
	}

	if summary.Succeeded != 3 {
		t.Errorf("Succeeded = %d, want 3", summary.Succeeded)
	}
	if summary.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", summary.Skipped)
	}
	if got := len(storage.addedChunks()); got != 2 {
		t.Errorf("persisted chunks = %d, want 2 (skipped chunk not re-added)", got)
	}
}

func TestLegacyRunsSequentially(t *testing.T) {
	extractor := newFakeExtractor()
	storage := newFakeStorage()

	cfg := config.Default() // enhanced off: sequential
	cfg.ChunkTimeout = 2 * time.Second

	ix := newTestIndexer(t, extractor, storage, cfg)
	summary, err := ix.AddChunks(context.Background(), "doc-1", makeChunks(5))
	if err != nil {
		t.Fatalf("AddChunks() error = %v", err)
	}

	if summary.Succeeded != 5 {
		t.Errorf("Succeeded = %d, want 5", summary.Succeeded)
	}
	want := []string{"chunk-0", "chunk-1", "chunk-2", "chunk-3", "chunk-4"}
	extractor.mu.Lock()
	defer extractor.mu.Unlock()
	if len(extractor.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", extractor.calls, want)
	}
	for i := range want {
		if extractor.calls[i] != want[i] {
			t.Errorf("sequential order broken: calls[%d] = %q, want %q", i, extractor.calls[i], want[i])
		}
	}
}

func TestCancellationStopsNewChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	extractor := newFakeExtractor()
	extractor.hook = func(chunk common.Chunk) {
		if chunk.ID == "chunk-0" {
			cancel()
		}
	}
	storage := newFakeStorage()

	cfg := config.Default()
	cfg.ChunkTimeout = 100 * time.Millisecond

	ix := newTestIndexer(t, extractor, storage, cfg)
	summary, err := ix.AddChunks(ctx, "doc-1", makeChunks(4))
	if err != nil {
		t.Fatalf("AddChunks() error = %v", err)
	}

	cancelled := 0
	for _, f := range summary.Failed {
		if f.Kind == FailureCancelled {
			cancelled++
		}
	}
	// chunk-0 cancels mid-flight; every later chunk must be refused outright.
	if cancelled < 3 {
		t.Errorf("cancelled failures = %d, want at least 3 (chunks after the cancel)", cancelled)
	}
	if summary.Succeeded+len(summary.Failed) != 4 {
		t.Errorf("summary does not account for all chunks: %+v", summary)
	}
}

func TestCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	extractor := newFakeExtractor()
	storage := newFakeStorage()

	cfg := parallelConfig()
	cfg.ChunkTimeout = 100 * time.Millisecond

	ix := newTestIndexer(t, extractor, storage, cfg)
	summary, err := ix.AddChunks(ctx, "doc-1", makeChunks(6))
	if err != nil {
		t.Fatalf("AddChunks() error = %v", err)
	}

	if summary.Succeeded != 0 {
		t.Errorf("Succeeded = %d, want 0", summary.Succeeded)
	}
	if len(summary.Failed) != 6 {
		t.Fatalf("Failed = %d, want 6", len(summary.Failed))
	}
	for _, f := range summary.Failed {
		if f.Kind != FailureCancelled {
			t.Errorf("failure kind = %q, want cancelled", f.Kind)
		}
	}
}

func TestStorageFailureClassified(t *testing.T) {
	extractor := newFakeExtractor()
	storage := newFakeStorage()
	storage.failAdd["chunk-2"] = &store.StorageError{Op: "relationship insert", Err: errors.New("connection reset")}

	ix := newTestIndexer(t, extractor, storage, parallelConfig())
	summary, err := ix.AddChunks(context.Background(), "doc-1", makeChunks(4))
	if err != nil {
		t.Fatalf("AddChunks() error = %v", err)
	}

	if summary.Succeeded != 3 {
		t.Errorf("Succeeded = %d, want 3", summary.Succeeded)
	}
	if len(summary.Failed) != 1 {
		t.Fatalf("Failed = %v, want one failure", summary.Failed)
	}
	if summary.Failed[0].Kind != FailureStorage {
		t.Errorf("failure kind = %q, want storage_error", summary.Failed[0].Kind)
	}
}

func TestSummaryCountsLLMCalls(t *testing.T) {
	extractor := newFakeExtractor()
	storage := newFakeStorage()

	ix := newTestIndexer(t, extractor, storage, parallelConfig())
	summary, err := ix.AddChunks(context.Background(), "doc-1", makeChunks(8))
	if err != nil {
		t.Fatalf("AddChunks() error = %v", err)
	}

	if summary.LLMCalls != 8 {
		t.Errorf("LLMCalls = %d, want 8 (one per chunk)", summary.LLMCalls)
	}
}

func TestEmptyBatch(t *testing.T) {
	ix := newTestIndexer(t, newFakeExtractor(), newFakeStorage(), parallelConfig())
	summary, err := ix.AddChunks(context.Background(), "doc-1", nil)
	if err != nil {
		t.Fatalf("AddChunks() error = %v", err)
	}
	if summary.Succeeded != 0 || len(summary.Failed) != 0 {
		t.Errorf("empty batch summary = %+v, want zeroes", summary)
	}
}
