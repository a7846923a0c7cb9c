package index

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/graphmill/graphmill/pkg/common"
	"github.com/graphmill/graphmill/pkg/config"
	"github.com/graphmill/graphmill/pkg/extract"
	"github.com/graphmill/graphmill/pkg/logger"
	"github.com/graphmill/graphmill/pkg/store"

	"golang.org/x/sync/errgroup"
)

const progressInterval = 10

// Extractor turns one chunk into an extraction. *extract.Extractor is the
// production implementation; tests substitute fakes.
type Extractor interface {
	Extract(ctx context.Context, chunk common.Chunk) (*common.Extraction, error)
}

// FailureKind classifies why a chunk failed. One chunk's failure never
// affects its siblings.
type FailureKind string

const (
	FailureExtraction FailureKind = "extraction_error"
	FailureTimeout    FailureKind = "timeout"
	FailureCancelled  FailureKind = "cancelled"
	FailureStorage    FailureKind = "storage_error"
)

// Failure records one failed chunk in the summary.
type Failure struct {
	ChunkID string      `json:"chunk_id"`
	Kind    FailureKind `json:"kind"`
	Error   string      `json:"error"`
}

// Summary is the result of processing a batch of chunks.
type Summary struct {
	Succeeded int       `json:"succeeded"`
	Skipped   int       `json:"skipped"`
	Failed    []Failure `json:"failed"`
	LLMCalls  int       `json:"llm_calls"`

	// LowConfidenceDropped counts relationship candidates silently dropped
	// below the confidence floor across all chunks.
	LowConfidenceDropped int `json:"low_confidence_dropped"`
}

// Indexer drives chunk batches through extraction and storage, fanning out
// over a bounded worker pool when parallel processing is enabled.
//
// An Indexer should be created using NewIndexer.
type Indexer struct {
	extractor Extractor
	storage   store.GraphStorage
	cfg       config.Config
	chunker   *TokenChunker
}

// NewIndexerParams defines the dependencies for creating an Indexer.
type NewIndexerParams struct {
	Extractor Extractor
	Storage   store.GraphStorage
	Config    config.Config

	// Chunker is used by AddText only. Nil falls back to the default
	// token chunker.
	Chunker *TokenChunker
}

// NewIndexer creates an Indexer from the given dependencies.
func NewIndexer(params NewIndexerParams) (*Indexer, error) {
	if params.Extractor == nil {
		return nil, errors.New("extractor is nil")
	}
	if params.Storage == nil {
		return nil, errors.New("storage is nil")
	}
	chunker := params.Chunker
	if chunker == nil {
		chunker = NewTokenChunker(TokenChunkerParams{})
	}
	return &Indexer{
		extractor: params.Extractor,
		storage:   params.Storage,
		cfg:       params.Config,
		chunker:   chunker,
	}, nil
}

// AddText chunks a document with the configured chunker and indexes the
// resulting chunks.
func (ix *Indexer) AddText(ctx context.Context, documentID, text string) (*Summary, error) {
	chunks, err := ix.chunker.Chunk(documentID, text)
	if err != nil {
		return nil, err
	}
	return ix.AddChunks(ctx, documentID, chunks)
}

// AddChunks processes all chunks of a document and returns a summary. With
// parallel processing enabled the chunks fan out over MaxWorkers workers
// behind a submission queue of twice that size; otherwise they run
// sequentially. Chunks not yet started when ctx is cancelled are reported as
// cancelled; in-flight chunks get a grace period of one chunk timeout to
// finish.
func (ix *Indexer) AddChunks(ctx context.Context, documentID string, chunks []common.Chunk) (*Summary, error) {
	if len(chunks) == 0 {
		return &Summary{}, nil
	}

	if ix.cfg.Parallel() && len(chunks) > 1 {
		logger.Info("[Index] Processing chunks in parallel",
			"document_id", documentID, "chunks", len(chunks), "workers", ix.cfg.MaxWorkers)
		return ix.addChunksParallel(ctx, documentID, chunks), nil
	}

	logger.Info("[Index] Processing chunks sequentially",
		"document_id", documentID, "chunks", len(chunks))
	return ix.addChunksSequential(ctx, documentID, chunks), nil
}

func (ix *Indexer) addChunksSequential(ctx context.Context, documentID string, chunks []common.Chunk) *Summary {
	// The in-flight chunk is detached from the caller's cancellation; its own
	// chunk deadline bounds the grace period. New chunks stop immediately.
	workCtx := context.WithoutCancel(ctx)

	summary := &Summary{}
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			summary.Failed = append(summary.Failed, Failure{
				ChunkID: chunk.ID,
				Kind:    FailureCancelled,
				Error:   ctx.Err().Error(),
			})
			continue
		}

		ix.recordResult(summary, ix.processChunk(workCtx, documentID, chunk))

		if (i+1)%progressInterval == 0 {
			logger.Info("[Index] Progress", "document_id", documentID, "done", i+1, "total", len(chunks))
		}
	}
	return summary
}

func (ix *Indexer) addChunksParallel(ctx context.Context, documentID string, chunks []common.Chunk) *Summary {
	workers := ix.cfg.MaxWorkers
	if workers > len(chunks) {
		workers = len(chunks)
	}

	// In-flight work is detached from the caller's cancellation and given a
	// grace period of one chunk timeout to finish; new chunks stop being
	// accepted immediately.
	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()
	go func() {
		select {
		case <-ctx.Done():
			grace := time.NewTimer(ix.cfg.ChunkTimeout)
			defer grace.Stop()
			select {
			case <-grace.C:
				stopWork()
			case <-workCtx.Done():
			}
		case <-workCtx.Done():
		}
	}()

	jobs := make(chan common.Chunk, 2*workers)
	summary := &Summary{}
	var mu sync.Mutex
	done := 0

	eg := errgroup.Group{}
	for w := 0; w < workers; w++ {
		eg.Go(func() error {
			for chunk := range jobs {
				var res chunkResult
				if ctx.Err() != nil {
					res = chunkResult{failure: &Failure{
						ChunkID: chunk.ID,
						Kind:    FailureCancelled,
						Error:   ctx.Err().Error(),
					}}
				} else {
					res = ix.processChunk(workCtx, documentID, chunk)
				}

				mu.Lock()
				ix.recordResult(summary, res)
				done++
				if done%progressInterval == 0 {
					logger.Info("[Index] Progress", "document_id", documentID, "done", done, "total", len(chunks))
				}
				mu.Unlock()
			}
			return nil
		})
	}

	for _, chunk := range chunks {
		jobs <- chunk
	}
	close(jobs)

	_ = eg.Wait()
	stopWork()

	logger.Info("[Index] Batch complete",
		"document_id", documentID,
		"succeeded", summary.Succeeded,
		"skipped", summary.Skipped,
		"failed", len(summary.Failed))
	return summary
}

type chunkResult struct {
	skipped       bool
	llmCalls      int
	lowConfidence int
	failure       *Failure
}

func (ix *Indexer) recordResult(summary *Summary, res chunkResult) {
	summary.LLMCalls += res.llmCalls
	summary.LowConfidenceDropped += res.lowConfidence
	switch {
	case res.failure != nil:
		summary.Failed = append(summary.Failed, *res.failure)
	case res.skipped:
		summary.Skipped++
		summary.Succeeded++
	default:
		summary.Succeeded++
	}
}

// processChunk runs one chunk through extract and store under its own
// deadline. Entity creations happen inside the store's Add before any of the
// chunk's relationships; errors are converted to failure records here and
// never propagate past the chunk boundary.
func (ix *Indexer) processChunk(ctx context.Context, documentID string, chunk common.Chunk) chunkResult {
	cctx, cancel := context.WithTimeout(ctx, ix.cfg.ChunkTimeout)
	defer cancel()

	indexed, err := ix.storage.HasChunk(cctx, chunk.ID)
	if err != nil {
		return chunkResult{failure: ix.classifyFailure(ctx, chunk, err)}
	}
	if indexed {
		logger.Debug("[Index] Chunk already indexed, skipping", "chunk_id", chunk.ID)
		return chunkResult{skipped: true}
	}

	extraction, err := ix.extractor.Extract(cctx, chunk)
	if err != nil {
		return chunkResult{failure: ix.classifyFailure(ctx, chunk, err)}
	}

	if err := ix.storage.Add(cctx, extraction, common.Provenance{
		DocumentID: documentID,
		ChunkID:    chunk.ID,
	}); err != nil {
		return chunkResult{
			llmCalls:      extraction.LLMCalls,
			lowConfidence: extraction.LowConfidenceDropped,
			failure:       ix.classifyFailure(ctx, chunk, err),
		}
	}

	return chunkResult{
		llmCalls:      extraction.LLMCalls,
		lowConfidence: extraction.LowConfidenceDropped,
	}
}

func (ix *Indexer) classifyFailure(ctx context.Context, chunk common.Chunk, err error) *Failure {
	kind := FailureStorage
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = FailureTimeout
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		kind = FailureCancelled
	default:
		var exErr *extract.ExtractionError
		if errors.As(err, &exErr) {
			kind = FailureExtraction
		}
	}

	logger.Warn("[Index] Chunk failed", "chunk_id", chunk.ID, "kind", kind, "error", err)
	return &Failure{
		ChunkID: chunk.ID,
		Kind:    kind,
		Error:   err.Error(),
	}
}
