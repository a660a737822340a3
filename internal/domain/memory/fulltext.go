package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
)

// chunkWords and chunkOverlap approximate a "~400 token / ~80 token
// overlap" window over markdown content using whitespace-split words as a
// token proxy — close enough for BM25 ranking purposes and avoids pulling
// in a tokenizer dependency the rest of the stack doesn't otherwise need.
const (
	chunkWords   = 400
	chunkOverlap = 80
)

// Chunk is one indexed slice of a written document.
type Chunk struct {
	Path        string
	ChunkIndex  int
	Content     string
	ContentHash string
}

// SearchResult is one BM25 hit.
type SearchResult struct {
	Path       string
	ChunkIndex int
	Content    string
	Score      float64
}

type chunkDoc struct {
	Path        string `json:"path"`
	ChunkIndex  int    `json:"chunk_index"`
	Content     string `json:"content"`
	ContentHash string `json:"content_hash"`
}

// Store is the BM25 full-text memory store, the primary retrieval path;
// a VectorStore/EmbeddingProvider pair can be
// layered on top as an optional dense-retrieval overlay behind a feature
// flag (DenseRetrieval), since most deployments never set up embeddings.
type Store struct {
	index    bleve.Index
	dense    VectorStore
	embedder EmbeddingProvider
	denseOn  bool
}

// NewStore opens (or creates) a bleve index at indexPath. dense/embedder
// may be nil; denseOn is ignored when either is nil.
func NewStore(indexPath string, dense VectorStore, embedder EmbeddingProvider, denseOn bool) (*Store, error) {
	idx, err := bleve.Open(indexPath)
	if err != nil {
		mapping := bleve.NewIndexMapping()
		idx, err = bleve.New(indexPath, mapping)
		if err != nil {
			return nil, fmt.Errorf("opening bleve index at %s: %w", indexPath, err)
		}
	}
	return &Store{
		index:    idx,
		dense:    dense,
		embedder: embedder,
		denseOn:  denseOn && dense != nil && embedder != nil,
	}, nil
}

// Write chunks content and indexes each chunk. The document id embeds the
// content hash, so re-writing identical content at the same path/index is
// a no-op write (bleve upserts by id) and writing different content gets
// a fresh id rather than silently overwriting a shrunk chunk set.
func (s *Store) Write(ctx context.Context, path, content string) error {
	chunks := chunkMarkdown(content)
	batch := s.index.NewBatch()
	for i, c := range chunks {
		hash := contentHashHex(c)
		id := fmt.Sprintf("%s#%d#%s", path, i, hash[:12])
		doc := chunkDoc{Path: path, ChunkIndex: i, Content: c, ContentHash: hash}
		if err := batch.Index(id, doc); err != nil {
			return fmt.Errorf("batching chunk %d of %s: %w", i, path, err)
		}
	}
	if err := s.index.Batch(batch); err != nil {
		return fmt.Errorf("indexing %s: %w", path, err)
	}

	if s.denseOn {
		for i, c := range chunks {
			embedding, err := s.embedder.Embed(ctx, c)
			if err != nil {
				return fmt.Errorf("embedding chunk %d of %s: %w", i, path, err)
			}
			entry := &MemoryEntry{
				ID:        fmt.Sprintf("%s#%d", path, i),
				Content:   c,
				Embedding: embedding,
			}
			if err := s.dense.Insert(ctx, entry); err != nil {
				return fmt.Errorf("dense-indexing chunk %d of %s: %w", i, path, err)
			}
		}
	}
	return nil
}

// Search runs a BM25 match query and returns hits best-first (bleve
// already ranks its Hits slice by descending score, i.e. ascending rank).
func (s *Store) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"path", "chunk_index", "content"}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	results := make([]SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		path, _ := hit.Fields["path"].(string)
		content, _ := hit.Fields["content"].(string)
		chunkIdx := 0
		if v, ok := hit.Fields["chunk_index"].(float64); ok {
			chunkIdx = int(v)
		}
		results = append(results, SearchResult{
			Path:       path,
			ChunkIndex: chunkIdx,
			Content:    content,
			Score:      hit.Score,
		})
	}
	return results, nil
}

// List returns the distinct paths that have been written, in no
// particular order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	q := bleve.NewMatchAllQuery()
	req := bleve.NewSearchRequestOptions(q, 10000, 0, false)
	req.Fields = []string{"path"}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve list: %w", err)
	}

	seen := make(map[string]bool)
	var paths []string
	for _, hit := range res.Hits {
		path, _ := hit.Fields["path"].(string)
		if path != "" && !seen[path] {
			seen[path] = true
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// Close releases the underlying index handle.
func (s *Store) Close() error {
	return s.index.Close()
}

func chunkMarkdown(content string) []string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil
	}
	step := chunkWords - chunkOverlap
	if step <= 0 {
		step = chunkWords
	}
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + chunkWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

func contentHashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
