// Package knowledge loads the wine knowledge base from the data directory,
// stores it as overlapping chunks and retrieves passages by keyword overlap.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"

	"vinochat/internal/logger"
	"vinochat/internal/models"
	"vinochat/internal/storage"
)

const DefaultTopK = 3

// supported are the plain-text formats the loader reads.
var supported = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".json":     true,
}

type Service struct {
	db        *storage.DB
	dataDir   string
	loader   document.Loader
	splitter document.Transformer

	// reloads are serialized; retrieval runs concurrently with them
	reloadMu sync.Mutex
}

func New(ctx context.Context, db *storage.DB, dataDir string) (*Service, error) {
	if db == nil {
		return nil, errors.New("knowledge: database required")
	}
	p, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("create parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      p,
	})
	if err != nil {
		return nil, fmt.Errorf("create file loader: %w", err)
	}
	splitter, err := NewSplitter(ctx, DefaultChunkSize, DefaultChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("create splitter: %w", err)
	}
	return &Service{
		db:       db,
		dataDir:  dataDir,
		loader:   loader,
		splitter: splitter,
	}, nil
}

type loadedDoc struct {
	source string
	title  string
	chunks []string
}

// Reload replaces the stored knowledge base with the current contents of
// the data directory and returns the number of documents loaded.
func (s *Service) Reload(ctx context.Context) (int, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return 0, fmt.Errorf("create data dir: %w", err)
	}

	var docs []loadedDoc
	err := filepath.WalkDir(s.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !supported[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		doc, err := s.loadFile(ctx, path)
		if err != nil {
			logger.Warn("knowledge", "skip unreadable document", logger.Fields{"path": path, "error": err.Error()})
			return nil
		}
		if len(doc.chunks) > 0 {
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan data dir: %w", err)
	}

	if err := s.store(ctx, docs); err != nil {
		return 0, err
	}
	chunks := 0
	for _, d := range docs {
		chunks += len(d.chunks)
	}
	logger.Info("knowledge", "knowledge base reloaded", logger.Fields{"documents": len(docs), "chunks": chunks})
	return len(docs), nil
}

func (s *Service) loadFile(ctx context.Context, path string) (loadedDoc, error) {
	parts, err := s.loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		return loadedDoc{}, fmt.Errorf("load file: %w", err)
	}
	var b strings.Builder
	for _, p := range parts {
		content := strings.TrimSpace(p.Content)
		if content == "" {
			continue
		}
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	text := strings.TrimSpace(b.String())

	rel, err := filepath.Rel(s.dataDir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	source := filepath.ToSlash(rel)
	chunks, err := s.chunk(ctx, source, text)
	if err != nil {
		return loadedDoc{}, err
	}
	return loadedDoc{
		source: source,
		title:  titleOf(text, path),
		chunks: chunks,
	}, nil
}

func titleOf(text, path string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
		if line != "" {
			break
		}
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (s *Service) store(ctx context.Context, docs []loadedDoc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reload: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}

	now := time.Now().UTC()
	chunkStmt := s.db.Rebind(`INSERT INTO chunks (document_id, chunk_index, content) VALUES (?, ?, ?)`)
	for _, d := range docs {
		id, err := s.db.InsertID(ctx, tx,
			`INSERT INTO documents (source, title, created_at) VALUES (?, ?, ?)`,
			d.source, d.title, now)
		if err != nil {
			return fmt.Errorf("insert document %s: %w", d.source, err)
		}
		for i, chunk := range d.chunks {
			if _, err := tx.ExecContext(ctx, chunkStmt, id, i, chunk); err != nil {
				return fmt.Errorf("insert chunk %s#%d: %w", d.source, i, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reload: %w", err)
	}
	return nil
}

// Count returns the number of stored documents.
func (s *Service) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// Documents lists stored documents ordered by source.
func (s *Service) Documents(ctx context.Context) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, source, title, created_at FROM documents ORDER BY source")
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	var docs []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.Source, &d.Title, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Retrieve returns up to k passages ranked by how many query terms they
// contain. Passages sharing no term with the query are not returned.
func (s *Service) Retrieve(ctx context.Context, query string, k int) ([]models.Passage, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	terms := Terms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT c.document_id, d.source, c.chunk_index, c.content
		FROM chunks c JOIN documents d ON d.id = c.document_id`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var ranked []models.Passage
	for rows.Next() {
		var p models.Passage
		if err := rows.Scan(&p.DocumentID, &p.Source, &p.Index, &p.Content); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if p.Score = score(terms, p.Content); p.Score > 0 {
			ranked = append(ranked, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].Source != ranked[j].Source {
			return ranked[i].Source < ranked[j].Source
		}
		return ranked[i].Index < ranked[j].Index
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked, nil
}
