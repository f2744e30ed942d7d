package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

const defaultChunkTable = "menu_chunks"

// ChunkStore writes chunk rows into Postgres. Storing a job's chunks
// replaces any rows from an earlier attempt.
type ChunkStore struct {
	db    DB
	table string
}

// NewChunkStore constructs a store over db.
func NewChunkStore(db DB, table string) (*ChunkStore, error) {
	if db == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table, defaultChunkTable)
	if err != nil {
		return nil, err
	}
	return &ChunkStore{db: db, table: name}, nil
}

// StoreChunks inserts chunks for jobID in one transaction.
func (s *ChunkStore) StoreChunks(ctx context.Context, jobID string, chunks []crawler.ChunkRecord) (err error) {
	if jobID == "" {
		return errors.New("job id is required")
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin chunk tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if _, err = tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE job_id = $1`, s.table), jobID); err != nil {
		return fmt.Errorf("delete previous chunks: %w", err)
	}
	insert := fmt.Sprintf(`INSERT INTO %s (job_id, chunk_index, text, hash, created_at) VALUES ($1,$2,$3,$4,$5)`, s.table)
	for _, c := range chunks {
		if _, err = tx.Exec(ctx, insert, jobID, c.Index, c.Text, c.Hash, c.CreatedAt); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}
	return nil
}
