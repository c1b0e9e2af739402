package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"

	"github.com/hamedsk/corpusqa/models"
)

var errCommitRefused = errors.New("connection reset during commit")

// commitRefusedDriver accepts every statement and fails the transaction at
// commit time, standing in for a connection lost between write and commit.
type commitRefusedDriver struct{}

func (commitRefusedDriver) Open(string) (driver.Conn, error) { return &commitRefusedConn{}, nil }

type commitRefusedConn struct{}

func (*commitRefusedConn) Prepare(string) (driver.Stmt, error) { return acceptStmt{}, nil }
func (*commitRefusedConn) Close() error                        { return nil }
func (*commitRefusedConn) Begin() (driver.Tx, error)           { return commitRefusedTx{}, nil }

type acceptStmt struct{}

func (acceptStmt) Close() error  { return nil }
func (acceptStmt) NumInput() int { return -1 }
func (acceptStmt) Exec([]driver.Value) (driver.Result, error) {
	return driver.RowsAffected(1), nil
}
func (acceptStmt) Query([]driver.Value) (driver.Rows, error) {
	return nil, errors.New("queries not supported")
}

type commitRefusedTx struct{}

func (commitRefusedTx) Commit() error   { return errCommitRefused }
func (commitRefusedTx) Rollback() error { return nil }

func init() { sql.Register("commitrefused", commitRefusedDriver{}) }

func TestUpsertSurfacesCommitFailure(t *testing.T) {
	t.Parallel()
	db, err := sql.Open("commitrefused", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	idx := &Index{DB: db}
	passages := []models.Passage{{
		ID:        models.PassageID(7, 0),
		SourceID:  7,
		Title:     "Goroutines",
		Text:      "Goroutines are cheap.",
		Embedding: []float32{0.1, 0.2},
	}}
	err = idx.Upsert(context.Background(), passages)
	if !errors.Is(err, errCommitRefused) {
		t.Fatalf("Upsert = %v, want commit failure", err)
	}
	if !strings.Contains(err.Error(), "commit") {
		t.Errorf("error %q does not mention the commit", err)
	}
}

func TestUpsertRejectsInvalidPassages(t *testing.T) {
	t.Parallel()
	db, err := sql.Open("commitrefused", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	idx := &Index{DB: db}
	if err := idx.Upsert(context.Background(), []models.Passage{{SourceID: 7, Text: "no id"}}); err == nil {
		t.Error("expected error for missing passage id")
	}
	if err := idx.Upsert(context.Background(), []models.Passage{{ID: "7_0", SourceID: 7, Text: "   "}}); err == nil {
		t.Error("expected error for blank text")
	}
	if err := idx.Upsert(context.Background(), nil); err != nil {
		t.Errorf("empty batch should be a no-op, got %v", err)
	}
}
