package services

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// noopTx satisfies pgx.Tx for tests that exercise service logic against
// in-memory mocks instead of a database.
type noopTx struct {
	committed  *bool
	rolledBack *bool
}

func (t noopTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t noopTx) Commit(ctx context.Context) error {
	if t.committed != nil {
		*t.committed = true
	}
	return nil
}
func (t noopTx) Rollback(ctx context.Context) error {
	if t.rolledBack != nil {
		*t.rolledBack = true
	}
	return nil
}
func (noopTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (noopTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (noopTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (noopTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (noopTx) Conn() *pgx.Conn                                               { return nil }

// mockDB hands out noopTx values and counts how many commits happened.
type mockDB struct {
	begun   int
	commits int
}

func (m *mockDB) Begin(ctx context.Context) (pgx.Tx, error) {
	m.begun++
	committed := false
	tx := noopTx{committed: &committed}
	return &countingTx{noopTx: tx, db: m, committed: &committed}, nil
}

type countingTx struct {
	noopTx
	db        *mockDB
	committed *bool
}

func (t *countingTx) Commit(ctx context.Context) error {
	if !*t.committed {
		*t.committed = true
		t.db.commits++
	}
	return nil
}
