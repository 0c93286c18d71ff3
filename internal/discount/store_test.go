package discount

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// execTx answers Exec with canned command tags, one per statement.
type execTx struct {
	pgx.Tx
	tags  []string
	stmts []string
}

func (t *execTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	t.stmts = append(t.stmts, sql)
	tag := t.tags[0]
	t.tags = t.tags[1:]
	return pgconn.NewCommandTag(tag), nil
}

func TestRecordUsageBumpsCountOnce(t *testing.T) {
	tx := &execTx{tags: []string{"INSERT 0 1", "UPDATE 1"}}
	if err := RecordUsage(context.Background(), tx, uuid.New(), uuid.New()); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(tx.stmts) != 2 || !strings.Contains(tx.stmts[1], "used_count < usage_limit") {
		t.Fatalf("expected guarded update, got %q", tx.stmts)
	}

	replay := &execTx{tags: []string{"INSERT 0 0"}}
	if err := RecordUsage(context.Background(), replay, uuid.New(), uuid.New()); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(replay.stmts) != 1 {
		t.Fatalf("replayed bill must not bump used_count, got %q", replay.stmts)
	}
}

func TestRecordUsageRejectsExhaustedRule(t *testing.T) {
	tx := &execTx{tags: []string{"INSERT 0 1", "UPDATE 0"}}
	err := RecordUsage(context.Background(), tx, uuid.New(), uuid.New())
	if !errors.Is(err, ErrUsageLimitReached) {
		t.Fatalf("expected usage limit error, got %v", err)
	}
}
