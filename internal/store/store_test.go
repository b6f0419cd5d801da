package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ricochet.sh/internal/database"
	"ricochet.sh/internal/ferrors"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(database.WrapForTest(db, "sqlite")), mock
}

func TestRecordInjection(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	ctxStr := "reflected in response"
	rec := InjectionRecord{
		ID:         "a1b2c3d4e5f60718",
		TargetURL:  "http://target.example/path?q=1",
		Parameter:  "query:q",
		Payload:    "{{CALLBACK}}",
		Context:    &ctxStr,
		InjectedAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO injections").
		WithArgs(rec.ID, rec.TargetURL, rec.Parameter, rec.Payload, rec.Context, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.RecordInjection(ctx, rec)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordInjectionDuplicate(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	rec := InjectionRecord{ID: "dupe0000000000001", TargetURL: "http://x", Parameter: "p", Payload: "x", InjectedAt: time.Now()}

	mock.ExpectExec("INSERT INTO injections").
		WillReturnError(errors.New("UNIQUE constraint failed: injections.id"))

	err := s.RecordInjection(ctx, rec)
	require.Error(t, err)
	assert.Equal(t, ferrors.CodeDuplicateID, ferrors.GetCode(err))
}

func TestGetInjectionNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM injections WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	rec, found, err := s.GetInjection(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, rec)
}

func TestRecordCallbackNoMatchingInjection(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO callbacks").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.RecordCallback(ctx, "unknown0000000001", "203.0.113.1", "/x/unknown0000000001", map[string]string{"User-Agent": "curl"}, nil)
	require.NoError(t, err)
	assert.False(t, ok, "callback for an unknown correlation id must not be inserted")
}

func TestRecordCallbackMatchingInjection(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO callbacks").
		WillReturnResult(sqlmock.NewResult(1, 1))

	ok, err := s.RecordCallback(ctx, "a1b2c3d4e5f60718", "203.0.113.1", "/x/a1b2c3d4e5f60718", map[string]string{"User-Agent": "curl"}, []byte("{}"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetFindingsFiltersBySeverity(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	cols := []string{"id", "target_url", "parameter", "payload", "context", "injected_at",
		"id", "source_ip", "request_path", "headers", "body", "received_at"}
	rows := sqlmock.NewRows(cols).
		AddRow("id1", "http://t", "p", "pay", "reflected xss in template", 1000.0, 1, "1.2.3.4", "/cb/id1", `{"User-Agent":"curl"}`, []byte(nil), 1005.0).
		AddRow("id2", "http://t", "p", "pay", nil, 1000.0, 2, "1.2.3.4", "/cb/id2", `{"User-Agent":"curl"}`, []byte(nil), 1006.0)

	mock.ExpectQuery("SELECT (.+) FROM callbacks c JOIN injections i").WillReturnRows(rows)

	findings, err := s.GetFindings(ctx, nil, SeverityMedium)
	require.NoError(t, err)
	require.Len(t, findings, 1, "the info-severity finding should be filtered out")
	assert.Equal(t, "id1", findings[0].ID)
	assert.Equal(t, SeverityMedium, findings[0].Severity())
}

func TestFindingMetadata(t *testing.T) {
	f := Finding{Body: []byte(`{"handler":"legacy"}`)}
	assert.True(t, f.HasMetadata())
	assert.Equal(t, "legacy", f.Metadata()["handler"])

	empty := Finding{}
	assert.False(t, empty.HasMetadata())
	assert.Nil(t, empty.Metadata())
}
