package callback

import (
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ricochet.sh/internal/database"
	"ricochet.sh/internal/observability"
	"ricochet.sh/internal/store"
)

func newTestHandler(t *testing.T) (*HTTPServer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.New(database.WrapForTest(db, "sqlite"))
	logger := observability.NewLogger(observability.LogConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	return &HTTPServer{store: st, logger: logger}, mock
}

func TestExtractCorrelationID(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/a1b2c3d4e5f60718", "a1b2c3d4e5f60718"},
		{"/cb/a1b2c3d4e5f60718", "a1b2c3d4e5f60718"},
		{"/cb/a1b2c3d4e5f60718/", "a1b2c3d4e5f60718"},
		{"/not-a-correlation-id", ""},
		{"/", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractCorrelationID(tt.path), tt.path)
	}
}

func TestHandleInvariantResponse(t *testing.T) {
	h, mock := newTestHandler(t)
	mock.ExpectExec("INSERT INTO callbacks").WillReturnResult(sqlmock.NewResult(0, 0))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/unknown0000000001", nil)
	h.handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, "2", rec.Header().Get("Content-Length"))
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
}

func TestHandleRecordsKnownCallback(t *testing.T) {
	h, mock := newTestHandler(t)
	mock.ExpectExec("INSERT INTO callbacks").WillReturnResult(sqlmock.NewResult(1, 1))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/a1b2c3d4e5f60718", nil)
	h.handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHandleNoCorrelationIDSkipsStore(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/not-a-valid-id", nil)
	h.handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
