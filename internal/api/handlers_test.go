package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pahproject/catalogdb/internal/histogram"
	"github.com/pahproject/catalogdb/internal/storage"
	"github.com/pahproject/catalogdb/pkg/types"
)

// MockCatalog for testing
type MockCatalog struct {
	rows      map[string]int64
	columns   map[string][]types.ColumnInfo
	values    []float64
	files     []types.FileRecord
	overlaps  []types.OverlapRecord
	pingErr   error
	lastTable string
	lastCol   string
	lastPage  [2]int
}

func newMockCatalog() *MockCatalog {
	return &MockCatalog{
		rows: map[string]int64{"files": 3, "overlaps": 5},
		columns: map[string][]types.ColumnInfo{
			"files": {
				{Name: "id", Type: "INTEGER", PrimaryKey: 1},
				{Name: "prefix", Type: "TEXT", NotNull: true},
				{Name: "band", Type: "INTEGER", NotNull: true},
			},
		},
	}
}

func (m *MockCatalog) Path() string { return "data/sqlite_dbs/wise.db" }

func (m *MockCatalog) Ping(context.Context) error { return m.pingErr }

func (m *MockCatalog) Tables(context.Context) ([]string, error) {
	return []string{"files", "overlaps"}, nil
}

func (m *MockCatalog) Columns(_ context.Context, table string) ([]types.ColumnInfo, error) {
	cols, ok := m.columns[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrTableNotFound, table)
	}
	return cols, nil
}

func (m *MockCatalog) CountRows(_ context.Context, table string) (int64, error) {
	n, ok := m.rows[table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", storage.ErrTableNotFound, table)
	}
	return n, nil
}

func (m *MockCatalog) ListFiles(_ context.Context, limit, offset int) ([]types.FileRecord, error) {
	m.lastPage = [2]int{limit, offset}
	return m.files, nil
}

func (m *MockCatalog) ListOverlaps(_ context.Context, table string) ([]types.OverlapRecord, error) {
	m.lastTable = table
	if table != "overlaps" {
		return nil, fmt.Errorf("%w: %s", storage.ErrTableNotFound, table)
	}
	return m.overlaps, nil
}

func (m *MockCatalog) ColumnValues(_ context.Context, table, column string) ([]float64, error) {
	m.lastTable, m.lastCol = table, column
	if column == "bogus" {
		return nil, fmt.Errorf("%w: %s.%s", storage.ErrColumnNotFound, table, column)
	}
	if column == "bad name" {
		return nil, fmt.Errorf("%w: %q", storage.ErrInvalidIdentifier, column)
	}
	return m.values, nil
}

func setupRouter(catalog Catalog) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	SetupRoutes(router, NewHandler(catalog, "test", histogram.Options{Threshold: 100000, Bins: 1400}))
	return router
}

func get(t *testing.T, router *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	router.ServeHTTP(w, req)
	return w
}

func TestSetupRoutes(t *testing.T) {
	router := setupRouter(newMockCatalog())

	routePaths := make(map[string]bool)
	for _, route := range router.Routes() {
		routePaths[route.Method+" "+route.Path] = true
	}

	assert.True(t, routePaths["GET /api/v1/tables"])
	assert.True(t, routePaths["GET /api/v1/tables/:table/columns"])
	assert.True(t, routePaths["GET /api/v1/tables/:table/histogram"])
	assert.True(t, routePaths["GET /api/v1/tables/:table/overlaps"])
	assert.True(t, routePaths["GET /api/v1/files"])
	assert.True(t, routePaths["GET /api/v1/files/count"])
	assert.True(t, routePaths["GET /health"])
	assert.True(t, routePaths["GET /metrics"])
}

func TestHealthCheck(t *testing.T) {
	w := get(t, setupRouter(newMockCatalog()), "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp types.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, "data/sqlite_dbs/wise.db", resp.Database)
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	catalog := newMockCatalog()
	catalog.pingErr = errors.New("database is closed")

	w := get(t, setupRouter(catalog), "/health")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy")
}

func TestListTables(t *testing.T) {
	w := get(t, setupRouter(newMockCatalog()), "/api/v1/tables")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Tables []types.TableSummary `json:"tables"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []types.TableSummary{{Name: "files", Rows: 3}, {Name: "overlaps", Rows: 5}}, resp.Tables)
}

func TestListColumns(t *testing.T) {
	router := setupRouter(newMockCatalog())

	w := get(t, router, "/api/v1/tables/files/columns")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"prefix"`)

	w = get(t, router, "/api/v1/tables/missing/columns")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not found")
}

func TestCountFiles(t *testing.T) {
	w := get(t, setupRouter(newMockCatalog()), "/api/v1/files/count")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"table":"files","count":3}`, w.Body.String())
}

func TestListFiles(t *testing.T) {
	catalog := newMockCatalog()
	catalog.files = []types.FileRecord{{ID: 11, Prefix: "01234a123", Band: "1"}}
	router := setupRouter(catalog)

	w := get(t, router, "/api/v1/files?limit=1&offset=10")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, [2]int{1, 10}, catalog.lastPage)

	var resp struct {
		Files  []types.FileRecord `json:"files"`
		Limit  int                `json:"limit"`
		Offset int                `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, catalog.files, resp.Files)
	assert.Equal(t, 1, resp.Limit)
	assert.Equal(t, 10, resp.Offset)

	w = get(t, router, "/api/v1/files")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, [2]int{100, 0}, catalog.lastPage)

	for _, path := range []string{"/api/v1/files?limit=0", "/api/v1/files?limit=x", "/api/v1/files?offset=-1"} {
		w = get(t, router, path)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestListOverlaps(t *testing.T) {
	catalog := newMockCatalog()
	router := setupRouter(catalog)

	w := get(t, router, "/api/v1/tables/overlaps/overlaps")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"table":"overlaps","overlaps":[]}`, w.Body.String())

	bg := 0.5
	catalog.overlaps = []types.OverlapRecord{{OverlapID: 1, File1ID: 2, File2ID: 3, Background1: &bg}}
	w = get(t, router, "/api/v1/tables/overlaps/overlaps")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"background1":0.5`)

	w = get(t, router, "/api/v1/tables/missing/overlaps")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetHistogram(t *testing.T) {
	catalog := newMockCatalog()
	catalog.values = []float64{1, 2, 3, 4, 200000}

	w := get(t, setupRouter(catalog), "/api/v1/tables/overlaps/histogram?bins=3")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "overlaps", catalog.lastTable)
	assert.Equal(t, histogram.DefaultColumn, catalog.lastCol)

	var h types.Histogram
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.Equal(t, int64(100000), h.Threshold)
	assert.Equal(t, 5, h.Total)
	assert.Equal(t, 4, h.Kept)
	assert.Len(t, h.Bins, 3)
}

func TestGetHistogram_Errors(t *testing.T) {
	router := setupRouter(newMockCatalog())

	tests := []struct {
		name string
		path string
		code int
	}{
		{name: "bad threshold", path: "/api/v1/tables/overlaps/histogram?threshold=abc", code: http.StatusBadRequest},
		{name: "negative threshold", path: "/api/v1/tables/overlaps/histogram?threshold=-1", code: http.StatusBadRequest},
		{name: "zero bins", path: "/api/v1/tables/overlaps/histogram?bins=0", code: http.StatusBadRequest},
		{name: "missing column", path: "/api/v1/tables/overlaps/histogram?column=bogus", code: http.StatusNotFound},
		{name: "invalid column", path: "/api/v1/tables/overlaps/histogram?column=bad+name", code: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, router, tt.path)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestHandlers_SQLiteCatalog(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer func() {
		_ = store.Close() // Ignore error in test
	}()

	require.NoError(t, store.CreateFilesTable(ctx))
	require.NoError(t, store.InsertFiles(ctx, []types.FileRecord{
		{Prefix: "01234a123", Band: "1"},
		{Prefix: "01234a124", Band: "2"},
	}, nil))

	router := setupRouter(store)

	w := get(t, router, "/api/v1/files/count")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"table":"files","count":2}`, w.Body.String())

	w = get(t, router, "/api/v1/tables/overlaps/columns")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get(t, router, "/api/v1/files?limit=1&offset=1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"prefix":"01234a124"`)
	assert.NotContains(t, w.Body.String(), "01234a123")

	require.NoError(t, store.CreateOverlapsTable(ctx))
	bg := 2.25
	_, err = store.InsertOverlap(ctx, types.OverlapRecord{File1ID: 1, File2ID: 2, Background2: &bg})
	require.NoError(t, err)

	w = get(t, router, "/api/v1/tables/overlaps/overlaps")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"background2":2.25`)

	w = get(t, router, "/api/v1/tables/overlaps/histogram?column=background2&bins=1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"kept":1`)

	w = get(t, router, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "catalogdb_ingested_rows_total")
}
