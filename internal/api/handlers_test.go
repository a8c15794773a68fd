package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propmarket/server/config"
	"propmarket/server/internal/database"
	"propmarket/server/internal/models"
	"propmarket/server/internal/processor"
	"propmarket/server/internal/proximity"
	"propmarket/server/internal/queue"
	"propmarket/server/internal/valuation"
)

const testAdminToken = "s3cret"

type recordingQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
	err   error
	room  int // tasks accepted before err applies
}

func (q *recordingQueue) Push(task queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil && len(q.tasks) >= q.room {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

type stubBatches struct {
	lastLimit int
	err       error
}

func (b *stubBatches) RunProximityBatch(ctx context.Context) (processor.BatchResult, error) {
	return processor.BatchResult{RunID: "run-1", Processed: 4, Errors: []string{"listing 9: disk I/O error"}}, b.err
}

func (b *stubBatches) RunIntelligenceBatch(ctx context.Context, limit int) (int, error) {
	b.lastLimit = limit
	return 3, b.err
}

func (b *stubBatches) RepairConvenienceFields(ctx context.Context) (processor.BatchResult, error) {
	return processor.BatchResult{RunID: "run-2", Processed: 4, Changed: 1}, b.err
}

type testServer struct {
	router  *gin.Engine
	store   *database.Database
	queue   *recordingQueue
	batches *stubBatches
	listing *models.Listing
}

func createTestServer(t *testing.T) *testServer {
	gin.SetMode(gin.TestMode)

	db, err := database.NewTestDB()
	require.NoError(t, err)
	require.NoError(t, database.MigrateSchema(db))
	store := database.New(db)
	t.Cleanup(func() { _ = store.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	lat, lng := 12.9266, 100.8688
	project := "Riviera"
	floor := 10
	price := 5000000.0
	listing := &models.Listing{
		Title:     "Sea view condo",
		Category:  "condo",
		City:      "Pattaya",
		Area:      "Jomtien",
		Status:    models.ListingAvailable,
		Project:   &project,
		Floor:     &floor,
		SizeSqm:   50,
		SalePrice: &price,
		Latitude:  &lat,
		Longitude: &lng,
	}
	require.NoError(t, db.Create(listing).Error)

	pois := []models.PointOfInterest{
		{Name: "Jomtien Beach", Category: models.CategoryBeach, Tier: models.TierPrimary, Latitude: 12.8886, Longitude: 100.8742, Active: true},
		{Name: "Terminal 21", Category: models.CategoryShoppingMall, Tier: models.TierPrimary, Latitude: 12.9496, Longitude: 100.8882, Active: true},
		{Name: "Bang Saray Beach", Category: models.CategoryBeach, Tier: models.TierSecondary, Latitude: 12.7700, Longitude: 100.9500, Active: true},
	}
	require.NoError(t, db.Create(&pois).Error)

	syncer := proximity.NewSynchronizer(store, logger)
	_, err = syncer.SyncListing(context.Background(), listing.ID)
	require.NoError(t, err)

	q := &recordingQueue{}
	batches := &stubBatches{}
	handler := NewHandler(Services{
		Listings:  store,
		Nearby:    store,
		Syncer:    syncer,
		Batches:   batches,
		Valuation: valuation.NewService(store, logger),
		Queue:     q,
	}, logger)

	router := NewRouter(config.ServerConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		AdminToken:     testAdminToken,
	}, handler, logger)

	return &testServer{router: router, store: store, queue: q, batches: batches, listing: listing}
}

func (s *testServer) do(method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestGetNearby(t *testing.T) {
	server := createTestServer(t)

	tests := []struct {
		name          string
		query         string
		expectedCode  int
		expectedNames []string
	}{
		{
			name:          "All POIs sorted by distance",
			query:         "",
			expectedCode:  http.StatusOK,
			expectedNames: []string{"Terminal 21", "Jomtien Beach", "Bang Saray Beach"},
		},
		{
			name:          "Category filter",
			query:         "?category=beach",
			expectedCode:  http.StatusOK,
			expectedNames: []string{"Jomtien Beach", "Bang Saray Beach"},
		},
		{
			name:          "Max distance",
			query:         "?max_km=5",
			expectedCode:  http.StatusOK,
			expectedNames: []string{"Terminal 21", "Jomtien Beach"},
		},
		{
			name:          "Tier filter",
			query:         "?tier=secondary",
			expectedCode:  http.StatusOK,
			expectedNames: []string{"Bang Saray Beach"},
		},
		{
			name:          "Limit",
			query:         "?limit=1",
			expectedCode:  http.StatusOK,
			expectedNames: []string{"Terminal 21"},
		},
		{
			name:         "Unknown category",
			query:        "?category=beach,casino",
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "Unknown tier",
			query:        "?tier=gold",
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "Negative distance",
			query:        "?max_km=-1",
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "Non-numeric limit",
			query:        "?limit=ten",
			expectedCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := server.do(http.MethodGet, "/api/listings/1/nearby"+tt.query, nil)
			require.Equal(t, tt.expectedCode, w.Code, w.Body.String())
			if tt.expectedCode != http.StatusOK {
				return
			}

			var body struct {
				Nearest models.NearestFields `json:"nearest"`
				POIs    []models.NearbyPOI   `json:"pois"`
			}
			decode(t, w, &body)
			names := make([]string, 0, len(body.POIs))
			for _, p := range body.POIs {
				names = append(names, p.Name)
			}
			assert.Equal(t, tt.expectedNames, names)
			require.NotNil(t, body.Nearest.BeachKm)
			assert.Equal(t, 4.266, *body.Nearest.BeachKm)
		})
	}
}

func TestGetNearby_GeoJSON(t *testing.T) {
	server := createTestServer(t)

	w := server.do(http.MethodGet, "/api/listings/1/nearby?format=geojson", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
		BBox     []float64         `json:"bbox"`
	}
	decode(t, w, &fc)
	assert.Equal(t, "FeatureCollection", fc.Type)
	assert.Len(t, fc.Features, 5, "listing, three POIs and the reach polygon")
	assert.Len(t, fc.BBox, 4)
}

func TestNotFoundAndInvalidIDs(t *testing.T) {
	server := createTestServer(t)
	admin := map[string]string{adminTokenHeader: testAdminToken}

	assert.Equal(t, http.StatusNotFound, server.do(http.MethodGet, "/api/listings/999/nearby", nil).Code)
	assert.Equal(t, http.StatusNotFound, server.do(http.MethodGet, "/api/listings/999/valuation", nil).Code)
	assert.Equal(t, http.StatusNotFound, server.do(http.MethodPost, "/api/admin/listings/999/sync", admin).Code)
	assert.Equal(t, http.StatusNotFound, server.do(http.MethodPost, "/api/admin/pois/999/sync", admin).Code)
	assert.Equal(t, http.StatusBadRequest, server.do(http.MethodGet, "/api/listings/abc/nearby", nil).Code)
	assert.Equal(t, http.StatusBadRequest, server.do(http.MethodPost, "/api/events/listings/0", nil).Code)
}

func TestGetValuation(t *testing.T) {
	server := createTestServer(t)

	w := server.do(http.MethodGet, "/api/listings/1/valuation", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		ListingID uint                     `json:"listing_id"`
		Valuation models.ValuationSnapshot `json:"valuation"`
	}
	decode(t, w, &body)
	assert.Equal(t, uint(1), body.ListingID)
	assert.Nil(t, body.Valuation.ComputedAt, "snapshots are never computed on read")
}

func TestGetProjectOpportunities(t *testing.T) {
	server := createTestServer(t)

	w := server.do(http.MethodGet, "/api/projects/Riviera/opportunities", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var view valuation.ProjectView
	decode(t, w, &view)
	assert.Equal(t, "Riviera", view.Project)
	assert.Equal(t, 10, view.ReferenceFloor)
	require.Len(t, view.Units, 1)
	require.NotNil(t, view.Units[0].Estimate.InstantEquity)
	assert.Equal(t, 0.0, *view.Units[0].Estimate.InstantEquity)
}

func TestEvents(t *testing.T) {
	server := createTestServer(t)

	w := server.do(http.MethodPost, "/api/events/listings/1", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = server.do(http.MethodPost, "/api/events/pois/2", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, server.queue.tasks, 3)
	assert.Equal(t, queue.Task{Kind: queue.TaskSyncListing, ID: 1}, server.queue.tasks[0])
	assert.Equal(t, queue.Task{Kind: queue.TaskRecomputeValuation, ID: 1}, server.queue.tasks[1])
	assert.Equal(t, queue.Task{Kind: queue.TaskSyncPOI, ID: 2}, server.queue.tasks[2])

	server.queue.err = queue.ErrQueueFull
	server.queue.room = len(server.queue.tasks)
	w = server.do(http.MethodPost, "/api/events/listings/1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"Sync queue unavailable, retry later","queued":0,"tasks":2}`, w.Body.String())
}

func TestEvents_PartiallyQueued(t *testing.T) {
	server := createTestServer(t)
	server.queue.err = queue.ErrQueueFull
	server.queue.room = 1

	w := server.do(http.MethodPost, "/api/events/listings/1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"Sync queue unavailable, retry later","queued":1,"tasks":2}`, w.Body.String())
	require.Len(t, server.queue.tasks, 1)
	assert.Equal(t, queue.TaskSyncListing, server.queue.tasks[0].Kind)

	// Resending the event once the queue has room queues both tasks again.
	server.queue.err = nil
	w = server.do(http.MethodPost, "/api/events/listings/1", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, server.queue.tasks, 3)
}

func TestAdminAuth(t *testing.T) {
	server := createTestServer(t)

	tests := []struct {
		name         string
		headers      map[string]string
		expectedCode int
	}{
		{"Missing token", nil, http.StatusUnauthorized},
		{"Wrong token", map[string]string{adminTokenHeader: "nope"}, http.StatusUnauthorized},
		{"Valid token", map[string]string{adminTokenHeader: testAdminToken}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := server.do(http.MethodPost, "/api/admin/rebuild/proximity", tt.headers)
			assert.Equal(t, tt.expectedCode, w.Code)
		})
	}
}

func TestAdminRoutesDisabledWithoutToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	SetupRoutes(router, NewHandler(Services{}, nil), "")

	req := httptest.NewRequest(http.MethodPost, "/api/admin/rebuild/proximity", nil)
	req.Header.Set(adminTokenHeader, "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminOperations(t *testing.T) {
	server := createTestServer(t)
	admin := map[string]string{adminTokenHeader: testAdminToken}

	w := server.do(http.MethodPost, "/api/admin/listings/1/sync", admin)
	require.Equal(t, http.StatusOK, w.Code)
	var syncResult proximity.SyncResult
	decode(t, w, &syncResult)
	assert.Equal(t, 3, syncResult.RowsWritten)
	assert.False(t, syncResult.ListingChanged)

	w = server.do(http.MethodPost, "/api/admin/pois/1/sync", admin)
	require.Equal(t, http.StatusOK, w.Code)

	w = server.do(http.MethodPost, "/api/admin/listings/1/repair", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"listing_id":1,"changed":false}`, w.Body.String())

	w = server.do(http.MethodPost, "/api/admin/rebuild/proximity", admin)
	require.Equal(t, http.StatusOK, w.Code)
	var batch processor.BatchResult
	decode(t, w, &batch)
	assert.Equal(t, 4, batch.Processed)
	assert.Equal(t, []string{"listing 9: disk I/O error"}, batch.Errors)

	w = server.do(http.MethodPost, "/api/admin/rebuild/intelligence?limit=25", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":3}`, w.Body.String())
	assert.Equal(t, 25, server.batches.lastLimit)

	w = server.do(http.MethodPost, "/api/admin/rebuild/intelligence?limit=-3", admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = server.do(http.MethodPost, "/api/admin/rebuild/convenience", admin)
	require.Equal(t, http.StatusOK, w.Code)

	server.batches.err = errors.New("database is locked")
	w = server.do(http.MethodPost, "/api/admin/rebuild/proximity", admin)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCORS(t *testing.T) {
	server := createTestServer(t)

	w := server.do(http.MethodOptions, "/api/listings/1/nearby", map[string]string{
		"Origin":                        "http://localhost:3000",
		"Access-Control-Request-Method": "GET",
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	w = server.do(http.MethodGet, "/api/listings/1/nearby", map[string]string{"Origin": "https://evil.example"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}
