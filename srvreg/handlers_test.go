package srvreg

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/routeconf/routeconf/conference"
	"github.com/routeconf/routeconf/repository"
	"github.com/routeconf/routeconf/repository/models"
)

type stubStore struct {
	routes      map[string]*models.Route
	conferences map[string]*models.ConferenceRecord
	exclusions  []conference.ExclusionMark
	completed   map[string]*conference.Outcome
	failWrites  bool
}

func newStubStore() *stubStore {
	return &stubStore{
		routes:      make(map[string]*models.Route),
		conferences: make(map[string]*models.ConferenceRecord),
		completed:   make(map[string]*conference.Outcome),
	}
}

func storeError() *repository.RepositoryError {
	return &repository.RepositoryError{Code: "DATABASE_ERROR", Message: "A database error occurred", Detail: "stub failure"}
}

func (s *stubStore) GetRouteOrders(routeID string) (*models.Route, *repository.RepositoryError) {
	route, ok := s.routes[routeID]
	if !ok {
		return nil, &repository.RepositoryError{Code: "ENTITY_NOT_FOUND", Message: "Route does not exist"}
	}
	return route, nil
}

func (s *stubStore) CreateConference(conferenceID, routeID, operatorID string) (*models.ConferenceRecord, *repository.RepositoryError) {
	if s.failWrites {
		return nil, storeError()
	}
	record := &models.ConferenceRecord{ID: conferenceID, RouteID: routeID, OperatorID: operatorID, Status: string(conference.StatusInProgress)}
	s.conferences[conferenceID] = record
	return record, nil
}

func (s *stubStore) SaveExclusion(conferenceID string, mark conference.ExclusionMark) (*models.ExclusionRecord, *repository.RepositoryError) {
	if s.failWrites {
		return nil, storeError()
	}
	s.exclusions = append(s.exclusions, mark)
	return &models.ExclusionRecord{ConferenceID: conferenceID}, nil
}

func (s *stubStore) DeleteExclusion(conferenceID, orderID, productCode string) *repository.RepositoryError {
	if s.failWrites {
		return storeError()
	}
	return nil
}

func (s *stubStore) CompleteConference(conferenceID string, outcome *conference.Outcome) (*models.ConferenceRecord, *repository.RepositoryError) {
	if s.failWrites {
		return nil, storeError()
	}
	record, ok := s.conferences[conferenceID]
	if !ok {
		return nil, &repository.RepositoryError{Code: "ENTITY_NOT_FOUND", Message: "Conference does not exist"}
	}
	record.Status = string(conference.StatusCompleted)
	record.ResultOK = outcome.ResultOK
	s.completed[conferenceID] = outcome
	return record, nil
}

func (s *stubStore) GetConference(conferenceID string) (*models.ConferenceRecord, *repository.RepositoryError) {
	record, ok := s.conferences[conferenceID]
	if !ok {
		return nil, &repository.RepositoryError{Code: "ENTITY_NOT_FOUND", Message: "Conference does not exist"}
	}
	return record, nil
}

type stubSink struct {
	scans []conference.ScanRecord
}

func (s *stubSink) Submit(conferenceID string, scan conference.ScanRecord) {
	s.scans = append(s.scans, scan)
}

func sofaRoute() *models.Route {
	return &models.Route{
		ID: "ROUTE-001",
		Orders: []models.Order{{
			ID:    "ORD-001",
			Items: []models.OrderItem{{ID: "ITEM-001", OrderID: "ORD-001", SKU: "SOFA-01", Quantity: 2}},
		}},
	}
}

func newTestRegistry(t *testing.T) (*ServiceRegistry, *stubStore, *stubSink) {
	t.Helper()
	store := newStubStore()
	store.routes["ROUTE-001"] = sofaRoute()
	sink := &stubSink{}
	sr := NewServiceRegistry(store, sink, zap.NewNop())
	sr.RegisterDefaultServices()
	return sr, store, sink
}

func do(t *testing.T, sr *ServiceRegistry, method, path, body string) (*Response, map[string]any) {
	t.Helper()
	req := &Request{Method: method, Path: path, Body: body, RequestID: "req-test"}
	resp, _ := req.GenerateResponse(sr)
	require.NotNil(t, resp)
	var decoded map[string]any
	if resp.Body != "" && resp.Headers["Content-Type"] == "application/json" {
		require.NoError(t, json.Unmarshal([]byte(resp.Body), &decoded), resp.Body)
	}
	return resp, decoded
}

func startConference(t *testing.T, sr *ServiceRegistry) string {
	t.Helper()
	resp, decoded := do(t, sr, "POST", "/conference/start", `{"route_id":"ROUTE-001","operator_id":"OPR-001"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, resp.Body)
	return decoded["conference_id"].(string)
}

func TestStartConferenceHandler(t *testing.T) {
	sr, store, _ := newTestRegistry(t)

	resp, decoded := do(t, sr, "POST", "/conference/start", `{"route_id":"ROUTE-001","operator_id":"OPR-001"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(2), decoded["expected_labels"])

	conferenceID := decoded["conference_id"].(string)
	assert.Contains(t, store.conferences, conferenceID)
	_, found := sr.getSession(conferenceID)
	assert.True(t, found)
}

func TestStartConferenceHandlerValidation(t *testing.T) {
	sr, _, _ := newTestRegistry(t)

	resp, _ := do(t, sr, "POST", "/conference/start", `{"operator_id":"OPR-001"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, sr, "POST", "/conference/start", `{"route_id":"ROUTE-001"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, sr, "POST", "/conference/start", `{"route_id":"NOPE","operator_id":"OPR-001"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, sr, "POST", "/conference/start", `not json`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestStartConferenceHandlerEmptyRoute(t *testing.T) {
	sr, store, _ := newTestRegistry(t)
	store.routes["ROUTE-EMPTY"] = &models.Route{ID: "ROUTE-EMPTY", Orders: []models.Order{{ID: "ORD-X"}}}

	resp, _ := do(t, sr, "POST", "/conference/start", `{"route_id":"ROUTE-EMPTY","operator_id":"OPR-001"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestScanHandlerAcceptedFeedsSink(t *testing.T) {
	sr, _, sink := newTestRegistry(t)
	conferenceID := startConference(t, sr)

	resp, decoded := do(t, sr, "POST", fmt.Sprintf("/conference/%s/scan", conferenceID), `{"code":"1/2-SOFA-01"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decoded["accepted"])
	assert.Equal(t, "1/2-sofa-01", decoded["code"])
	assert.Equal(t, float64(1), decoded["count"])

	require.Len(t, sink.scans, 1)
	assert.Equal(t, "1/2-sofa-01", sink.scans[0].NormalizedCode)
}

func TestScanHandlerRejections(t *testing.T) {
	sr, _, sink := newTestRegistry(t)
	conferenceID := startConference(t, sr)
	scanPath := fmt.Sprintf("/conference/%s/scan", conferenceID)

	// Unknown label
	resp, decoded := do(t, sr, "POST", scanPath, `{"code":"9/9-unknown"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "label does not belong to this route", decoded["error"])

	// Excess volume
	resp, _ = do(t, sr, "POST", scanPath, `{"code":"1/2-SOFA-01"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, decoded = do(t, sr, "POST", scanPath, `{"code":"1/2-SOFA-01"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "excess volume for this code", decoded["error"])

	// Empty input is a silent no-op
	resp, decoded = do(t, sr, "POST", scanPath, `{"code":"  "}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decoded["ignored"])

	// Unknown conference
	resp, _ = do(t, sr, "POST", "/conference/CONF-missing/scan", `{"code":"1/2-SOFA-01"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Len(t, sink.scans, 1)
}

func TestExclusionWorkflow(t *testing.T) {
	sr, store, _ := newTestRegistry(t)
	conferenceID := startConference(t, sr)
	scanPath := fmt.Sprintf("/conference/%s/scan", conferenceID)
	exclusionPath := fmt.Sprintf("/conference/%s/exclusion", conferenceID)

	// Invalid reason is rejected without mutation
	resp, _ := do(t, sr, "POST", exclusionPath, `{"order_id":"ORD-001","product_code":"sofa-01","reason":"because"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, store.exclusions)

	resp, _ = do(t, sr, "POST", exclusionPath, `{"order_id":"ORD-001","product_code":"sofa-01","reason":"damaged","notes":"broken leg"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, store.exclusions, 1)
	assert.Equal(t, conference.ReasonDamaged, store.exclusions[0].Reason)

	// Scans for the excluded product are now rejected
	resp, decoded := do(t, sr, "POST", scanPath, `{"code":"1/2-SOFA-01"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "product marked as excluded from scanning", decoded["error"])

	// Clearing re-enables scanning
	resp, _ = do(t, sr, "POST", exclusionPath+"/clear", `{"order_id":"ORD-001","product_code":"sofa-01"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, sr, "POST", scanPath, `{"code":"1/2-SOFA-01"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExclusionWorkflowUppercaseProductCode(t *testing.T) {
	sr, store, _ := newTestRegistry(t)
	conferenceID := startConference(t, sr)
	scanPath := fmt.Sprintf("/conference/%s/scan", conferenceID)
	exclusionPath := fmt.Sprintf("/conference/%s/exclusion", conferenceID)

	// SKU casing as it appears on the order
	resp, decoded := do(t, sr, "POST", exclusionPath, `{"order_id":"ORD-001","product_code":"SOFA-01","reason":"no_stock"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sofa-01", decoded["product_code"])
	require.Len(t, store.exclusions, 1)
	assert.Equal(t, "sofa-01", store.exclusions[0].ProductCode)

	resp, decoded = do(t, sr, "POST", scanPath, `{"code":"1/2-SOFA-01"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "product marked as excluded from scanning", decoded["error"])

	resp, _ = do(t, sr, "POST", exclusionPath+"/clear", `{"order_id":"ORD-001","product_code":"SOFA-01"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, sr, "POST", scanPath, `{"code":"1/2-SOFA-01"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFinalizeHandlerPartialThenComplete(t *testing.T) {
	sr, store, _ := newTestRegistry(t)
	conferenceID := startConference(t, sr)
	scanPath := fmt.Sprintf("/conference/%s/scan", conferenceID)
	finalizePath := fmt.Sprintf("/conference/%s/finalize", conferenceID)

	resp, _ := do(t, sr, "POST", scanPath, `{"code":"1/2-SOFA-01"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// One of two volumes scanned: partial, refused
	resp, decoded := do(t, sr, "POST", finalizePath, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, decoded["error"], "partial conference detected")
	assert.NotContains(t, store.completed, conferenceID)

	resp, _ = do(t, sr, "POST", scanPath, `{"code":"2/2-SOFA-01-9"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, decoded = do(t, sr, "POST", finalizePath, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, true, decoded["result_ok"])
	require.Contains(t, store.completed, conferenceID)
	assert.True(t, store.completed[conferenceID].ResultOK)

	// Re-finalizing a completed conference is a conflict
	resp, _ = do(t, sr, "POST", finalizePath, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetConferenceHandlerLiveSession(t *testing.T) {
	sr, _, _ := newTestRegistry(t)
	conferenceID := startConference(t, sr)

	resp, decoded := do(t, sr, "GET", "/conference/"+conferenceID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(conference.StatusInProgress), decoded["status"])
	assert.Equal(t, float64(2), decoded["expected_labels"])
	assert.Equal(t, float64(0), decoded["scanned"])

	resp, _ = do(t, sr, "GET", "/conference/CONF-missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFinalizeHandlerStoreFailure(t *testing.T) {
	sr, store, _ := newTestRegistry(t)
	conferenceID := startConference(t, sr)
	scanPath := fmt.Sprintf("/conference/%s/scan", conferenceID)

	for _, code := range []string{"1/2-SOFA-01", "2/2-SOFA-01"} {
		resp, _ := do(t, sr, "POST", scanPath, fmt.Sprintf(`{"code":"%s"}`, code))
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	store.failWrites = true
	resp, _ := do(t, sr, "POST", fmt.Sprintf("/conference/%s/finalize", conferenceID), "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
