// Package srvreg routes conference API requests to their handlers. The
// registry keeps the live in-memory conference sessions; the database is
// written behind them and reconciled at finalize time.
package srvreg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/routeconf/routeconf/conference"
	"github.com/routeconf/routeconf/repository"
	"github.com/routeconf/routeconf/repository/models"
)

// Request represents the client's original HTTP request
type Request struct {
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	RemoteAddr string            `json:"remote_addr"`
	RequestID  string            `json:"request_id"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Response represents the computed response for a request
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	Error      string            `json:"error,omitempty"`
}

// ServiceHandler is a function type for service handlers
type ServiceHandler func(*Request) (*Response, error)

// RouteKey is used to uniquely identify a route
type RouteKey struct {
	Method string
	Path   string
}

// Store is the subset of the repository the handlers need. It matches
// *repository.Repository.
type Store interface {
	GetRouteOrders(routeID string) (*models.Route, *repository.RepositoryError)
	CreateConference(conferenceID, routeID, operatorID string) (*models.ConferenceRecord, *repository.RepositoryError)
	SaveExclusion(conferenceID string, mark conference.ExclusionMark) (*models.ExclusionRecord, *repository.RepositoryError)
	DeleteExclusion(conferenceID, orderID, productCode string) *repository.RepositoryError
	CompleteConference(conferenceID string, outcome *conference.Outcome) (*models.ConferenceRecord, *repository.RepositoryError)
	GetConference(conferenceID string) (*models.ConferenceRecord, *repository.RepositoryError)
}

// ScanSink receives accepted scans for write-behind persistence. Submit
// must not block on the database and must not fail the scan.
type ScanSink interface {
	Submit(conferenceID string, scan conference.ScanRecord)
}

// ServiceRegistry manages the service handlers and the live conference
// sessions.
type ServiceRegistry struct {
	handlers    map[RouteKey]ServiceHandler
	exactRoutes map[RouteKey]bool
	mu          sync.RWMutex

	sessions   map[string]*conference.Session
	sessionsMu sync.Mutex

	store  Store
	scans  ScanSink
	logger *zap.Logger
}

// NewServiceRegistry creates a new service registry
func NewServiceRegistry(store Store, scans ScanSink, logger *zap.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		handlers:    make(map[RouteKey]ServiceHandler),
		exactRoutes: make(map[RouteKey]bool),
		sessions:    make(map[string]*conference.Session),
		store:       store,
		scans:       scans,
		logger:      logger,
	}
}

// RegisterHandler registers a new service handler
func (sr *ServiceRegistry) RegisterHandler(method, path string, isExactPath bool, handler ServiceHandler) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	key := RouteKey{Method: strings.ToUpper(method), Path: path}
	sr.handlers[key] = handler
	sr.exactRoutes[key] = isExactPath
}

// GetHandlerForPath finds the appropriate handler for a given path and a
// boolean of whether the handler was found
func (sr *ServiceRegistry) GetHandlerForPath(method, path string) (ServiceHandler, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	key := RouteKey{Method: strings.ToUpper(method), Path: path}
	if handler, ok := sr.handlers[key]; ok {
		if sr.exactRoutes[key] {
			return handler, true
		}
	}

	for routeKey, handler := range sr.handlers {
		if routeKey.Method != strings.ToUpper(method) {
			continue
		}
		if sr.exactRoutes[routeKey] {
			continue
		}
		if matchPath(routeKey.Path, path) {
			return handler, true
		}
	}

	return nil, false
}

// matchPath does simple pattern matching for routes.
// It supports patterns like "/conference/:id" matching "/conference/CONF-1"
func matchPath(pattern, path string) bool {
	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")

	if len(patternParts) != len(pathParts) {
		return false
	}

	for i := 0; i < len(patternParts); i++ {
		if strings.HasPrefix(patternParts[i], ":") {
			continue
		}
		if patternParts[i] != pathParts[i] {
			return false
		}
	}

	return true
}

// RegisterDefaultServices sets up the conference workflow endpoints
func (sr *ServiceRegistry) RegisterDefaultServices() {
	sr.RegisterHandler(
		"POST",
		"/conference/start",
		true,
		sr.StartConferenceHandler,
	)
	sr.RegisterHandler(
		"GET",
		"/conference/:id",
		false,
		sr.GetConferenceHandler,
	)
	sr.RegisterHandler(
		"POST",
		"/conference/:id/scan",
		false,
		sr.ScanHandler,
	)
	sr.RegisterHandler(
		"POST",
		"/conference/:id/exclusion",
		false,
		sr.MarkExclusionHandler,
	)
	sr.RegisterHandler(
		"POST",
		"/conference/:id/exclusion/clear",
		false,
		sr.ClearExclusionHandler,
	)
	sr.RegisterHandler(
		"POST",
		"/conference/:id/finalize",
		false,
		sr.FinalizeHandler,
	)
}

// GenerateResponse executes the request against the registry
func (req *Request) GenerateResponse(services *ServiceRegistry) (*Response, error) {
	handler, found := services.GetHandlerForPath(req.Method, req.Path)
	if !found {
		return &Response{
			StatusCode: http.StatusNotFound,
			Headers:    map[string]string{"Content-Type": "text/plain"},
			Body:       fmt.Sprintf("Service not found for %s %s", req.Method, req.Path),
		}, nil
	}
	return handler(req)
}

// ConvertHTTPRequest converts an http.Request to a Request
func ConvertHTTPRequest(r *http.Request, requestID string) (*Request, error) {
	headers := make(map[string]string)
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	body := ""
	if r.Body != nil {
		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		raw := strings.TrimSpace(string(bodyBytes))
		body = compactJSON(raw)
	}

	return &Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    headers,
		Body:       body,
		RemoteAddr: r.RemoteAddr,
		RequestID:  requestID,
		Timestamp:  time.Now(),
	}, nil
}

// session lookup and registration

func (sr *ServiceRegistry) addSession(s *conference.Session) {
	sr.sessionsMu.Lock()
	defer sr.sessionsMu.Unlock()
	sr.sessions[s.ID()] = s
}

func (sr *ServiceRegistry) getSession(id string) (*conference.Session, bool) {
	sr.sessionsMu.Lock()
	defer sr.sessionsMu.Unlock()
	s, ok := sr.sessions[id]
	return s, ok
}

func compactJSON(body string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(body)); err != nil {
		// Not JSON, return trimmed original
		return strings.TrimSpace(body)
	}
	return buf.String()
}
