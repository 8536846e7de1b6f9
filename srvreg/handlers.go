package srvreg

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/routeconf/routeconf/conference"
)

var defaultHeaders = map[string]string{"Content-Type": "application/json"}

func jsonResponse(status int, v any) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		return &Response{
			StatusCode: http.StatusInternalServerError,
			Headers:    defaultHeaders,
			Body:       `{"error":"failed to encode response"}`,
		}
	}
	return &Response{
		StatusCode: status,
		Headers:    defaultHeaders,
		Body:       string(body),
	}
}

func errorResponse(status int, message string) *Response {
	return jsonResponse(status, map[string]string{"error": message})
}

// conferenceIDFromPath extracts the :id segment of /conference/:id/...
func conferenceIDFromPath(path string, wantParts int) (string, bool) {
	pathParts := strings.Split(path, "/")
	if len(pathParts) != wantParts {
		return "", false
	}
	return pathParts[2], true
}

type startConferenceBody struct {
	RouteID    string `json:"route_id"`
	OperatorID string `json:"operator_id"`
}

// StartConferenceHandler loads the route's orders, derives the expected
// label set and opens a new conference session.
func (sr *ServiceRegistry) StartConferenceHandler(req *Request) (*Response, error) {
	var body startConferenceBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		sr.logger.Info("failed to parse body", zap.Error(err))
		return errorResponse(http.StatusUnprocessableEntity, "Invalid body format: "+err.Error()), err
	}
	if body.RouteID == "" {
		return errorResponse(http.StatusBadRequest, "route_id is required"), fmt.Errorf("route_id is required")
	}
	if body.OperatorID == "" {
		return errorResponse(http.StatusBadRequest, "operator_id is required"), fmt.Errorf("operator_id is required")
	}

	route, dbErr := sr.store.GetRouteOrders(body.RouteID)
	if dbErr != nil {
		switch dbErr.Code {
		case "ENTITY_NOT_FOUND":
			return errorResponse(http.StatusNotFound, dbErr.Message), fmt.Errorf("entity not found: %s", dbErr.Message)
		default:
			return errorResponse(http.StatusBadGateway, "Route store unavailable"), fmt.Errorf("database error: %s", dbErr.Detail)
		}
	}

	orders := make([]conference.OrderInput, 0, len(route.Orders))
	for _, order := range route.Orders {
		input := conference.OrderInput{
			OrderID:      order.ID,
			ExternalRef:  order.ExternalRef,
			TotalVolumes: order.TotalVolumes,
		}
		for _, item := range order.Items {
			input.Items = append(input.Items, conference.ItemInput{SKU: item.SKU, Quantity: item.Quantity})
		}
		for _, label := range order.Labels {
			input.Labels = append(input.Labels, label.Text)
		}
		orders = append(orders, input)
	}

	expected := conference.BuildExpectedLabels(orders)
	if len(expected) == 0 {
		return errorResponse(http.StatusUnprocessableEntity, "Route has no conferable volumes"), fmt.Errorf("route %s has no conferable volumes", body.RouteID)
	}

	conferenceID := fmt.Sprintf("CONF-%s", req.RequestID)
	session := conference.NewSession(conferenceID, body.RouteID, expected)
	if err := session.Start(); err != nil {
		return errorResponse(http.StatusInternalServerError, "Internal server error"), err
	}

	if _, dbErr := sr.store.CreateConference(conferenceID, body.RouteID, body.OperatorID); dbErr != nil {
		switch dbErr.Code {
		case "23503": // foreign_key_violation
			return errorResponse(http.StatusBadRequest, dbErr.Detail), fmt.Errorf("foreign key violation: %s", dbErr.Message)
		case "23505": // unique_violation
			return errorResponse(http.StatusConflict, dbErr.Detail), fmt.Errorf("unique violation: %s", dbErr.Message)
		default:
			return errorResponse(http.StatusInternalServerError, "Internal server error"), fmt.Errorf("database error: %s", dbErr.Detail)
		}
	}

	sr.addSession(session)
	sr.logger.Info("conference started",
		zap.String("conference_id", conferenceID),
		zap.String("route_id", body.RouteID),
		zap.Int("expected_labels", len(expected)))

	return jsonResponse(http.StatusCreated, map[string]any{
		"message":         "Conference started",
		"conference_id":   conferenceID,
		"route_id":        body.RouteID,
		"expected_labels": len(expected),
	}), nil
}

// GetConferenceHandler reports the state of a conference: the live
// session when one is open on this node, otherwise the persisted record.
func (sr *ServiceRegistry) GetConferenceHandler(req *Request) (*Response, error) {
	conferenceID, ok := conferenceIDFromPath(req.Path, 3)
	if !ok {
		return errorResponse(http.StatusBadRequest, "Invalid path format"), fmt.Errorf("invalid path format")
	}

	if session, found := sr.getSession(conferenceID); found {
		scanned := 0
		for _, n := range session.Counts() {
			scanned += n
		}
		return jsonResponse(http.StatusOK, map[string]any{
			"conference_id":   session.ID(),
			"route_id":        session.RouteID(),
			"status":          session.Status(),
			"expected_labels": len(session.Expected()),
			"scanned":         scanned,
			"counts":          session.Counts(),
			"exclusions":      session.Exclusions(),
		}), nil
	}

	record, dbErr := sr.store.GetConference(conferenceID)
	if dbErr != nil {
		if dbErr.Code == "ENTITY_NOT_FOUND" {
			return errorResponse(http.StatusNotFound, dbErr.Message), fmt.Errorf("entity not found: %s", dbErr.Message)
		}
		return errorResponse(http.StatusInternalServerError, "Internal server error"), fmt.Errorf("database error: %s", dbErr.Detail)
	}

	return jsonResponse(http.StatusOK, map[string]any{
		"conference_id": record.ID,
		"route_id":      record.RouteID,
		"status":        record.Status,
		"result_ok":     record.ResultOK,
		"finished_at":   record.FinishedAt,
		"scans":         len(record.Scans),
		"exclusions":    len(record.Exclusions),
	}), nil
}

type scanBody struct {
	Code string `json:"code"`
}

// ScanHandler resolves one scanned label against the conference session.
// Accepted scans are handed to the write-behind sink; the in-memory count
// is the source of truth for the operator's screen either way.
func (sr *ServiceRegistry) ScanHandler(req *Request) (*Response, error) {
	conferenceID, ok := conferenceIDFromPath(req.Path, 4)
	if !ok {
		return errorResponse(http.StatusBadRequest, "Invalid path format"), fmt.Errorf("invalid path format")
	}

	var body scanBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		sr.logger.Info("failed to parse body", zap.Error(err))
		return errorResponse(http.StatusUnprocessableEntity, "Invalid body format: "+err.Error()), err
	}

	session, found := sr.getSession(conferenceID)
	if !found {
		return errorResponse(http.StatusNotFound, "No open conference with this id"), fmt.Errorf("conference %s not found", conferenceID)
	}

	outcome, err := session.ResolveScan(body.Code)
	if err != nil {
		if errors.Is(err, conference.ErrNotInProgress) {
			return errorResponse(http.StatusConflict, "Conference is not in progress"), err
		}
		return errorResponse(http.StatusInternalServerError, "Internal server error"), err
	}

	switch outcome.Result {
	case conference.ScanAccepted:
		sr.scans.Submit(conferenceID, *outcome.Record)
		return jsonResponse(http.StatusOK, map[string]any{
			"accepted": true,
			"code":     outcome.Code,
			"count":    session.ScannedCount(outcome.Code),
		}), nil
	case conference.ScanIgnored:
		return jsonResponse(http.StatusOK, map[string]any{
			"accepted": false,
			"ignored":  true,
		}), nil
	case conference.ScanUnknown:
		return jsonResponse(http.StatusUnprocessableEntity, map[string]any{
			"accepted": false,
			"code":     outcome.Code,
			"error":    outcome.Message,
		}), nil
	default: // ScanExcluded, ScanExcess
		return jsonResponse(http.StatusConflict, map[string]any{
			"accepted": false,
			"code":     outcome.Code,
			"error":    outcome.Message,
		}), nil
	}
}

type exclusionBody struct {
	OrderID     string `json:"order_id"`
	ProductCode string `json:"product_code"`
	Reason      string `json:"reason"`
	Notes       string `json:"notes"`
}

// MarkExclusionHandler records a "do not scan" override for a product.
func (sr *ServiceRegistry) MarkExclusionHandler(req *Request) (*Response, error) {
	conferenceID, ok := conferenceIDFromPath(req.Path, 4)
	if !ok {
		return errorResponse(http.StatusBadRequest, "Invalid path format"), fmt.Errorf("invalid path format")
	}

	var body exclusionBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return errorResponse(http.StatusUnprocessableEntity, "Invalid body format: "+err.Error()), err
	}
	if body.OrderID == "" || body.ProductCode == "" {
		return errorResponse(http.StatusBadRequest, "order_id and product_code are required"), fmt.Errorf("order_id and product_code are required")
	}

	session, found := sr.getSession(conferenceID)
	if !found {
		return errorResponse(http.StatusNotFound, "No open conference with this id"), fmt.Errorf("conference %s not found", conferenceID)
	}

	// Order data carries SKUs in printed casing; expected labels are
	// lowercase, so the persisted record must be too.
	productCode := strings.ToLower(strings.TrimSpace(body.ProductCode))

	err := session.MarkExcluded(body.OrderID, productCode, conference.ExclusionReason(body.Reason), body.Notes)
	if err != nil {
		if errors.Is(err, conference.ErrInvalidReason) {
			return errorResponse(http.StatusBadRequest, "reason must be one of no_space, damaged, no_stock, other"), err
		}
		if errors.Is(err, conference.ErrNotInProgress) {
			return errorResponse(http.StatusConflict, "Conference is not in progress"), err
		}
		return errorResponse(http.StatusInternalServerError, "Internal server error"), err
	}

	mark := conference.ExclusionMark{
		OrderID:     body.OrderID,
		ProductCode: productCode,
		Reason:      conference.ExclusionReason(body.Reason),
		Notes:       body.Notes,
	}
	if _, dbErr := sr.store.SaveExclusion(conferenceID, mark); dbErr != nil {
		// The in-memory mark stands; persistence is reconciled at
		// finalize time.
		sr.logger.Warn("failed to persist exclusion",
			zap.String("conference_id", conferenceID),
			zap.String("detail", dbErr.Detail))
	}

	return jsonResponse(http.StatusOK, map[string]any{
		"message":      "Product excluded from scanning",
		"order_id":     body.OrderID,
		"product_code": productCode,
		"reason":       body.Reason,
	}), nil
}

type clearExclusionBody struct {
	OrderID     string `json:"order_id"`
	ProductCode string `json:"product_code"`
}

// ClearExclusionHandler removes an exclusion; scanning resumes for the
// product's remaining volumes.
func (sr *ServiceRegistry) ClearExclusionHandler(req *Request) (*Response, error) {
	conferenceID, ok := conferenceIDFromPath(req.Path, 5)
	if !ok {
		return errorResponse(http.StatusBadRequest, "Invalid path format"), fmt.Errorf("invalid path format")
	}

	var body clearExclusionBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return errorResponse(http.StatusUnprocessableEntity, "Invalid body format: "+err.Error()), err
	}

	session, found := sr.getSession(conferenceID)
	if !found {
		return errorResponse(http.StatusNotFound, "No open conference with this id"), fmt.Errorf("conference %s not found", conferenceID)
	}

	productCode := strings.ToLower(strings.TrimSpace(body.ProductCode))

	if err := session.ClearExclusion(body.OrderID, productCode); err != nil {
		if errors.Is(err, conference.ErrNotInProgress) {
			return errorResponse(http.StatusConflict, "Conference is not in progress"), err
		}
		return errorResponse(http.StatusInternalServerError, "Internal server error"), err
	}

	if dbErr := sr.store.DeleteExclusion(conferenceID, body.OrderID, productCode); dbErr != nil {
		sr.logger.Warn("failed to delete persisted exclusion",
			zap.String("conference_id", conferenceID),
			zap.String("detail", dbErr.Detail))
	}

	return jsonResponse(http.StatusOK, map[string]any{
		"message":      "Exclusion cleared, scanning resumed",
		"order_id":     body.OrderID,
		"product_code": productCode,
	}), nil
}

// FinalizeHandler closes the conference. A partially scanned product
// blocks finalization and the session stays open.
func (sr *ServiceRegistry) FinalizeHandler(req *Request) (*Response, error) {
	conferenceID, ok := conferenceIDFromPath(req.Path, 4)
	if !ok {
		return errorResponse(http.StatusBadRequest, "Invalid path format"), fmt.Errorf("invalid path format")
	}

	session, found := sr.getSession(conferenceID)
	if !found {
		return errorResponse(http.StatusNotFound, "No open conference with this id"), fmt.Errorf("conference %s not found", conferenceID)
	}

	outcome, err := session.Finalize()
	if err != nil {
		var partial *conference.PartialError
		if errors.As(err, &partial) {
			return jsonResponse(http.StatusConflict, map[string]any{
				"error":    "partial conference detected, finish with 0% or 100% scanned per product",
				"products": partial.Products,
			}), err
		}
		if errors.Is(err, conference.ErrNotInProgress) {
			return errorResponse(http.StatusConflict, "Conference is not in progress"), err
		}
		return errorResponse(http.StatusInternalServerError, "Internal server error"), err
	}

	record, dbErr := sr.store.CompleteConference(conferenceID, outcome)
	if dbErr != nil {
		// The session is completed in memory; surface the store failure
		// so the operator can retry persistence.
		sr.logger.Error("failed to persist conference outcome",
			zap.String("conference_id", conferenceID),
			zap.String("detail", dbErr.Detail))
		return errorResponse(http.StatusBadGateway, "Conference finished but outcome could not be stored"), fmt.Errorf("database error: %s", dbErr.Detail)
	}

	sr.logger.Info("conference finalized",
		zap.String("conference_id", conferenceID),
		zap.Bool("result_ok", outcome.ResultOK),
		zap.Int("missing_labels", len(outcome.MissingLabels)))

	return jsonResponse(http.StatusOK, map[string]any{
		"message":        "Conference finalized",
		"conference_id":  record.ID,
		"result_ok":      outcome.ResultOK,
		"missing_labels": outcome.MissingLabels,
		"exclusions":     outcome.Exclusions,
		"finished_at":    outcome.FinishedAt,
	}), nil
}
