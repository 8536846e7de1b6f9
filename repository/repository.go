// Package repository is the persistence layer: routes, orders and
// conference records live in Postgres behind gorm. All operations return
// *RepositoryError instead of raw errors so handlers can map failures to
// HTTP statuses without inspecting driver internals.
package repository

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/routeconf/routeconf/conference"
	"github.com/routeconf/routeconf/repository/models"
)

// PostgreSQL error codes as constants
const (
	// Class 23 — Integrity Constraint Violation
	PgErrForeignKeyViolation = "23503" // foreign_key_violation
	PgErrUniqueViolation     = "23505" // unique_violation
	PgErrCheckViolation      = "23514" // check_violation
	PgErrNotNullViolation    = "23502" // not_null_violation

	// Class 08 — Connection Exception
	PgErrConnectionException = "08000" // connection_exception
	PgErrConnectionFailure   = "08006" // connection_failure
)

// RepositoryError represents an error in the repository layer
type RepositoryError struct {
	Code    string
	Message string
	Detail  string
}

type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewRepository(logger *zap.Logger) *Repository {
	return &Repository{logger: logger}
}

// ConnectDB connects to Postgres, retrying a few times so the service
// survives the database coming up after it in a compose stack.
func (r *Repository) ConnectDB(dsn string) error {
	var lastErr error
	for i := 0; i < 10; i++ {
		r.logger.Info("connecting to postgres", zap.Int("attempt", i+1))
		db, err := gorm.Open(postgres.Open(dsn))
		if err == nil {
			r.db = db
			r.logger.Info("connected to postgres")
			return nil
		}
		lastErr = err
		r.logger.Warn("connection attempt failed", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	return fmt.Errorf("connecting to postgres: %w", lastErr)
}

func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(
		&models.Operator{},
		&models.Courier{},
		&models.Route{},
		&models.Order{},
		&models.OrderItem{},
		&models.OrderLabel{},
		&models.ConferenceRecord{},
		&models.ScanRecord{},
		&models.ExclusionRecord{},
	)
}

// Seed loads initial data for local development. Skipped when routes
// already exist.
func (r *Repository) Seed() {
	var routeCount int64
	r.db.Model(&models.Route{}).Count(&routeCount)
	if routeCount > 0 {
		r.logger.Info("seed data already exists, skipping")
		return
	}

	r.logger.Info("seeding database with initial data")

	operators := []models.Operator{
		{ID: "OPR-001", Name: "John Smith", Role: "Dock Supervisor", AccessLevel: "Admin"},
		{ID: "OPR-002", Name: "Sarah Lee", Role: "Conference Operator", AccessLevel: "Standard"},
		{ID: "OPR-003", Name: "Raj Patel", Role: "Logistics Coordinator", AccessLevel: "Standard"},
		{ID: "OPR-004", Name: "Maria Garcia", Role: "Conference Operator", AccessLevel: "Basic"},
	}
	for _, operator := range operators {
		if err := r.db.Create(&operator).Error; err != nil {
			r.logger.Error("error creating operator", zap.String("id", operator.ID), zap.Error(err))
		}
	}

	couriers := []models.Courier{
		{ID: "COU-001", Name: "Speedy Express", ServiceLevel: "Premium", ContactInfo: "support@speedyexpress.com"},
		{ID: "COU-002", Name: "Global Logistics", ServiceLevel: "Standard", ContactInfo: "cs@globallogistics.com"},
		{ID: "COU-003", Name: "Swift Cargo", ServiceLevel: "Same-day", ContactInfo: "service@swiftcargo.com"},
	}
	for _, courier := range couriers {
		if err := r.db.Create(&courier).Error; err != nil {
			r.logger.Error("error creating courier", zap.String("id", courier.ID), zap.Error(err))
		}
	}

	routes := []models.Route{
		{ID: "ROUTE-001", Name: "North Zone AM", CourierID: ptrString("COU-001")},
		{ID: "ROUTE-002", Name: "Downtown PM", CourierID: ptrString("COU-002")},
	}
	for _, route := range routes {
		if err := r.db.Create(&route).Error; err != nil {
			r.logger.Error("error creating route", zap.String("id", route.ID), zap.Error(err))
		}
	}

	orders := []models.Order{
		{ID: "ORD-001", RouteID: ptrString("ROUTE-001"), ExternalRef: "NF-1001", CustomerName: "Alice Moreno", Address: "12 Elm St"},
		{ID: "ORD-002", RouteID: ptrString("ROUTE-001"), ExternalRef: "NF-1002", CustomerName: "Bruno Costa", Address: "77 Oak Ave"},
		{ID: "ORD-003", RouteID: ptrString("ROUTE-002"), ExternalRef: "NF-2001", CustomerName: "Carla Dias", Address: "5 Pine Rd", TotalVolumes: 3},
	}
	for _, order := range orders {
		if err := r.db.Create(&order).Error; err != nil {
			r.logger.Error("error creating order", zap.String("id", order.ID), zap.Error(err))
		}
	}

	items := []models.OrderItem{
		{ID: "ITEM-001", OrderID: "ORD-001", SKU: "SOFA-01", Quantity: 2, Description: "Two-seat sofa"},
		{ID: "ITEM-002", OrderID: "ORD-001", SKU: "MESA-10", Quantity: 1, Description: "Dining table"},
		{ID: "ITEM-003", OrderID: "ORD-002", SKU: "CAMA-22", Quantity: 1, Description: "Queen bed frame"},
	}
	for _, item := range items {
		if err := r.db.Create(&item).Error; err != nil {
			r.logger.Error("error creating order item", zap.String("id", item.ID), zap.Error(err))
		}
	}

	labels := []models.OrderLabel{
		{ID: "LBL-001", OrderID: "ORD-002", Text: "1/2-CAMA-22"},
		{ID: "LBL-002", OrderID: "ORD-002", Text: "2/2-CAMA-22"},
	}
	for _, label := range labels {
		if err := r.db.Create(&label).Error; err != nil {
			r.logger.Error("error creating order label", zap.String("id", label.ID), zap.Error(err))
		}
	}

	r.logger.Info("database seeding completed")
}

func ptrString(s string) *string {
	return &s
}

// DB Operations

// GetRouteOrders returns a route with its orders, items and printed
// labels preloaded. This is the expected-label source for a conference.
func (r *Repository) GetRouteOrders(routeID string) (*models.Route, *RepositoryError) {
	var route models.Route
	err := r.db.
		Preload("Orders.Items").
		Preload("Orders.Labels").
		Preload("Courier").
		Where("route_id = ?", routeID).
		First(&route).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &RepositoryError{
				Code:    "ENTITY_NOT_FOUND",
				Message: "Route does not exist",
				Detail:  fmt.Sprintf("Route with id %s does not exist", routeID),
			}
		}
		return nil, wrapDBError(err)
	}
	return &route, nil
}

// CreateConference creates a new conference record in in_progress state
func (r *Repository) CreateConference(conferenceID, routeID, operatorID string) (*models.ConferenceRecord, *RepositoryError) {
	record := models.ConferenceRecord{
		ID:         conferenceID,
		RouteID:    routeID,
		OperatorID: operatorID,
		Status:     string(conference.StatusInProgress),
	}

	dbTx := r.db.Begin()
	if err := dbTx.Create(&record).Error; err != nil {
		dbTx.Rollback()
		return nil, wrapDBError(err)
	}
	if err := dbTx.Commit().Error; err != nil {
		return nil, wrapDBError(err)
	}
	return &record, nil
}

// AppendScan persists one accepted scan. Scans are append-only.
func (r *Repository) AppendScan(conferenceID string, scan conference.ScanRecord) (*models.ScanRecord, *RepositoryError) {
	record := models.ScanRecord{
		ID:           scanID(conferenceID, scan),
		ConferenceID: conferenceID,
		Code:         scan.NormalizedCode,
		OrderID:      scan.OrderID,
		ProductCode:  scan.ProductCode,
		VolumeIndex:  scan.VolumeIndex,
		VolumeTotal:  scan.VolumeTotal,
	}

	dbTx := r.db.Begin()
	if err := dbTx.Create(&record).Error; err != nil {
		dbTx.Rollback()
		return nil, wrapDBError(err)
	}
	if err := dbTx.Commit().Error; err != nil {
		return nil, wrapDBError(err)
	}
	return &record, nil
}

// SaveExclusion stores a "do not scan" override for a product
func (r *Repository) SaveExclusion(conferenceID string, mark conference.ExclusionMark) (*models.ExclusionRecord, *RepositoryError) {
	hash := sha256.Sum256([]byte(conferenceID + mark.OrderID + mark.ProductCode))
	record := models.ExclusionRecord{
		ID:           fmt.Sprintf("EXC-%s", hex.EncodeToString(hash[:])[:16]),
		ConferenceID: conferenceID,
		OrderID:      mark.OrderID,
		ProductCode:  mark.ProductCode,
		Reason:       string(mark.Reason),
		Notes:        mark.Notes,
	}

	dbTx := r.db.Begin()
	if err := dbTx.Create(&record).Error; err != nil {
		dbTx.Rollback()
		return nil, wrapDBError(err)
	}
	if err := dbTx.Commit().Error; err != nil {
		return nil, wrapDBError(err)
	}
	return &record, nil
}

// DeleteExclusion removes a product's exclusion override
func (r *Repository) DeleteExclusion(conferenceID, orderID, productCode string) *RepositoryError {
	err := r.db.
		Where("conference_id = ? AND order_id = ? AND product_code = ?", conferenceID, orderID, productCode).
		Delete(&models.ExclusionRecord{}).Error
	if err != nil {
		return wrapDBError(err)
	}
	return nil
}

// CompleteConference marks the conference completed and stores the
// outcome summary. Completing a conference that is not in progress is a
// conflict.
func (r *Repository) CompleteConference(conferenceID string, outcome *conference.Outcome) (*models.ConferenceRecord, *RepositoryError) {
	dbTx := r.db.Begin()

	var record models.ConferenceRecord
	err := dbTx.Where("conference_id = ?", conferenceID).First(&record).Error
	if err != nil {
		dbTx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &RepositoryError{
				Code:    "ENTITY_NOT_FOUND",
				Message: "Conference does not exist",
				Detail:  fmt.Sprintf("Conference with id %s does not exist", conferenceID),
			}
		}
		return nil, wrapDBError(err)
	}

	if record.Status != string(conference.StatusInProgress) {
		dbTx.Rollback()
		return nil, &RepositoryError{
			Code:    "INVALID_STATE",
			Message: "Conference is not in progress",
			Detail:  fmt.Sprintf("Conference status is %s, must be '%s'", record.Status, conference.StatusInProgress),
		}
	}

	summary, marshalErr := json.Marshal(map[string]any{
		"missing_labels": outcome.MissingLabels,
		"exclusions":     outcome.Exclusions,
		"result_ok":      outcome.ResultOK,
	})
	if marshalErr != nil {
		dbTx.Rollback()
		return nil, &RepositoryError{
			Code:    "MARSHALING_ERROR",
			Message: "Failed to encode conference summary",
			Detail:  marshalErr.Error(),
		}
	}

	finishedAt := outcome.FinishedAt
	record.Status = string(conference.StatusCompleted)
	record.ResultOK = outcome.ResultOK
	record.Summary = string(summary)
	record.FinishedAt = &finishedAt

	if err := dbTx.Save(&record).Error; err != nil {
		dbTx.Rollback()
		return nil, wrapDBError(err)
	}
	if err := dbTx.Commit().Error; err != nil {
		return nil, wrapDBError(err)
	}
	return &record, nil
}

// GetConference returns a conference record with scans and exclusions
func (r *Repository) GetConference(conferenceID string) (*models.ConferenceRecord, *RepositoryError) {
	var record models.ConferenceRecord
	err := r.db.
		Preload("Scans").
		Preload("Exclusions").
		Where("conference_id = ?", conferenceID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &RepositoryError{
				Code:    "ENTITY_NOT_FOUND",
				Message: "Conference does not exist",
				Detail:  fmt.Sprintf("Conference with id %s does not exist", conferenceID),
			}
		}
		return nil, wrapDBError(err)
	}
	return &record, nil
}

// scanID derives a stable scan identifier; the timestamp keeps repeated
// scans of duplicate labels distinct.
func scanID(conferenceID string, scan conference.ScanRecord) string {
	composite := fmt.Sprintf("%s|%s|%d", conferenceID, scan.NormalizedCode, time.Now().UnixNano())
	hash := sha256.Sum256([]byte(composite))
	return fmt.Sprintf("SCAN-%s", hex.EncodeToString(hash[:])[:16])
}

func wrapDBError(err error) *RepositoryError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &RepositoryError{
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Detail:  pgErr.Detail,
		}
	}
	return &RepositoryError{
		Code:    "DATABASE_ERROR",
		Message: "A database error occurred",
		Detail:  err.Error(),
	}
}
