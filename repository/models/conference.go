package models

import "time"

// ConferenceRecord is the persisted state of one route conference pass
type ConferenceRecord struct {
	ID         string     `gorm:"column:conference_id;primaryKey;type:varchar(50)"`
	RouteID    string     `gorm:"column:route_id;type:varchar(50);index;not null"`
	Route      *Route     `gorm:"foreignKey:RouteID"`
	OperatorID string     `gorm:"column:operator_id;type:varchar(50);index"`
	Operator   *Operator  `gorm:"foreignKey:OperatorID"`
	Status     string     `gorm:"column:status;type:varchar(20);not null"`
	ResultOK   bool       `gorm:"column:result_ok;default:false"`
	Summary    string     `gorm:"column:summary;type:text"`
	FinishedAt *time.Time `gorm:"column:finished_at"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`

	// Relationships
	Scans      []ScanRecord      `gorm:"foreignKey:ConferenceID"`
	Exclusions []ExclusionRecord `gorm:"foreignKey:ConferenceID"`
}

// ScanRecord is one accepted scan, append-only
type ScanRecord struct {
	ID           string            `gorm:"column:scan_id;primaryKey;type:varchar(50)"`
	ConferenceID string            `gorm:"column:conference_id;type:varchar(50);index;not null"`
	Conference   *ConferenceRecord `gorm:"foreignKey:ConferenceID"`
	Code         string            `gorm:"column:code;type:varchar(255);not null"`
	OrderID      string            `gorm:"column:order_id;type:varchar(50);index"`
	ProductCode  string            `gorm:"column:product_code;type:varchar(100)"`
	VolumeIndex  int               `gorm:"column:volume_index"`
	VolumeTotal  int               `gorm:"column:volume_total"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime"`
}

// ExclusionRecord stores a "do not scan" override and its reason
type ExclusionRecord struct {
	ID           string            `gorm:"column:exclusion_id;primaryKey;type:varchar(50)"`
	ConferenceID string            `gorm:"column:conference_id;type:varchar(50);index;not null"`
	Conference   *ConferenceRecord `gorm:"foreignKey:ConferenceID"`
	OrderID      string            `gorm:"column:order_id;type:varchar(50);index;not null"`
	ProductCode  string            `gorm:"column:product_code;type:varchar(100);not null"`
	Reason       string            `gorm:"column:reason;type:varchar(20);not null"`
	Notes        string            `gorm:"column:notes;type:text"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime"`
}
