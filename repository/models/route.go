package models

import "time"

// Route is a batch of orders assigned together for one delivery trip
type Route struct {
	ID          string     `gorm:"column:route_id;primaryKey;type:varchar(50)"`
	Name        string     `gorm:"column:name;type:varchar(100)"`
	CourierID   *string    `gorm:"column:courier_id;type:varchar(50);index"`
	Courier     *Courier   `gorm:"foreignKey:CourierID"`
	Status      string     `gorm:"column:status;type:varchar(20);default:'planned'"`
	DepartureAt *time.Time `gorm:"column:departure_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`

	// Relationships
	Orders      []Order            `gorm:"foreignKey:RouteID"`
	Conferences []ConferenceRecord `gorm:"foreignKey:RouteID"`
}
