package models

import "time"

// Order represents a customer order assigned to a route
type Order struct {
	ID           string    `gorm:"column:order_id;primaryKey;type:varchar(50)"`
	RouteID      *string   `gorm:"column:route_id;type:varchar(50);index"`
	Route        *Route    `gorm:"foreignKey:RouteID"`
	ExternalRef  string    `gorm:"column:external_ref;type:varchar(100);index"`
	CustomerName string    `gorm:"column:customer_name;type:varchar(100)"`
	Address      string    `gorm:"column:address;type:varchar(255)"`
	TotalVolumes int       `gorm:"column:total_volumes;default:0"`
	Status       string    `gorm:"column:status;type:varchar(20);default:'pending'"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`

	// Relationships
	Items  []OrderItem  `gorm:"foreignKey:OrderID"`
	Labels []OrderLabel `gorm:"foreignKey:OrderID"`
}

// OrderItem is one itemized line entry of an order
type OrderItem struct {
	ID          string `gorm:"column:order_item_id;primaryKey;type:varchar(50)"`
	OrderID     string `gorm:"column:order_id;type:varchar(50);index;not null"`
	Order       *Order `gorm:"foreignKey:OrderID"`
	SKU         string `gorm:"column:sku;type:varchar(100);not null"`
	Quantity    int    `gorm:"column:qty;not null"`
	Description string `gorm:"column:description;type:varchar(255)"`
}

// OrderLabel is one pre-printed volume label attached to an order. When
// present these are authoritative over the itemized entries.
type OrderLabel struct {
	ID      string `gorm:"column:order_label_id;primaryKey;type:varchar(50)"`
	OrderID string `gorm:"column:order_id;type:varchar(50);index;not null"`
	Order   *Order `gorm:"foreignKey:OrderID"`
	Text    string `gorm:"column:text;type:varchar(255);not null"`
}
