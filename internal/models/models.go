package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Direction of a deal from the owning desk's point of view
const (
	DirectionBuy  = "buy"
	DirectionSell = "sell"
)

// Price type of a deal
const (
	PriceTypeFixed    = "fixed"
	PriceTypeFloating = "floating"
)

// Principal is the authenticated identity performing an operation, as
// resolved by the HTTP layer or the message ingest path.
type Principal struct {
	ID    uuid.UUID
	Admin bool
}

// Product is a tradeable product reference row
type Product struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	Name        string    `gorm:"not null" json:"name"`
	Description *string   `json:"description"`
}

// TableName maps Product to the ref_product table
func (Product) TableName() string { return "ref_product" }

// Unit is a unit-of-measure reference row, keyed by its code
type Unit struct {
	Code        string    `gorm:"primaryKey" json:"code"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	Description string    `gorm:"not null" json:"description"`
}

// TableName maps Unit to the ref_unit table
func (Unit) TableName() string { return "ref_unit" }

// Currency is an ISO-style currency reference row, keyed by its code
type Currency struct {
	Code      string    `gorm:"primaryKey" json:"code"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	Name      string    `gorm:"not null" json:"name"`
}

// TableName maps Currency to the ref_currency table
func (Currency) TableName() string { return "ref_currency" }

// Counterparty is the other side of a deal. Unlike the other reference
// tables its deletion does not block: referencing deals get their
// counterparty_id nulled instead.
type Counterparty struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	Name      string    `gorm:"not null" json:"name"`
	Country   *string   `json:"country"`
}

// TableName maps Counterparty to the ref_counterparty table
func (Counterparty) TableName() string { return "ref_counterparty" }

// DealEvent is one recorded commercial transaction. OwnerID is stamped from
// the acting principal at creation and never changes; Version backs the
// compare-and-swap on concurrent updates.
type DealEvent struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	OwnerID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"owner_id"`
	Version        int        `gorm:"not null;default:1" json:"version"`
	DealTimestamp  time.Time  `gorm:"not null" json:"deal_timestamp"`
	ProductID      uuid.UUID  `gorm:"type:uuid;not null" json:"product_id"`
	UnitCode       string     `gorm:"not null" json:"unit_code"`
	CurrencyCode   string     `gorm:"not null" json:"currency_code"`
	CounterpartyID *uuid.UUID `gorm:"type:uuid" json:"counterparty_id"`
	Quantity       float64    `gorm:"not null" json:"quantity"`
	FixedPrice     *float64   `json:"fixed_price"`
	Direction      string     `gorm:"not null" json:"direction"`
	EffectiveDate  time.Time  `gorm:"not null" json:"effective_date"`
	DeliveryStart  time.Time  `gorm:"not null" json:"delivery_start"`
	DeliveryEnd    time.Time  `gorm:"not null" json:"delivery_end"`
	PriceType      string     `gorm:"not null" json:"price_type"`
	Notes          *string    `json:"notes"`
	IsIndexed      bool       `gorm:"not null;default:false" json:"-"`

	Product      Product       `gorm:"foreignKey:ProductID" json:"-"`
	Unit         Unit          `gorm:"foreignKey:UnitCode;references:Code" json:"-"`
	Currency     Currency      `gorm:"foreignKey:CurrencyCode;references:Code" json:"-"`
	Counterparty *Counterparty `gorm:"foreignKey:CounterpartyID" json:"-"`
}

// TableName maps DealEvent to the deal_event table
func (DealEvent) TableName() string { return "deal_event" }

// SchemaVersion is the append-only registry tagging which contract version
// the validation logic enforces. Ordinary callers read it; only an
// administrative principal appends.
type SchemaVersion struct {
	ID          int       `gorm:"primaryKey;autoIncrement" json:"id"`
	Version     string    `gorm:"not null;uniqueIndex" json:"version"`
	ReleaseDate time.Time `gorm:"not null" json:"release_date"`
	Notes       string    `json:"notes"`
}

// TableName maps SchemaVersion to the schema_version table
func (SchemaVersion) TableName() string { return "schema_version" }

// SetupModels configures GORM models and runs migrations. Reference tables
// migrate before deal_event so the foreign key constraints can be created.
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Product{},
		&Unit{},
		&Currency{},
		&Counterparty{},
		&DealEvent{},
		&SchemaVersion{},
	)

	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
