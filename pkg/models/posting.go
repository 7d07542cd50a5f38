package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type PostingStatus string

const (
	PostingStatusNew              PostingStatus = "new"
	PostingStatusProcessingFailed PostingStatus = "processing_failed"
	PostingStatusMatched          PostingStatus = "matched"
	PostingStatusArchived         PostingStatus = "archived"
)

// Location is a city/state/zip with optional coordinates.
type Location struct {
	City  string   `json:"city" db:"city"`
	State string   `json:"state" db:"state"`
	Zip   string   `json:"zip" db:"zip"`
	Lat   *float64 `json:"lat,omitempty" db:"lat"`
	Lng   *float64 `json:"lng,omitempty" db:"lng"`
}

func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lng != nil
}

// LoadPosting is a broker freight offer ingested from an external channel. Its structured fields
// are produced by the external parser.
type LoadPosting struct {
	ID              string        `json:"id" db:"id"`
	TenantID        string        `json:"tenant_id" db:"tenant_id"`
	SourceChannel   string        `json:"source_channel" db:"source_channel"`
	SourceMessageID string        `json:"source_message_id" db:"source_message_id"`
	Sender          string        `json:"sender" db:"sender"`
	Subject         string        `json:"subject" db:"subject"`
	RawBody         string        `json:"raw_body,omitempty" db:"raw_body"`
	BrokerName      string        `json:"broker_name" db:"broker_name"`
	BrokerEmail     string        `json:"broker_email" db:"broker_email"`
	Status          PostingStatus `json:"status" db:"status"`
	FailureReason   *string       `json:"failure_reason,omitempty" db:"failure_reason"`
	IsUpdate        bool          `json:"is_update" db:"is_update"`
	AssignedLoadID  *string       `json:"assigned_load_id,omitempty" db:"assigned_load_id"`

	Origin      Location `json:"origin" db:"origin"`
	Destination Location `json:"destination" db:"destination"`

	PickupWindowStart   *time.Time `json:"pickup_window_start,omitempty" db:"pickup_window_start"`
	PickupWindowEnd     *time.Time `json:"pickup_window_end,omitempty" db:"pickup_window_end"`
	DeliveryWindowStart *time.Time `json:"delivery_window_start,omitempty" db:"delivery_window_start"`
	DeliveryWindowEnd   *time.Time `json:"delivery_window_end,omitempty" db:"delivery_window_end"`

	Rate             decimal.NullDecimal `json:"rate" db:"rate"`
	WeightLbs        *float64            `json:"weight_lbs,omitempty" db:"weight_lbs"`
	Pieces           *int                `json:"pieces,omitempty" db:"pieces"`
	LengthFeet       *float64            `json:"length_feet,omitempty" db:"length_feet"`
	EquipmentType    string              `json:"equipment_type" db:"equipment_type"`
	ReferenceNumbers pq.StringArray      `json:"reference_numbers" db:"reference_numbers"`

	ReceivedAt time.Time  `json:"received_at" db:"received_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// IsExpired reports whether the posting's expiry has passed at now.
func (p *LoadPosting) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

// ParsedPosting is the structured output of the external document parser plus its envelope.
// Fields holds the parser's JSON document; it is mapped onto LoadPosting by field expressions.
type ParsedPosting struct {
	SourceChannel   string         `json:"source_channel" validate:"required"`
	SourceMessageID string         `json:"source_message_id" validate:"required"`
	Sender          string         `json:"sender" validate:"required"`
	Subject         string         `json:"subject"`
	RawBody         string         `json:"raw_body"`
	ReceivedAt      time.Time      `json:"received_at" validate:"required"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	Fields          map[string]any `json:"fields"`
	ParseError      string         `json:"parse_error,omitempty"`
}

type IngestResult struct {
	Posting   *LoadPosting `json:"posting"`
	Duplicate bool         `json:"duplicate"`
	Matches   []Match      `json:"matches"`
	Degraded  bool         `json:"degraded,omitempty"`
}
