package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	LoadStatusAvailable       = "available"
	LoadStatusPendingDispatch = "pending_dispatch"
	LoadStatusDispatched      = "dispatched"
	LoadStatusDelivered       = "delivered"

	FinancialStatusPendingInvoice = "pending_invoice"
	FinancialStatusInvoiced       = "invoiced"
	FinancialStatusPaid           = "paid"
)

// Load is a committed transportation job. Only the booking saga creates one.
type Load struct {
	ID          string  `json:"id" db:"id"`
	TenantID    string  `json:"tenant_id" db:"tenant_id"`
	LoadNumber  string  `json:"load_number" db:"load_number"`
	MatchID     string  `json:"match_id" db:"match_id"`
	LoadEmailID string  `json:"load_email_id" db:"load_email_id"`
	VehicleID   string  `json:"vehicle_id" db:"vehicle_id"`
	CarrierID   *string `json:"carrier_id,omitempty" db:"carrier_id"`
	CustomerID  *string `json:"customer_id,omitempty" db:"customer_id"`

	Status          string              `json:"status" db:"status"`
	FinancialStatus string              `json:"financial_status" db:"financial_status"`
	CarrierApproved bool                `json:"carrier_approved" db:"carrier_approved"`
	Rate            decimal.Decimal     `json:"rate" db:"rate"`
	CarrierRate     decimal.NullDecimal `json:"carrier_rate" db:"carrier_rate"`
	// TruckTypeAtBooking is captured once and never recomputed.
	TruckTypeAtBooking string `json:"truck_type_at_booking" db:"truck_type_at_booking"`

	BrokerName          string         `json:"broker_name" db:"broker_name"`
	BrokerEmail         string         `json:"broker_email" db:"broker_email"`
	Origin              Location       `json:"origin" db:"origin"`
	Destination         Location       `json:"destination" db:"destination"`
	PickupWindowStart   *time.Time     `json:"pickup_window_start,omitempty" db:"pickup_window_start"`
	PickupWindowEnd     *time.Time     `json:"pickup_window_end,omitempty" db:"pickup_window_end"`
	DeliveryWindowStart *time.Time     `json:"delivery_window_start,omitempty" db:"delivery_window_start"`
	DeliveryWindowEnd   *time.Time     `json:"delivery_window_end,omitempty" db:"delivery_window_end"`
	WeightLbs           *float64       `json:"weight_lbs,omitempty" db:"weight_lbs"`
	Pieces              *int           `json:"pieces,omitempty" db:"pieces"`
	EquipmentType       string         `json:"equipment_type" db:"equipment_type"`
	ReferenceNumbers    pq.StringArray `json:"reference_numbers" db:"reference_numbers"`

	BookedBy  string    `json:"booked_by" db:"booked_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type BookingResult struct {
	Load          *Load  `json:"load"`
	Match         *Match `json:"match"`
	AlreadyBooked bool   `json:"already_booked,omitempty"`
	Resumed       bool   `json:"resumed,omitempty"`
	// Degraded is set when the booking succeeded but a non-fatal side effect (audit) failed.
	Degraded bool     `json:"degraded,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

type ResumeBookingRequest struct {
	LoadID string `json:"load_id" validate:"required,uuid"`
}
