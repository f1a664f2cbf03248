package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleCustomer   Role = "customer"
	RolePharmacist Role = "pharmacist"
	RoleRegulator  Role = "regulator"
)

const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
)

// Principal is the authenticated caller as supplied by the identity provider.
type Principal struct {
	ID             int64  `json:"id"`
	Role           Role   `json:"role"`
	ApprovalStatus string `json:"approval_status"`
}

type User struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone,omitempty"`
	Role           Role      `json:"role"`
	ApprovalStatus string    `json:"approval_status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Version        int       `json:"version"`
}

// InventoryLot is a pharmacist-owned stock record for one medicine.
type InventoryLot struct {
	ID           int64           `json:"id"`
	PharmacistID int64           `json:"pharmacist_id"`
	MedicineName string          `json:"medicine_name"`
	DosageForm   string          `json:"dosage_form,omitempty"`
	Strength     string          `json:"strength,omitempty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int             `json:"quantity"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Version      int             `json:"version"`
}

type LotSnapshot struct {
	LotID        int64
	Quantity     int
	UnitPrice    decimal.Decimal
	MedicineName string
	OwnerID      int64
}

type Order struct {
	ID              int64      `json:"id"`
	OrderNumber     string     `json:"order_number"`
	CustomerID      int64      `json:"customer_id"`
	LotID           int64      `json:"lot_id"`
	PrescriptionRef *string    `json:"prescription_ref,omitempty"`
	PharmacyRef     *string    `json:"pharmacy_ref,omitempty"`
	Quantity        int        `json:"quantity"`
	DeliveryName    string     `json:"delivery_name"`
	DeliveryAddress string     `json:"delivery_address"`
	DeliveryContact string     `json:"delivery_contact"`
	Status          string     `json:"status"`
	PlacedAt        time.Time  `json:"placed_at"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	DecidedBy       *int64     `json:"decided_by,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Version         int        `json:"version"`

	// Joined from the referenced lot.
	MedicineName string          `json:"medicine_name"`
	PharmacistID int64           `json:"pharmacist_id"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Total        decimal.Decimal `json:"total"`
}

// ComputeTotal sets Total to quantity × unit price.
func (o *Order) ComputeTotal() {
	o.Total = o.UnitPrice.Mul(decimal.NewFromInt(int64(o.Quantity)))
}

type Notification struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Type      string     `json:"type"`
	OrderID   *int64     `json:"order_id,omitempty"`
	IsRead    bool       `json:"is_read"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

const (
	OrderStatusPending  = "pending"
	OrderStatusApproved = "approved"
	OrderStatusRejected = "rejected"
)

const NotificationTypeOrder = "order"
