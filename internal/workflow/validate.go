package workflow

import (
	"strings"
	"unicode/utf8"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/models"
	"github.com/shopspring/decimal"
)

const (
	maxNameLength      = 255
	maxAddressLength   = 1000
	maxContactLength   = 100
	maxReferenceLength = 1024
	maxReasonLength    = 500
	maxLotFieldLength  = 100

	defaultPageSize = 20
	maxPageSize     = 100
)

type PlaceOrderRequest struct {
	LotID           int64   `json:"lot_id"`
	Quantity        int     `json:"quantity"`
	PrescriptionRef *string `json:"prescription_ref,omitempty"`
	PharmacyRef     *string `json:"pharmacy_ref,omitempty"`
	DeliveryName    string  `json:"delivery_name"`
	DeliveryAddress string  `json:"delivery_address"`
	DeliveryContact string  `json:"delivery_contact"`
}

// normalize trims every text field and drops blank document references.
func (r *PlaceOrderRequest) normalize() {
	r.DeliveryName = strings.TrimSpace(r.DeliveryName)
	r.DeliveryAddress = strings.TrimSpace(r.DeliveryAddress)
	r.DeliveryContact = strings.TrimSpace(r.DeliveryContact)
	r.PrescriptionRef = trimRef(r.PrescriptionRef)
	r.PharmacyRef = trimRef(r.PharmacyRef)
}

func (r *PlaceOrderRequest) validate() error {
	if r.LotID <= 0 {
		return &ValidationError{Field: "lot_id", Reason: "is required"}
	}
	if r.Quantity < 1 {
		return &ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	if err := requireText("delivery_name", r.DeliveryName, maxNameLength); err != nil {
		return err
	}
	if err := requireText("delivery_address", r.DeliveryAddress, maxAddressLength); err != nil {
		return err
	}
	if err := requireText("delivery_contact", r.DeliveryContact, maxContactLength); err != nil {
		return err
	}
	if r.PrescriptionRef != nil && utf8.RuneCountInString(*r.PrescriptionRef) > maxReferenceLength {
		return &ValidationError{Field: "prescription_ref", Reason: "is too long"}
	}
	if r.PharmacyRef != nil && utf8.RuneCountInString(*r.PharmacyRef) > maxReferenceLength {
		return &ValidationError{Field: "pharmacy_ref", Reason: "is too long"}
	}
	return nil
}

func normalizeReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if err := requireText("reason", reason, maxReasonLength); err != nil {
		return "", err
	}
	return reason, nil
}

type CreateLotRequest struct {
	MedicineName string          `json:"medicine_name"`
	DosageForm   string          `json:"dosage_form"`
	Strength     string          `json:"strength"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int             `json:"quantity"`
}

func (r *CreateLotRequest) validate() error {
	details := UpdateLotRequest{
		MedicineName: r.MedicineName,
		DosageForm:   r.DosageForm,
		Strength:     r.Strength,
		UnitPrice:    r.UnitPrice,
	}
	if err := details.validate(); err != nil {
		return err
	}
	r.MedicineName, r.DosageForm, r.Strength = details.MedicineName, details.DosageForm, details.Strength
	if r.Quantity < 0 {
		return &ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	return nil
}

type UpdateLotRequest struct {
	MedicineName string          `json:"medicine_name"`
	DosageForm   string          `json:"dosage_form"`
	Strength     string          `json:"strength"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

func (r *UpdateLotRequest) validate() error {
	r.MedicineName = strings.TrimSpace(r.MedicineName)
	r.DosageForm = strings.TrimSpace(r.DosageForm)
	r.Strength = strings.TrimSpace(r.Strength)

	if err := requireText("medicine_name", r.MedicineName, maxNameLength); err != nil {
		return err
	}
	if utf8.RuneCountInString(r.DosageForm) > maxLotFieldLength {
		return &ValidationError{Field: "dosage_form", Reason: "is too long"}
	}
	if utf8.RuneCountInString(r.Strength) > maxLotFieldLength {
		return &ValidationError{Field: "strength", Reason: "is too long"}
	}
	if r.UnitPrice.IsNegative() {
		return &ValidationError{Field: "unit_price", Reason: "must not be negative"}
	}
	if !r.UnitPrice.Equal(r.UnitPrice.Round(2)) {
		return &ValidationError{Field: "unit_price", Reason: "must have at most 2 decimal places"}
	}
	return nil
}

type ListOrdersRequest struct {
	Cursor string
	Limit  int
	Status string
}

func (r *ListOrdersRequest) validate() error {
	switch r.Status {
	case "", models.OrderStatusPending, models.OrderStatusApproved, models.OrderStatusRejected:
	default:
		return &ValidationError{Field: "status", Reason: "must be pending, approved or rejected"}
	}
	r.Limit = clampPageSize(r.Limit)
	return nil
}

func requireText(field, value string, max int) error {
	if value == "" {
		return &ValidationError{Field: field, Reason: "is required"}
	}
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{Field: field, Reason: "is too long"}
	}
	return nil
}

func trimRef(ref *string) *string {
	if ref == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*ref)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func clampPageSize(size int) int {
	if size < 1 {
		return defaultPageSize
	}
	if size > maxPageSize {
		return maxPageSize
	}
	return size
}

func clampPage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}
