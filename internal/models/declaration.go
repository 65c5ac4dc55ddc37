package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DeclarationType distinguishes lost-object reports from missing-person reports.
type DeclarationType string

const (
	DeclarationObject DeclarationType = "object"
	DeclarationPerson DeclarationType = "person"
)

// Known reports whether the type is one of the declared constants.
func (t DeclarationType) Known() bool {
	return t == DeclarationObject || t == DeclarationPerson
}

// DeclarationStatus captures the lifecycle state of a declaration.
type DeclarationStatus string

const (
	StatusPending   DeclarationStatus = "pending"
	StatusProcessed DeclarationStatus = "processed"
	StatusRejected  DeclarationStatus = "rejected"
)

// statusTransitions is the authoritative transition table. Processed and
// rejected are terminal; there is no re-open path.
var statusTransitions = map[DeclarationStatus][]DeclarationStatus{
	StatusPending: {StatusProcessed, StatusRejected},
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
func (s DeclarationStatus) CanTransitionTo(next DeclarationStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further status transition is possible.
func (s DeclarationStatus) Terminal() bool {
	return len(statusTransitions[s]) == 0
}

// Deletable reports whether the owning citizen may remove the declaration.
// Pending declarations may be withdrawn; rejected ones may be cleaned up.
func (s DeclarationStatus) Deletable() bool {
	return s == StatusPending || s == StatusRejected
}

// Known reports whether the status is one of the declared constants.
func (s DeclarationStatus) Known() bool {
	switch s {
	case StatusPending, StatusProcessed, StatusRejected:
		return true
	}
	return false
}

// ObjectDetails is the type-specific payload for lost-object declarations.
type ObjectDetails struct {
	Category     string `json:"objectCategory"`
	Name         string `json:"objectName"`
	Brand        string `json:"objectBrand,omitempty"`
	Color        string `json:"color,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
}

// PersonDetails is the type-specific payload for missing-person declarations.
type PersonDetails struct {
	FirstName           string     `json:"firstName"`
	LastName            string     `json:"lastName"`
	BirthDate           *time.Time `json:"dateOfBirth,omitempty"`
	Gender              string     `json:"gender,omitempty"`
	HeightCm            int        `json:"height,omitempty"`
	WeightKg            int        `json:"weight,omitempty"`
	ClothingDescription string     `json:"clothingDescription,omitempty"`
	DistinguishingMarks string     `json:"distinguishingMarks,omitempty"`
	LastSeenLocation    string     `json:"lastSeenLocation,omitempty"`
}

// Value implements driver.Valuer for JSONB storage.
func (d ObjectDetails) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan implements sql.Scanner for JSONB storage.
func (d *ObjectDetails) Scan(src interface{}) error {
	return scanJSON(src, d)
}

// Value implements driver.Valuer for JSONB storage.
func (d PersonDetails) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan implements sql.Scanner for JSONB storage.
func (d *PersonDetails) Scan(src interface{}) error {
	return scanJSON(src, d)
}

func scanJSON(src, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
}

// Declaration is a citizen-filed lost-item or missing-person report.
//
// Invariants maintained by the service layer:
//   - RejectReason is set iff Status == rejected.
//   - ReceiptNumber, ReceiptDate and ProcessedAt are set iff Status == processed.
//   - Exactly one of ObjectDetails/PersonDetails is populated, matching Type.
//   - CommissariatID never changes after creation.
type Declaration struct {
	ID              string            `db:"id" json:"id"`
	UserID          string            `db:"user_id" json:"userId"`
	Type            DeclarationType   `db:"declaration_type" json:"declarationType"`
	DeclarationDate time.Time         `db:"declaration_date" json:"declarationDate"`
	Location        string            `db:"location" json:"location"`
	Description     string            `db:"description" json:"description"`
	Status          DeclarationStatus `db:"status" json:"status"`
	ObjectDetails   *ObjectDetails    `db:"object_details" json:"objectDetails,omitempty"`
	PersonDetails   *PersonDetails    `db:"person_details" json:"personDetails,omitempty"`
	Photos          pq.StringArray    `db:"photos" json:"photos"`
	CommissariatID  string            `db:"commissariat_id" json:"commissariatId"`
	AgentID         *string           `db:"agent_id" json:"agentAssigned,omitempty"`
	RejectReason    *string           `db:"reject_reason" json:"rejectReason,omitempty"`
	ReceiptNumber   *string           `db:"receipt_number" json:"receiptNumber,omitempty"`
	ReceiptDate     *time.Time        `db:"receipt_date" json:"receiptDate,omitempty"`
	ProcessedAt     *time.Time        `db:"processed_at" json:"processedAt,omitempty"`
	CreatedAt       time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updatedAt"`

	// Declarant and Commissariat are joined for agent-facing views and for
	// receipt payload assembly. Not persisted on the declarations table.
	Declarant    *User         `db:"-" json:"user,omitempty"`
	Commissariat *Commissariat `db:"-" json:"commissariat,omitempty"`
	Agent        *User         `db:"-" json:"agent,omitempty"`
}

// HasReceipt reports whether a receipt identifier was already issued.
func (d *Declaration) HasReceipt() bool {
	return d.ReceiptNumber != nil && *d.ReceiptNumber != ""
}

// DeclarationFilter constrains listing queries.
type DeclarationFilter struct {
	UserID         string
	CommissariatID string
	Status         *DeclarationStatus
	Type           *DeclarationType
	Page           int
	PageSize       int
}
