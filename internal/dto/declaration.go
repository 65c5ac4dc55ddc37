package dto

import (
	"time"

	"github.com/abidjan-digital/declaration-api/internal/models"
)

// CreateDeclarationRequest carries the multipart form fields of a new
// declaration. The type-specific details arrive as a JSON-encoded blob; photo
// files are bound separately by the handler.
type CreateDeclarationRequest struct {
	Type            models.DeclarationType `form:"declarationType" validate:"required"`
	DeclarationDate time.Time              `form:"declarationDate" time_format:"2006-01-02" validate:"required"`
	Location        string                 `form:"location" validate:"required"`
	Description     string                 `form:"description" validate:"required"`
	CommissariatID  string                 `form:"commissariatId" validate:"required"`
	ObjectDetails   string                 `form:"objectDetails"`
	PersonDetails   string                 `form:"personDetails"`
}

// UpdateStatusRequest carries a status transition. The reason is mandatory
// for rejections and forbidden otherwise.
type UpdateStatusRequest struct {
	Status       models.DeclarationStatus `json:"status" validate:"required"`
	RejectReason string                   `json:"rejectReason,omitempty"`
}

// UpdateDeclarationRequest mirrors the general update path used by agents to
// record receipt fields outside the issuance flow.
type UpdateDeclarationRequest struct {
	ReceiptNumber *string    `json:"receiptNumber,omitempty"`
	ReceiptDate   *time.Time `json:"receiptDate,omitempty"`
	AgentID       *string    `json:"agentAssigned,omitempty"`
}

// ReceiptIssueResponse returns the issued receipt reference alongside a
// signed, time-limited download token for the rendered artifact.
type ReceiptIssueResponse struct {
	DeclarationID string    `json:"declarationId"`
	ReceiptNumber string    `json:"receiptNumber"`
	ReceiptDate   time.Time `json:"receiptDate"`
	DownloadToken string    `json:"downloadToken"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// PendingCountResponse is the agent notification counter payload.
type PendingCountResponse struct {
	CommissariatID string `json:"commissariatId"`
	Pending        int    `json:"pending"`
}
