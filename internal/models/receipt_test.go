package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestCanIssueReceipt(t *testing.T) {
	cases := []struct {
		name string
		decl *Declaration
		want bool
	}{
		{"nil declaration", nil, false},
		{"pending without receipt", &Declaration{Status: StatusPending}, true},
		{"rejected never gets a receipt", &Declaration{Status: StatusRejected}, false},
		{"processed with receipt", &Declaration{Status: StatusProcessed, ReceiptNumber: strPtr("REC-20240101-000")}, false},
		{"pending with receipt already issued", &Declaration{Status: StatusPending, ReceiptNumber: strPtr("REC-20240101-001")}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanIssueReceipt(tc.decl))
			// stable across repeated calls on the same value
			assert.Equal(t, tc.want, CanIssueReceipt(tc.decl))
		})
	}
}

func TestBuildReceiptPayloadObjectDeclaration(t *testing.T) {
	birth := time.Date(1990, 5, 12, 0, 0, 0, 0, time.UTC)
	issued := time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)
	decl := &Declaration{
		Type:            DeclarationObject,
		DeclarationDate: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		Location:        "Marché de Cocody",
		Status:          StatusProcessed,
		ReceiptNumber:   strPtr("REC-20250203-042"),
		ReceiptDate:     &issued,
		ObjectDetails: &ObjectDetails{
			Category:     "Documents",
			Name:         "Carte nationale d'identité",
			SerialNumber: "CI-0042",
		},
		Declarant: &User{
			FirstName:  "Awa",
			LastName:   "Koné",
			BirthDate:  &birth,
			Profession: "Commerçante",
		},
		Commissariat: &Commissariat{Name: "Commissariat du Plateau", City: "Abidjan"},
		Agent:        &User{FirstName: "Jean", LastName: "Kouassi"},
	}

	payload := BuildReceiptPayload(decl)

	assert.Equal(t, "REC-20250203-042", payload.Number)
	assert.Equal(t, issued, payload.IssuedAt)
	assert.Equal(t, "Awa Koné", payload.Declarant.FullName)
	assert.Equal(t, "12/05/1990", payload.Declarant.BirthDate)
	assert.Equal(t, "Commerçante", payload.Declarant.Profession)
	assert.Equal(t, UnspecifiedF, payload.Declarant.Address)
	assert.Equal(t, "Commissariat du Plateau", payload.Commissariat.Name)
	assert.Equal(t, "Jean Kouassi", payload.AgentName)

	require.NotEmpty(t, payload.Narrative)
	assert.Equal(t, "Nature de l'objet perdu", payload.Narrative[0].Label)
	assert.Equal(t, "Documents", payload.Narrative[0].Value)
}

func TestBuildReceiptPayloadTotalOverMissingFields(t *testing.T) {
	// A declaration with every optional field absent must not panic and
	// must produce explicit sentinels everywhere.
	payload := BuildReceiptPayload(&Declaration{Type: DeclarationPerson})

	assert.Equal(t, UnspecifiedM, payload.Declarant.FullName)
	assert.Equal(t, UnspecifiedF, payload.Declarant.BirthDate)
	assert.Equal(t, UnspecifiedM, payload.Declarant.Phone)
	assert.Equal(t, UnspecifiedM, payload.Commissariat.Name)
	assert.Equal(t, UnspecifiedM, payload.AgentName)
	assert.Equal(t, UnspecifiedM, payload.Location)

	require.NotEmpty(t, payload.Narrative)
	for _, line := range payload.Narrative {
		assert.NotEmpty(t, line.Label)
		assert.NotEmpty(t, line.Value)
	}
}

func TestBuildReceiptPayloadPersonLastSeenFallsBackToLocation(t *testing.T) {
	payload := BuildReceiptPayload(&Declaration{
		Type:          DeclarationPerson,
		Location:      "Yopougon",
		PersonDetails: &PersonDetails{FirstName: "Ibrahim", LastName: "Traoré"},
	})

	last := payload.Narrative[len(payload.Narrative)-1]
	assert.Equal(t, "Dernier lieu vu", last.Label)
	assert.Equal(t, "Yopougon", last.Value)
}
