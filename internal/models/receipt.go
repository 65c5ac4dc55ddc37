package models

import (
	"strconv"
	"time"
)

// Fallback sentinels used when an optional declarant field is absent. The
// receipt is an official artifact; blanks are spelled out rather than empty.
const (
	UnspecifiedM = "Non spécifié"
	UnspecifiedF = "Non spécifiée"
)

// CanIssueReceipt decides whether receipt issuance is offered for the
// declaration. Rejected declarations never get a receipt, and issuance is
// one-shot: once a number exists the path becomes read-only.
func CanIssueReceipt(d *Declaration) bool {
	if d == nil {
		return false
	}
	return d.Status != StatusRejected && !d.HasReceipt()
}

// ReceiptDeclarant is the declarant identity block of a receipt.
type ReceiptDeclarant struct {
	FullName   string `json:"fullName"`
	BirthDate  string `json:"birthDate"`
	BirthPlace string `json:"birthPlace"`
	Profession string `json:"profession"`
	Address    string `json:"address"`
	Phone      string `json:"phone"`
}

// ReceiptCommissariat is the issuing-station identity block of a receipt.
type ReceiptCommissariat struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	City    string `json:"city"`
}

// ReceiptPayload carries every structured field a receipt artifact needs.
// Rendering (PDF or otherwise) is a separate concern.
type ReceiptPayload struct {
	Number          string              `json:"number"`
	IssuedAt        time.Time           `json:"issuedAt"`
	Declarant       ReceiptDeclarant    `json:"declarant"`
	Commissariat    ReceiptCommissariat `json:"commissariat"`
	AgentName       string              `json:"agentName"`
	DeclarationType DeclarationType     `json:"declarationType"`
	DeclarationDate time.Time           `json:"declarationDate"`
	Location        string              `json:"location"`
	Narrative       []ReceiptLine       `json:"narrative"`
}

// ReceiptLine is one labelled row of the type-specific narrative block.
type ReceiptLine struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// BuildReceiptPayload assembles the receipt payload for a declaration. It is
// pure and total over valid declarations: every optional field falls back to
// an explicit sentinel, and missing joined entities never panic.
func BuildReceiptPayload(d *Declaration) ReceiptPayload {
	payload := ReceiptPayload{
		DeclarationType: d.Type,
		DeclarationDate: d.DeclarationDate,
		Location:        fallback(d.Location, UnspecifiedM),
	}

	if d.ReceiptNumber != nil {
		payload.Number = *d.ReceiptNumber
	}
	if d.ReceiptDate != nil {
		payload.IssuedAt = *d.ReceiptDate
	}

	payload.Declarant = declarantBlock(d.Declarant)
	payload.Commissariat = commissariatBlock(d.Commissariat)

	payload.AgentName = UnspecifiedM
	if d.Agent != nil && d.Agent.FullName() != "" {
		payload.AgentName = d.Agent.FullName()
	}

	switch d.Type {
	case DeclarationPerson:
		payload.Narrative = personNarrative(d)
	default:
		payload.Narrative = objectNarrative(d)
	}

	return payload
}

func declarantBlock(u *User) ReceiptDeclarant {
	block := ReceiptDeclarant{
		FullName:   UnspecifiedM,
		BirthDate:  UnspecifiedF,
		BirthPlace: UnspecifiedM,
		Profession: UnspecifiedF,
		Address:    UnspecifiedF,
		Phone:      UnspecifiedM,
	}
	if u == nil {
		return block
	}
	if name := u.FullName(); name != "" {
		block.FullName = name
	}
	if u.BirthDate != nil {
		block.BirthDate = u.BirthDate.Format("02/01/2006")
	}
	block.BirthPlace = fallback(u.BirthPlace, UnspecifiedM)
	block.Profession = fallback(u.Profession, UnspecifiedF)
	block.Address = fallback(u.Address, UnspecifiedF)
	block.Phone = fallback(u.Phone, UnspecifiedM)
	return block
}

func commissariatBlock(c *Commissariat) ReceiptCommissariat {
	if c == nil {
		return ReceiptCommissariat{
			Name:    UnspecifiedM,
			Address: UnspecifiedF,
			City:    UnspecifiedF,
		}
	}
	return ReceiptCommissariat{
		Name:    fallback(c.Name, UnspecifiedM),
		Address: fallback(c.Address, UnspecifiedF),
		City:    fallback(c.City, UnspecifiedF),
	}
}

func objectNarrative(d *Declaration) []ReceiptLine {
	details := d.ObjectDetails
	if details == nil {
		details = &ObjectDetails{}
	}
	lines := []ReceiptLine{
		{Label: "Nature de l'objet perdu", Value: fallback(details.Category, UnspecifiedF)},
		{Label: "Nom de l'objet", Value: fallback(details.Name, UnspecifiedM)},
	}
	if details.Brand != "" {
		lines = append(lines, ReceiptLine{Label: "Marque", Value: details.Brand})
	}
	if details.Color != "" {
		lines = append(lines, ReceiptLine{Label: "Couleur", Value: details.Color})
	}
	if details.SerialNumber != "" {
		lines = append(lines, ReceiptLine{Label: "Numéro de série", Value: details.SerialNumber})
	}
	return lines
}

func personNarrative(d *Declaration) []ReceiptLine {
	details := d.PersonDetails
	if details == nil {
		details = &PersonDetails{}
	}
	lines := []ReceiptLine{
		{Label: "Nom", Value: fallback(details.LastName, UnspecifiedM)},
		{Label: "Prénom", Value: fallback(details.FirstName, UnspecifiedM)},
	}
	if details.BirthDate != nil {
		lines = append(lines, ReceiptLine{Label: "Date de naissance", Value: details.BirthDate.Format("02/01/2006")})
	} else {
		lines = append(lines, ReceiptLine{Label: "Date de naissance", Value: UnspecifiedF})
	}
	if details.Gender != "" {
		lines = append(lines, ReceiptLine{Label: "Genre", Value: details.Gender})
	}
	if details.HeightCm > 0 {
		lines = append(lines, ReceiptLine{Label: "Taille", Value: strconv.Itoa(details.HeightCm) + " cm"})
	}
	if details.WeightKg > 0 {
		lines = append(lines, ReceiptLine{Label: "Poids", Value: strconv.Itoa(details.WeightKg) + " kg"})
	}
	if details.ClothingDescription != "" {
		lines = append(lines, ReceiptLine{Label: "Description des vêtements", Value: details.ClothingDescription})
	}
	if details.DistinguishingMarks != "" {
		lines = append(lines, ReceiptLine{Label: "Signes particuliers", Value: details.DistinguishingMarks})
	}
	lastSeen := details.LastSeenLocation
	if lastSeen == "" {
		lastSeen = d.Location
	}
	lines = append(lines, ReceiptLine{Label: "Dernier lieu vu", Value: fallback(lastSeen, UnspecifiedM)})
	return lines
}

func fallback(value, sentinel string) string {
	if value == "" {
		return sentinel
	}
	return value
}
