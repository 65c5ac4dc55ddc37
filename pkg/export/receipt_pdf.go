package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"github.com/abidjan-digital/declaration-api/internal/models"
)

// ReceiptRenderer renders a receipt payload into an official-looking PDF
// document. The layout mirrors the paper receipts issued at commissariats.
type ReceiptRenderer struct{}

// NewReceiptRenderer constructs a ReceiptRenderer.
func NewReceiptRenderer() *ReceiptRenderer {
	return &ReceiptRenderer{}
}

// Render produces the PDF bytes for a receipt payload.
func (r *ReceiptRenderer) Render(payload models.ReceiptPayload) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 6, tr("RÉPUBLIQUE DE CÔTE D'IVOIRE"), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 5, tr("Union – Discipline – Travail"), "", 1, "C", false, 0, "")
	pdf.Ln(2)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(0, 5, tr("MINISTÈRE DE L'INTÉRIEUR ET DE LA SÉCURITÉ"), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 5, tr(payload.Commissariat.Name), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 5, tr(payload.Commissariat.Address+" – "+payload.Commissariat.City), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 13)
	pdf.CellFormat(0, 8, tr(r.title(payload.DeclarationType)), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(0, 6, tr("N° "+payload.Number), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 10)
	issuedAt := payload.IssuedAt.Format("02/01/2006")
	intro := fmt.Sprintf(
		"Il est délivré le présent récépissé à la personne ci-après désignée, suite à sa déclaration enregistrée le %s à %s.",
		payload.DeclarationDate.Format("02/01/2006"), payload.Location)
	pdf.MultiCell(0, 5, tr(intro), "", "L", false)
	pdf.Ln(4)

	r.section(pdf, tr, "LE DÉCLARANT")
	r.row(pdf, tr, "Nom et prénoms", payload.Declarant.FullName)
	r.row(pdf, tr, "Date de naissance", payload.Declarant.BirthDate)
	r.row(pdf, tr, "Lieu de naissance", payload.Declarant.BirthPlace)
	r.row(pdf, tr, "Profession", payload.Declarant.Profession)
	r.row(pdf, tr, "Adresse", payload.Declarant.Address)
	r.row(pdf, tr, "Téléphone", payload.Declarant.Phone)
	pdf.Ln(4)

	r.section(pdf, tr, r.narrativeTitle(payload.DeclarationType))
	for _, line := range payload.Narrative {
		r.row(pdf, tr, line.Label, line.Value)
	}
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 5, tr(fmt.Sprintf("Fait à %s, le %s", payload.Commissariat.City, issuedAt)), "", 1, "R", false, 0, "")
	pdf.Ln(6)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(0, 5, tr("L'agent"), "", 1, "R", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 5, tr(payload.AgentName), "", 1, "R", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render receipt pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *ReceiptRenderer) title(t models.DeclarationType) string {
	if t == models.DeclarationPerson {
		return "RÉCÉPISSÉ DE DÉCLARATION DE DISPARITION"
	}
	return "RÉCÉPISSÉ DE DÉCLARATION DE PERTE"
}

func (r *ReceiptRenderer) narrativeTitle(t models.DeclarationType) string {
	if t == models.DeclarationPerson {
		return "LA PERSONNE DISPARUE"
	}
	return "L'OBJET DÉCLARÉ PERDU"
}

func (r *ReceiptRenderer) section(pdf *gofpdf.Fpdf, tr func(string) string, title string) {
	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	pdf.CellFormat(0, 7, tr(title), "1", 1, "L", true, 0, "")
}

func (r *ReceiptRenderer) row(pdf *gofpdf.Fpdf, tr func(string) string, label, value string) {
	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(60, 6, tr(label), "1", 0, "L", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(0, 6, tr(value), "1", 1, "L", false, 0, "")
}
