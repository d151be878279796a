package invoice

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/josh-kwaku/servicehub/internal/domain"
)

// PDFRenderer lays out a single-page invoice. Output depends only on the
// invoice and booking, so re-rendering produces the same document.
type PDFRenderer struct {
	Issuer string
}

func NewPDFRenderer(issuer string) *PDFRenderer {
	return &PDFRenderer{Issuer: issuer}
}

func (r *PDFRenderer) Render(inv *domain.Invoice, b *domain.Booking) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(inv.IssuedAt)
	pdf.SetModificationDate(inv.IssuedAt)
	pdf.SetTitle("Invoice "+inv.ID.String(), false)
	pdf.SetAuthor(r.Issuer, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 12, r.Issuer, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 8, "Invoice", "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 10)
	rows := [][2]string{
		{"Invoice", inv.ID.String()},
		{"Issued", inv.IssuedAt.UTC().Format("2006-01-02 15:04 MST")},
		{"Booking", b.ID.String()},
		{"Service", b.ServiceID.String()},
		{"Customer", b.CustomerID.String()},
		{"Provider", b.ProviderID.String()},
		{"Scheduled", b.ScheduledTime.UTC().Format("2006-01-02 15:04 MST")},
		{"Payment", inv.PaymentID.String()},
	}
	for _, row := range rows {
		pdf.CellFormat(40, 7, row[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 7, row[1], "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	money := func(label string, amount string, bold bool) {
		style := ""
		if bold {
			style = "B"
		}
		pdf.SetFont("Helvetica", style, 11)
		pdf.CellFormat(120, 8, label, "T", 0, "L", false, 0, "")
		pdf.CellFormat(0, 8, amount+" "+string(inv.Currency), "T", 1, "R", false, 0, "")
	}
	money("Subtotal", inv.Subtotal.StringFixed(2), false)
	money("Fees", inv.FeeAmount.StringFixed(2), false)
	money("Total", inv.TotalAmount.StringFixed(2), true)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("Render: %w", err)
	}
	return buf.Bytes(), nil
}
