package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Certificate holds the fields printed on a course completion certificate.
type Certificate struct {
	ID           string
	StudentName  string
	CourseTitle  string
	EducatorName string
	CompletedAt  time.Time
	IssuedAt     time.Time
}

// CertificateRenderer renders completion certificates as landscape A4 PDFs.
type CertificateRenderer struct {
	issuer string
}

// NewCertificateRenderer constructs a renderer; issuer is printed in the footer.
func NewCertificateRenderer(issuer string) *CertificateRenderer {
	if issuer == "" {
		issuer = "LMS"
	}
	return &CertificateRenderer{issuer: issuer}
}

// Render creates the certificate document.
func (r *CertificateRenderer) Render(cert Certificate) ([]byte, error) {
	if cert.ID == "" || cert.StudentName == "" || cert.CourseTitle == "" {
		return nil, fmt.Errorf("certificate requires id, student and course")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetDrawColor(79, 70, 229)
	pdf.SetLineWidth(1.5)
	pdf.Rect(10, 10, 277, 190, "D")

	pdf.SetY(35)
	pdf.SetFont("Helvetica", "B", 30)
	pdf.SetTextColor(79, 70, 229)
	pdf.CellFormat(0, 14, "Certificate of Completion", "", 1, "C", false, 0, "")

	pdf.Ln(8)
	pdf.SetTextColor(60, 60, 60)
	pdf.SetFont("Helvetica", "", 14)
	pdf.CellFormat(0, 8, "This certifies that", "", 1, "C", false, 0, "")

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 26)
	pdf.SetTextColor(20, 20, 20)
	pdf.CellFormat(0, 14, tr(cert.StudentName), "", 1, "C", false, 0, "")

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "", 14)
	pdf.SetTextColor(60, 60, 60)
	pdf.CellFormat(0, 8, "has successfully completed the course", "", 1, "C", false, 0, "")

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 20)
	pdf.MultiCell(0, 10, tr(cert.CourseTitle), "", "C", false)

	if cert.EducatorName != "" {
		pdf.Ln(2)
		pdf.SetFont("Helvetica", "I", 12)
		pdf.CellFormat(0, 8, tr("Instructor: "+cert.EducatorName), "", 1, "C", false, 0, "")
	}

	completed := cert.CompletedAt
	if completed.IsZero() {
		completed = cert.IssuedAt
	}
	pdf.SetY(165)
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(128, 6, "Completed on "+completed.UTC().Format("January 2, 2006"), "", 0, "L", false, 0, "")
	pdf.CellFormat(129, 6, "Certificate ID: "+cert.ID, "", 1, "R", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(120, 120, 120)
	pdf.CellFormat(0, 6, tr("Issued by "+r.issuer), "", 1, "C", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}
	return buf.Bytes(), nil
}
