package report

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"triagem/lib/cadastre"

	"github.com/go-pdf/fpdf"
)

const (
	lineHeight  = 6.0
	labelWidth  = 70.0
	imageWidth  = 120.0
	margin      = 12.0
	titleColorR = 31
	titleColorG = 78
	titleColorB = 120
)

type renderer struct {
	pdf   *fpdf.Fpdf
	tr    func(string) string
	width float64
}

func newRenderer() renderer {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	pageWidth, _ := pdf.GetPageSize()
	return renderer{
		pdf:   pdf,
		tr:    pdf.UnicodeTranslatorFromDescriptor(""),
		width: pageWidth - 2*margin,
	}
}

func (r renderer) text(style string, size float64, s string) {
	r.pdf.SetFont("Helvetica", style, size)
	r.pdf.MultiCell(r.width, lineHeight, r.tr(s), "", "L", false)
}

func (r renderer) header(doc Document) {
	r.pdf.SetFont("Helvetica", "B", 18)
	r.pdf.SetTextColor(0, 0, 139)
	r.pdf.CellFormat(r.width, 10, r.tr(doc.Title), "", 1, "C", false, 0, "")
	r.pdf.SetTextColor(0, 0, 0)

	r.pdf.SetFont("Helvetica", "", 11)
	for _, row := range doc.Header {
		r.pdf.CellFormat(r.width, lineHeight, r.tr(row.Label+": "+row.Value), "", 1, "C", false, 0, "")
	}
	r.pdf.Ln(4)
}

func (r renderer) rule() {
	y := r.pdf.GetY()
	r.pdf.SetDrawColor(128, 128, 128)
	r.pdf.Line(margin, y, margin+r.width, y)
	r.pdf.Ln(3)
}

func (r renderer) table(rows []Row) {
	valueWidth := r.width - labelWidth
	for _, row := range rows {
		r.pdf.SetFont("Helvetica", "", 10)
		lines := r.pdf.SplitText(r.tr(row.Value), valueWidth-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		height := float64(len(lines)) * lineHeight

		_, pageHeight := r.pdf.GetPageSize()
		if r.pdf.GetY()+height > pageHeight-margin {
			r.pdf.AddPage()
		}

		x, y := r.pdf.GetXY()
		r.pdf.SetFont("Helvetica", "B", 10)
		r.pdf.CellFormat(labelWidth, height, r.tr(row.Label), "1", 0, "L", false, 0, "")
		r.pdf.SetFont("Helvetica", "", 10)
		r.pdf.SetXY(x+labelWidth, y)
		r.pdf.MultiCell(valueWidth, lineHeight, r.tr(row.Value), "1", "L", false)
		r.pdf.SetXY(x, y+height)
	}
	r.pdf.Ln(2)
}

// embeddable reports whether the file is an image fpdf can decode, a
// broken screenshot is linked but never drawn.
func embeddable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	_, format, err := image.DecodeConfig(f)
	if err != nil {
		return false
	}
	return format == "png" || format == "jpeg"
}

func (r renderer) attachments(section Section) {
	r.pdf.SetFont("Helvetica", "U", 10)
	r.pdf.SetTextColor(0, 0, 255)
	for _, a := range section.Attachments {
		r.pdf.WriteLinkString(lineHeight, r.tr(a.Name), a.Name)
		r.pdf.Ln(lineHeight)

		if section.EmbedImages && a.IsImage() && embeddable(a.Path) {
			r.pdf.ImageOptions(
				a.Path, -1, 0, imageWidth, 0, true,
				fpdf.ImageOptions{ReadDpi: true},
				0, "",
			)
			r.pdf.Ln(2)
		}
	}
	r.pdf.SetTextColor(0, 0, 0)
}

func (r renderer) section(section Section) {
	r.rule()
	r.pdf.SetTextColor(titleColorR, titleColorG, titleColorB)
	r.text("B", 13, section.Title)
	r.pdf.SetTextColor(0, 0, 0)
	r.pdf.Ln(1)

	for _, p := range section.Paragraphs {
		r.text("", 11, p)
	}
	if len(section.Paragraphs) > 0 {
		r.pdf.Ln(2)
	}
	if len(section.Rows) > 0 {
		r.table(section.Rows)
	}
	r.attachments(section)
	r.pdf.Ln(4)
}

// Render writes doc as a PDF to w.
func Render(doc Document, w io.Writer) error {
	r := newRenderer()
	r.pdf.SetCreationDate(doc.Created)
	r.pdf.SetModificationDate(doc.Created)
	r.pdf.SetCatalogSort(true)
	r.pdf.SetTitle(doc.Title, true)
	r.pdf.SetCreator("triagem", true)

	r.pdf.AddPage()
	r.header(doc)
	for _, s := range doc.Sections {
		r.section(s)
	}
	return r.pdf.Output(w)
}

// Assemble renders the report of record to outputPath. Either the whole
// report is written or nothing is left at outputPath.
func Assemble(record *cadastre.AggregatedRecord, outputPath string, opts Options) error {
	doc := Build(record, opts)

	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".report-*.pdf")
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	tmpPath := tmp.Name()

	err = Render(doc, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("render report of %s: %w", record.Index, err)
	}

	err = os.Rename(tmpPath, outputPath)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}
