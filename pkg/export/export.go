package export

import (
	"fmt"
	"strings"
)

// Format identifies an export encoding.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// Dataset defines tabular export content.
type Dataset struct {
	Title   string
	Headers []string
	Rows    []map[string]string
}

// File is a rendered export ready to be streamed to a client.
type File struct {
	Name        string
	ContentType string
	Content     []byte
}

// ParseFormat normalises a query parameter into a Format. Empty means CSV.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// Exporter dispatches datasets to the CSV or PDF renderer.
type Exporter struct {
	csv *CSVExporter
	pdf *PDFExporter
}

// NewExporter wires both renderers.
func NewExporter() *Exporter {
	return &Exporter{csv: NewCSVExporter(), pdf: NewPDFExporter()}
}

// Render encodes data in the requested format; baseName is used for the file name.
func (e *Exporter) Render(format Format, baseName string, data Dataset) (*File, error) {
	switch format {
	case FormatCSV:
		content, err := e.csv.Render(data)
		if err != nil {
			return nil, err
		}
		return &File{Name: baseName + ".csv", ContentType: "text/csv", Content: content}, nil
	case FormatPDF:
		content, err := e.pdf.Render(data, data.Title)
		if err != nil {
			return nil, err
		}
		return &File{Name: baseName + ".pdf", ContentType: "application/pdf", Content: content}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}
