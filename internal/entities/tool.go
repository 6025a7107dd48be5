package entities

import (
	"fmt"
	"path/filepath"
	"strings"
)

type ToolType string

const (
	ToolPDFToWord       ToolType = "pdf_to_word"
	ToolPDFToExcel      ToolType = "pdf_to_excel"
	ToolPDFToPowerPoint ToolType = "pdf_to_powerpoint"
	ToolPDFToJPG        ToolType = "pdf_to_jpg"
	ToolWordToPDF       ToolType = "word_to_pdf"
	ToolExcelToPDF      ToolType = "excel_to_pdf"
	ToolPowerPointToPDF ToolType = "powerpoint_to_pdf"
	ToolImageToPDF      ToolType = "image_to_pdf"
	ToolHTMLToPDF       ToolType = "html_to_pdf"
	ToolCompressPDF     ToolType = "compress_pdf"
	ToolRepairPDF       ToolType = "repair_pdf"
	ToolSplitPDF        ToolType = "split_pdf"
	ToolRotatePDF       ToolType = "rotate_pdf"
	ToolProtectPDF      ToolType = "protect_pdf"
	ToolUnlockPDF       ToolType = "unlock_pdf"
	ToolWatermarkPDF    ToolType = "watermark_pdf"
)

const (
	CategoryFromPDF  = "convert_from_pdf"
	CategoryToPDF    = "convert_to_pdf"
	CategoryOptimize = "optimize"
	CategoryOrganize = "organize"
	CategorySecurity = "security"
)

const bytesPerMB = 1 << 20

// ToolConfig describes one supported conversion. Immutable at runtime.
type ToolConfig struct {
	Type                   ToolType `json:"type"`
	Name                   string   `json:"name"`
	Description            string   `json:"description"`
	Category               string   `json:"category"`
	InputFormats           []string `json:"inputFormats"`
	OutputFormat           string   `json:"outputFormat"`
	MaxFileSize            int      `json:"maxFileSize"`            // MB
	ProcessingTimeEstimate int      `json:"processingTimeEstimate"` // seconds
}

var catalog = []ToolConfig{
	{ToolPDFToWord, "PDF to Word", "Convert PDF documents into editable Word files", CategoryFromPDF, []string{".pdf"}, ".docx", 50, 15},
	{ToolPDFToExcel, "PDF to Excel", "Extract tables from PDF into Excel spreadsheets", CategoryFromPDF, []string{".pdf"}, ".xlsx", 50, 20},
	{ToolPDFToPowerPoint, "PDF to PowerPoint", "Turn PDF pages into PowerPoint slides", CategoryFromPDF, []string{".pdf"}, ".pptx", 50, 25},
	{ToolPDFToJPG, "PDF to JPG", "Render PDF pages as JPG images", CategoryFromPDF, []string{".pdf"}, ".jpg", 50, 10},
	{ToolWordToPDF, "Word to PDF", "Convert Word documents to PDF", CategoryToPDF, []string{".doc", ".docx"}, ".pdf", 50, 10},
	{ToolExcelToPDF, "Excel to PDF", "Convert Excel spreadsheets to PDF", CategoryToPDF, []string{".xls", ".xlsx"}, ".pdf", 50, 10},
	{ToolPowerPointToPDF, "PowerPoint to PDF", "Convert PowerPoint presentations to PDF", CategoryToPDF, []string{".ppt", ".pptx"}, ".pdf", 50, 15},
	{ToolImageToPDF, "Image to PDF", "Combine JPG or PNG images into a PDF", CategoryToPDF, []string{".jpg", ".jpeg", ".png"}, ".pdf", 25, 5},
	{ToolHTMLToPDF, "HTML to PDF", "Render an HTML page to PDF", CategoryToPDF, []string{".html", ".htm"}, ".pdf", 10, 8},
	{ToolCompressPDF, "Compress PDF", "Reduce PDF file size", CategoryOptimize, []string{".pdf"}, ".pdf", 100, 20},
	{ToolRepairPDF, "Repair PDF", "Recover data from a damaged PDF", CategoryOptimize, []string{".pdf"}, ".pdf", 100, 20},
	{ToolSplitPDF, "Split PDF", "Split a PDF into separate files", CategoryOrganize, []string{".pdf"}, ".zip", 100, 15},
	{ToolRotatePDF, "Rotate PDF", "Rotate PDF pages", CategoryOrganize, []string{".pdf"}, ".pdf", 100, 5},
	{ToolProtectPDF, "Protect PDF", "Encrypt a PDF with a password", CategorySecurity, []string{".pdf"}, ".pdf", 50, 5},
	{ToolUnlockPDF, "Unlock PDF", "Remove password protection from a PDF", CategorySecurity, []string{".pdf"}, ".pdf", 50, 5},
	{ToolWatermarkPDF, "Watermark PDF", "Stamp text over PDF pages", CategorySecurity, []string{".pdf"}, ".pdf", 50, 8},
}

var catalogIndex = func() map[ToolType]int {
	idx := make(map[ToolType]int, len(catalog))
	for i, t := range catalog {
		idx[t.Type] = i
	}
	return idx
}()

// Tools returns the full catalog in display order.
func Tools() []ToolConfig {
	out := make([]ToolConfig, len(catalog))
	for i, t := range catalog {
		out[i] = t.clone()
	}
	return out
}

func LookupTool(t ToolType) (ToolConfig, bool) {
	i, ok := catalogIndex[t]
	if !ok {
		return ToolConfig{}, false
	}
	return catalog[i].clone(), true
}

// ToolsByCategory returns nil for an unknown category.
func ToolsByCategory(category string) []ToolConfig {
	var out []ToolConfig
	for _, t := range catalog {
		if t.Category == category {
			out = append(out, t.clone())
		}
	}
	return out
}

func (t ToolConfig) clone() ToolConfig {
	t.InputFormats = append([]string(nil), t.InputFormats...)
	return t
}

func (t ToolConfig) MaxBytes() int64 {
	return int64(t.MaxFileSize) * bytesPerMB
}

func (t ToolConfig) Accepts(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, f := range t.InputFormats {
		if f == ext {
			return true
		}
	}
	return false
}

// ValidateInput checks an upload against the tool's format and size constraints.
func (t ToolConfig) ValidateInput(filename string, size int64) error {
	if strings.TrimSpace(filename) == "" {
		return &ValidationError{Field: "file", Message: "file is required"}
	}
	if !t.Accepts(filename) {
		return &ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("unsupported file format for %s, accepted: %s", t.Type, strings.Join(t.InputFormats, ", ")),
		}
	}
	if size <= 0 {
		return &ValidationError{Field: "file", Message: "file is empty"}
	}
	if size > t.MaxBytes() {
		return &ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("file exceeds the %dMB limit for %s", t.MaxFileSize, t.Type),
		}
	}
	return nil
}
