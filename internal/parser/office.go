package parser

import (
	"archive/zip"
	"fmt"
	"html"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"multimodal-rag/internal/models"

	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var (
	docxTextRe  = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	pptxTextRe  = regexp.MustCompile(`<a:t>([^<]*)</a:t>`)
	slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

// parseDOCX returns the whole document as one record, one line per paragraph.
func parseDOCX(path string) ([]models.PageRecord, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := r.Editable().GetContent()
	var paragraphs []string
	for _, p := range strings.Split(content, "</w:p>") {
		var line strings.Builder
		for _, m := range docxTextRe.FindAllStringSubmatch(p, -1) {
			line.WriteString(html.UnescapeString(m[1]))
		}
		if s := strings.TrimSpace(line.String()); s != "" {
			paragraphs = append(paragraphs, s)
		}
	}
	if len(paragraphs) == 0 {
		return nil, nil
	}
	return []models.PageRecord{{PageNumber: 0, Text: strings.Join(paragraphs, "\n")}}, nil
}

// parsePPTX returns one record per slide in slide order.
func parsePPTX(path string) ([]models.PageRecord, error) {
	f, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type slide struct {
		num  int
		text string
	}
	var slides []slide
	for _, file := range f.File {
		m := slideNameRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", file.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file.Name, err)
		}
		var parts []string
		for _, m := range pptxTextRe.FindAllStringSubmatch(string(data), -1) {
			parts = append(parts, html.UnescapeString(m[1]))
		}
		slides = append(slides, slide{num: num, text: strings.Join(parts, " ")})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var pages []models.PageRecord
	for _, s := range slides {
		if strings.TrimSpace(s.text) == "" {
			continue
		}
		pages = append(pages, models.PageRecord{PageNumber: s.num - 1, Text: s.text})
	}
	return pages, nil
}

// parseXLSX returns one record per sheet, cells separated by tabs.
func parseXLSX(path string) ([]models.PageRecord, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, err
	}

	var pages []models.PageRecord
	for i, sheet := range f.Sheets {
		rows := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		if p, ok := sheetRecord(i, sheet.Name, rows); ok {
			pages = append(pages, p)
		}
	}
	return pages, nil
}

// parseExcelize covers the macro-enabled and template workbook formats.
func parseExcelize(path string) ([]models.PageRecord, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []models.PageRecord
	for i, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", name, err)
		}
		if p, ok := sheetRecord(i, name, rows); ok {
			pages = append(pages, p)
		}
	}
	return pages, nil
}

func sheetRecord(index int, name string, rows [][]string) (models.PageRecord, bool) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Sheet: %s\n", name)
	empty := true
	for _, row := range rows {
		line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
		if line == "" {
			continue
		}
		empty = false
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	if empty {
		return models.PageRecord{}, false
	}
	return models.PageRecord{PageNumber: index, Text: strings.TrimRight(sb.String(), "\n")}, true
}

func parseMarkdown(path string) ([]models.PageRecord, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	plain := markdownToText(src)
	if strings.TrimSpace(plain) == "" {
		return nil, nil
	}
	return []models.PageRecord{{PageNumber: 0, Text: plain}}, nil
}

// markdownToText drops markdown syntax and keeps one line per block.
func markdownToText(src []byte) string {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var sb strings.Builder
	endLine := func() {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteString("\n")
		}
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				sb.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					sb.WriteString("\n")
				}
			}
		case *ast.String:
			if entering {
				sb.Write(node.Value)
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				endLine()
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					sb.Write(seg.Value(src))
				}
				endLine()
				return ast.WalkSkipChildren, nil
			}
		case *extast.TableCell:
			if !entering {
				sb.WriteString("\t")
			}
		case *extast.TableRow, *extast.TableHeader:
			if !entering {
				endLine()
			}
		case *ast.Paragraph, *ast.Heading, *ast.ListItem, *ast.TextBlock:
			if !entering {
				endLine()
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(sb.String())
}
