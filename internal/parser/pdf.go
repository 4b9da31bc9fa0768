package parser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"multimodal-rag/internal/describer"
	"multimodal-rag/internal/helper"
	"multimodal-rag/internal/metrics"
	"multimodal-rag/internal/models"
	"multimodal-rag/internal/progress"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
)

// ImageFailure records an image that was skipped or stored without a
// description. Page and Index are 1-based, matching the image filename.
type ImageFailure struct {
	Page     int
	Index    int
	Filename string
	Err      error
}

func (f ImageFailure) Error() string {
	if f.Filename == "" {
		return fmt.Sprintf("page %d image %d: %v", f.Page, f.Index, f.Err)
	}
	return fmt.Sprintf("page %d image %d (%s): %v", f.Page, f.Index, f.Filename, f.Err)
}

// Extractor reads page text and embedded images from PDFs. Images are saved
// under <outputFolder>/<pdf stem>/ and their descriptions are appended to
// the text of the page they appear on.
type Extractor struct {
	describer describer.ImageDescriber
	reporter  progress.Reporter
	failures  []ImageFailure
}

func NewExtractor(d describer.ImageDescriber, reporter progress.Reporter) *Extractor {
	return &Extractor{describer: d, reporter: progress.OrNop(reporter)}
}

// Failures lists the images of the last Extract call that were skipped or
// could not be described.
func (e *Extractor) Failures() []ImageFailure {
	return e.failures
}

// Extract returns one record per page in page order. An unreadable page
// aborts the whole extraction. Image problems never do.
func (e *Extractor) Extract(ctx context.Context, pdfPath, outputFolder string) ([]models.PageRecord, error) {
	e.failures = nil

	raw, err := os.ReadFile(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf %s: %w", pdfPath, err)
	}
	reader, err := newPDFReader(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf %s: %w", pdfPath, err)
	}

	source := filepath.Base(pdfPath)
	imageDir := filepath.Join(outputFolder, helper.FileStem(pdfPath))
	decoder := newImageDecoder(raw)
	total := reader.NumPage()

	log.Info().Str("file", source).Int("pages", total).Msg("Extracting pdf")

	pages := make([]models.PageRecord, 0, total)
	for p := 0; p < total; p++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.reporter.Progress(p, total, fmt.Sprintf("Processing Page %d/%d", p+1, total))

		content, err := readPage(reader, p+1)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d of %s: %w", p+1, source, err)
		}

		record := models.PageRecord{
			SourceDocument: source,
			PageNumber:     p,
		}
		var text strings.Builder
		text.WriteString(pageText(content))

		if len(content.images) > 0 {
			if err := helper.CreateFolder(imageDir); err != nil {
				return nil, err
			}
		}
		for i, ref := range content.images {
			e.reporter.Info(fmt.Sprintf("Extracting text from image %d on Page %d", i+1, p+1))
			filename, desc, ok := e.processImage(ctx, decoder, ref, imageDir, p+1, i+1)
			if !ok {
				continue
			}
			record.ImageFilenames = append(record.ImageFilenames, filename)
			fmt.Fprintf(&text, models.ImageTagFormat, filename, desc)
		}

		record.Text = text.String()
		pages = append(pages, record)
		metrics.PagesExtracted.Inc()
	}

	e.reporter.Progress(total, total, "Processing complete.")
	e.reporter.Success("PDF processing is complete. Combined text document is ready.")
	log.Info().
		Str("file", source).
		Int("pages", len(pages)).
		Int("image_failures", len(e.failures)).
		Msg("Extracted pdf")

	return pages, nil
}

// processImage saves and describes one image. ok is false when nothing was
// written and the image should be left out of the page text.
func (e *Extractor) processImage(ctx context.Context, decoder *imageDecoder, ref xobjectRef, dir string, page, index int) (filename, desc string, ok bool) {
	img, err := decoder.decode(ref.value)
	if err != nil {
		e.fail(ImageFailure{Page: page, Index: index, Err: err})
		return "", "", false
	}

	filename = fmt.Sprintf("page_%d_img_%d.%s", page, index, img.ext)
	if err := os.WriteFile(filepath.Join(dir, filename), img.data, 0o644); err != nil {
		e.fail(ImageFailure{Page: page, Index: index, Filename: filename, Err: err})
		return "", "", false
	}

	desc, err = e.describe(ctx, img.data)
	if err != nil {
		e.fail(ImageFailure{Page: page, Index: index, Filename: filename, Err: err})
	}
	return filename, desc, true
}

func (e *Extractor) describe(ctx context.Context, data []byte) (string, error) {
	if e.describer == nil {
		return models.DescribeFailed, fmt.Errorf("no image describer configured")
	}
	return e.describer.Describe(ctx, data)
}

func (e *Extractor) fail(f ImageFailure) {
	e.failures = append(e.failures, f)
	e.reporter.Info(fmt.Sprintf("Skipped image %d on Page %d: %v", f.Index, f.Page, f.Err))
	log.Warn().Err(f.Err).Int("page", f.Page).Int("image", f.Index).Str("filename", f.Filename).Msg("Image extraction degraded")
}

func readPage(reader *pdf.Reader, num int) (pc pageContent, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed page tree: %v", rec)
		}
	}()
	page := reader.Page(num)
	if page.V.IsNull() {
		return pageContent{}, fmt.Errorf("page not found")
	}
	return walkPage(page)
}

func newPDFReader(raw []byte) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed pdf: %v", rec)
		}
	}()
	return pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
}

// CombinedText joins the text of all pages into a single document.
func CombinedText(pages []models.PageRecord) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n")
}
