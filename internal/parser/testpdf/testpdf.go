// Package testpdf writes small, valid PDF files for tests: Helvetica text
// lines, raster, JPEG or JPEG 2000 image XObjects and Form XObjects.
package testpdf

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"os"
	"strings"
)

type Page struct {
	Lines  []string
	Images []Image
	// Forms are drawn after the images, each with its own resources.
	Forms []Form
	// Contents, when set, is written verbatim as the /Contents value in
	// place of the generated stream.
	Contents string
}

// Form is a Form XObject. Its images are named Im1, Im2, ... inside the
// form's own resource dictionary, the same names the page uses.
type Form struct {
	Lines  []string
	Images []Image
}

// Image is drawn after the page text. With Filter "DCTDecode" or
// "JPXDecode" Data is copied as is, otherwise Data holds raw samples in
// ColorSpace which are Flate compressed unless Filter is "none".
//
// ColorSpace is a device color space name, "Indexed" (an RGB lookup table
// in Palette) or "ICCBased" (ICCComponents channels).
type Image struct {
	Width         int
	Height        int
	ColorSpace    string
	Filter        string
	Data          []byte
	Palette       []byte
	ICCComponents int
}

// RGB returns a solid color image.
func RGB(width, height int, r, g, b byte) Image {
	data := make([]byte, 0, width*height*3)
	for i := 0; i < width*height; i++ {
		data = append(data, r, g, b)
	}
	return Image{Width: width, Height: height, ColorSpace: "DeviceRGB", Data: data}
}

// Gray returns a solid DeviceGray image.
func Gray(width, height int, y byte) Image {
	return Image{Width: width, Height: height, ColorSpace: "DeviceGray", Data: bytes.Repeat([]byte{y}, width*height)}
}

// CMYK returns a solid DeviceCMYK image.
func CMYK(width, height int, c, m, y, k byte) Image {
	return Image{Width: width, Height: height, ColorSpace: "DeviceCMYK", Data: bytes.Repeat([]byte{c, m, y, k}, width*height)}
}

// Indexed returns an image whose every pixel is palette entry index.
// palette holds RGB triples.
func Indexed(width, height int, palette []byte, index byte) Image {
	return Image{
		Width:      width,
		Height:     height,
		ColorSpace: "Indexed",
		Palette:    palette,
		Data:       bytes.Repeat([]byte{index}, width*height),
	}
}

// ICCRGB returns a solid RGB image in a three channel ICCBased color space.
func ICCRGB(width, height int, r, g, b byte) Image {
	img := RGB(width, height, r, g, b)
	img.ColorSpace = "ICCBased"
	img.ICCComponents = 3
	return img
}

type builder struct {
	buf     bytes.Buffer
	offsets []int
}

func (b *builder) object(body string) int {
	b.offsets = append(b.offsets, b.buf.Len())
	id := len(b.offsets)
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", id, body)
	return id
}

func (b *builder) stream(dict string, data []byte) int {
	b.offsets = append(b.offsets, b.buf.Len())
	id := len(b.offsets)
	fmt.Fprintf(&b.buf, "%d 0 obj\n<< %s /Length %d >>\nstream\n", id, dict, len(data))
	b.buf.Write(data)
	b.buf.WriteString("\nendstream\nendobj\n")
	return id
}

// reserve allocates an object number whose body is written later.
func (b *builder) reserve() int {
	b.offsets = append(b.offsets, -1)
	return len(b.offsets)
}

func (b *builder) fill(id int, body string) {
	b.offsets[id-1] = b.buf.Len()
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", id, body)
}

// Build returns the bytes of a PDF containing pages in order.
func Build(pages ...Page) []byte {
	b := &builder{}
	b.buf.WriteString("%PDF-1.4\n")

	catalog := b.reserve()
	pagesID := b.reserve()
	font := b.object("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	var kids []string
	for _, p := range pages {
		content, xobjects := b.draw(p.Lines, p.Images)
		for i, f := range p.Forms {
			name := fmt.Sprintf("Fm%d", i+1)
			xobjects = append(xobjects, fmt.Sprintf("/%s %d 0 R", name, b.form(f, font)))
			fmt.Fprintf(content, "q /%s Do Q\n", name)
		}

		contents := p.Contents
		if contents == "" {
			contents = fmt.Sprintf("%d 0 R", b.stream("", []byte(content.String())))
		}
		pageID := b.object(fmt.Sprintf(
			"<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Resources %s /Contents %s >>",
			pagesID, resources(font, xobjects), contents))
		kids = append(kids, fmt.Sprintf("%d 0 R", pageID))
	}

	b.fill(pagesID, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(kids)))
	b.fill(catalog, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesID))

	xref := b.buf.Len()
	fmt.Fprintf(&b.buf, "xref\n0 %d\n", len(b.offsets)+1)
	b.buf.WriteString("0000000000 65535 f \n")
	for _, off := range b.offsets {
		fmt.Fprintf(&b.buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b.buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(b.offsets)+1, catalog, xref)
	return b.buf.Bytes()
}

// draw writes text lines followed by images named Im1, Im2, ... and returns
// the content stream and the XObject resource entries it refers to.
func (b *builder) draw(lines []string, images []Image) (*strings.Builder, []string) {
	content := &strings.Builder{}
	var xobjects []string
	content.WriteString("BT\n/F1 12 Tf\n72 720 Td\n")
	for i, line := range lines {
		if i > 0 {
			content.WriteString("0 -14 Td\n")
		}
		fmt.Fprintf(content, "(%s) Tj\n", escape(line))
	}
	content.WriteString("ET\n")

	for i, img := range images {
		name := fmt.Sprintf("Im%d", i+1)
		xobjects = append(xobjects, fmt.Sprintf("/%s %d 0 R", name, b.image(img)))
		fmt.Fprintf(content, "q %d 0 0 %d 72 %d cm /%s Do Q\n", img.Width, img.Height, 400-i*120, name)
	}
	return content, xobjects
}

func (b *builder) form(f Form, font int) int {
	content, xobjects := b.draw(f.Lines, f.Images)
	dict := fmt.Sprintf("/Type /XObject /Subtype /Form /BBox [0 0 612 792] /Resources %s", resources(font, xobjects))
	return b.stream(dict, []byte(content.String()))
}

func resources(font int, xobjects []string) string {
	res := fmt.Sprintf("<< /Font << /F1 %d 0 R >>", font)
	if len(xobjects) > 0 {
		res += " /XObject << " + strings.Join(xobjects, " ") + " >>"
	}
	return res + " >>"
}

func (b *builder) colorSpace(img Image) string {
	switch img.ColorSpace {
	case "":
		return "/DeviceRGB"
	case "Indexed":
		return fmt.Sprintf("[/Indexed /DeviceRGB %d <%x>]", len(img.Palette)/3-1, img.Palette)
	case "ICCBased":
		profile := b.stream(fmt.Sprintf("/N %d", img.ICCComponents), []byte("icc"))
		return fmt.Sprintf("[/ICCBased %d 0 R]", profile)
	default:
		return "/" + img.ColorSpace
	}
}

func (b *builder) image(img Image) int {
	dict := fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace %s /BitsPerComponent 8",
		img.Width, img.Height, b.colorSpace(img))

	switch img.Filter {
	case "DCTDecode", "JPXDecode":
		return b.stream(dict+" /Filter /"+img.Filter, img.Data)
	case "none":
		return b.stream(dict, img.Data)
	case "", "FlateDecode":
		var z bytes.Buffer
		w := zlib.NewWriter(&z)
		_, _ = w.Write(img.Data)
		_ = w.Close()
		return b.stream(dict+" /Filter /FlateDecode", z.Bytes())
	default:
		return b.stream(dict+" /Filter /"+img.Filter, img.Data)
	}
}

// Write builds the PDF and stores it at path.
func Write(path string, pages ...Page) error {
	return os.WriteFile(path, Build(pages...), 0o644)
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
