package parser

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/ledongthuc/pdf"
)

var (
	errUnsupportedImage = errors.New("unsupported image encoding")
	errStreamNotFound   = errors.New("encoded image stream not found")
)

type extractedImage struct {
	data []byte
	ext  string
}

// imageDecoder turns image XObjects into files a vision model accepts.
// Raster data the pdf library can decode is re-encoded as PNG. JPEG and
// JPEG 2000 streams, which the library cannot read, are copied verbatim
// from the file bytes.
type imageDecoder struct {
	raw     []byte
	starts  []int
	scanned bool
	used    map[int]bool
}

func newImageDecoder(raw []byte) *imageDecoder {
	return &imageDecoder{raw: raw, used: make(map[int]bool)}
}

func (d *imageDecoder) decode(xobj pdf.Value) (img extractedImage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to read image object: %v", r)
		}
	}()

	filters := filterNames(xobj.Key("Filter"))
	switch {
	case len(filters) == 0 || (len(filters) == 1 && filters[0] == "FlateDecode"):
		return d.decodeRaster(xobj)
	case len(filters) == 1 && filters[0] == "DCTDecode":
		data, err := d.locate(int(xobj.Key("Length").Int64()), func(b []byte) bool {
			cfg, err := jpeg.DecodeConfig(bytes.NewReader(b))
			return err == nil &&
				int64(cfg.Width) == xobj.Key("Width").Int64() &&
				int64(cfg.Height) == xobj.Key("Height").Int64()
		})
		if err != nil {
			return extractedImage{}, err
		}
		return extractedImage{data: data, ext: "jpg"}, nil
	case len(filters) == 1 && filters[0] == "JPXDecode":
		data, err := d.locate(int(xobj.Key("Length").Int64()), func(b []byte) bool {
			return bytes.HasPrefix(b, []byte("\x00\x00\x00\x0cjP  ")) || bytes.HasPrefix(b, []byte{0xff, 0x4f, 0xff, 0x51})
		})
		if err != nil {
			return extractedImage{}, err
		}
		return extractedImage{data: data, ext: "jp2"}, nil
	default:
		return extractedImage{}, fmt.Errorf("%w: filter %v", errUnsupportedImage, filters)
	}
}

func (d *imageDecoder) decodeRaster(xobj pdf.Value) (img extractedImage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to read image stream: %v", r)
		}
	}()

	if bpc := xobj.Key("BitsPerComponent").Int64(); bpc != 8 {
		return extractedImage{}, fmt.Errorf("%w: %d bits per component", errUnsupportedImage, bpc)
	}
	width := int(xobj.Key("Width").Int64())
	height := int(xobj.Key("Height").Int64())
	if width <= 0 || height <= 0 {
		return extractedImage{}, fmt.Errorf("%w: invalid dimensions %dx%d", errUnsupportedImage, width, height)
	}
	cs, err := parseColorSpace(xobj.Key("ColorSpace"))
	if err != nil {
		return extractedImage{}, err
	}

	rc := xobj.Reader()
	defer rc.Close()
	samples, err := io.ReadAll(rc)
	if err != nil {
		return extractedImage{}, fmt.Errorf("failed to read image samples: %w", err)
	}

	im, err := cs.image(width, height, samples)
	if err != nil {
		return extractedImage{}, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, im); err != nil {
		return extractedImage{}, fmt.Errorf("failed to encode png: %w", err)
	}
	return extractedImage{data: buf.Bytes(), ext: "png"}, nil
}

// locate finds the first unused stream body of exactly length bytes for
// which match returns true.
func (d *imageDecoder) locate(length int, match func([]byte) bool) ([]byte, error) {
	if length <= 0 {
		return nil, errStreamNotFound
	}
	if !d.scanned {
		d.starts = streamStarts(d.raw)
		d.scanned = true
	}
	for _, start := range d.starts {
		end := start + length
		if d.used[start] || end > len(d.raw) {
			continue
		}
		if !bytes.HasPrefix(bytes.TrimLeft(d.raw[end:], "\r\n \t"), []byte("endstream")) {
			continue
		}
		body := d.raw[start:end]
		if match(body) {
			d.used[start] = true
			return body, nil
		}
	}
	return nil, errStreamNotFound
}

// streamStarts returns the offsets of every stream body in a PDF file.
func streamStarts(raw []byte) []int {
	kw := []byte("stream")
	var starts []int
	for i := 0; ; {
		j := bytes.Index(raw[i:], kw)
		if j < 0 {
			return starts
		}
		pos := i + j
		i = pos + len(kw)
		if pos >= 3 && string(raw[pos-3:pos]) == "end" {
			continue
		}
		switch {
		case bytes.HasPrefix(raw[i:], []byte("\r\n")):
			starts = append(starts, i+2)
		case bytes.HasPrefix(raw[i:], []byte("\n")):
			starts = append(starts, i+1)
		}
	}
}

func filterNames(v pdf.Value) []string {
	switch v.Kind() {
	case pdf.Name:
		return []string{v.Name()}
	case pdf.Array:
		names := make([]string, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			names = append(names, v.Index(i).Name())
		}
		return names
	}
	return nil
}

type colorSpace struct {
	components int
	// palette holds base color components for Indexed color spaces.
	palette     []byte
	paletteBase int
}

func parseColorSpace(v pdf.Value) (colorSpace, error) {
	switch v.Kind() {
	case pdf.Name:
		switch v.Name() {
		case "DeviceGray", "CalGray":
			return colorSpace{components: 1}, nil
		case "DeviceRGB", "CalRGB":
			return colorSpace{components: 3}, nil
		case "DeviceCMYK":
			return colorSpace{components: 4}, nil
		}
	case pdf.Array:
		switch v.Index(0).Name() {
		case "ICCBased":
			if n := int(v.Index(1).Key("N").Int64()); n == 1 || n == 3 || n == 4 {
				return colorSpace{components: n}, nil
			}
		case "CalGray":
			return colorSpace{components: 1}, nil
		case "CalRGB":
			return colorSpace{components: 3}, nil
		case "Indexed":
			base, err := parseColorSpace(v.Index(1))
			if err != nil || base.palette != nil {
				break
			}
			lookup := v.Index(3)
			var table []byte
			if lookup.Kind() == pdf.String {
				table = []byte(lookup.RawString())
			} else if lookup.Kind() == pdf.Stream {
				rc := lookup.Reader()
				table, err = io.ReadAll(rc)
				rc.Close()
				if err != nil {
					break
				}
			}
			if len(table) == 0 {
				break
			}
			return colorSpace{components: 1, palette: table, paletteBase: base.components}, nil
		}
	}
	return colorSpace{}, fmt.Errorf("%w: color space %s", errUnsupportedImage, v.String())
}

func (cs colorSpace) image(width, height int, samples []byte) (image.Image, error) {
	need := width * height * cs.components
	if len(samples) < need {
		return nil, fmt.Errorf("%w: got %d samples, want %d", errUnsupportedImage, len(samples), need)
	}
	rect := image.Rect(0, 0, width, height)

	if cs.palette != nil {
		im := image.NewNRGBA(rect)
		for i := 0; i < width*height; i++ {
			c := cs.paletteColor(int(samples[i]))
			im.Set(i%width, i/width, c)
		}
		return im, nil
	}

	switch cs.components {
	case 1:
		im := image.NewGray(rect)
		copy(im.Pix, samples[:need])
		return im, nil
	case 3:
		im := image.NewNRGBA(rect)
		for i := 0; i < width*height; i++ {
			im.Pix[i*4] = samples[i*3]
			im.Pix[i*4+1] = samples[i*3+1]
			im.Pix[i*4+2] = samples[i*3+2]
			im.Pix[i*4+3] = 0xff
		}
		return im, nil
	case 4:
		im := image.NewCMYK(rect)
		copy(im.Pix, samples[:need])
		return im, nil
	}
	return nil, fmt.Errorf("%w: %d components", errUnsupportedImage, cs.components)
}

func (cs colorSpace) paletteColor(idx int) color.Color {
	off := idx * cs.paletteBase
	if off+cs.paletteBase > len(cs.palette) {
		return color.Black
	}
	p := cs.palette[off : off+cs.paletteBase]
	switch cs.paletteBase {
	case 1:
		return color.Gray{Y: p[0]}
	case 3:
		return color.NRGBA{R: p[0], G: p[1], B: p[2], A: 0xff}
	case 4:
		return color.CMYK{C: p[0], M: p[1], Y: p[2], K: p[3]}
	}
	return color.Black
}
