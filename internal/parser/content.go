package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

const maxFormDepth = 8

// pageContent is what one pass over a page's content streams yields.
type pageContent struct {
	text   string
	images []xobjectRef
}

type xobjectRef struct {
	name  string
	value pdf.Value
}

type contentWalker struct {
	text   strings.Builder
	images []xobjectRef
	// scope is the path of Form names leading to the resources in use.
	// XObject names are only unique within one resource dictionary.
	scope string
	seen  map[string]bool
}

// walkPage reads text and image placements from a page in content order.
// Content may be a single stream, an array of streams or absent.
func walkPage(p pdf.Page) (pc pageContent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to read page content: %v", r)
		}
	}()

	w := &contentWalker{seen: make(map[string]bool)}
	w.walk(p.V.Key("Contents"), p.Resources(), 0)
	return pageContent{text: w.text.String(), images: w.images}, nil
}

func (w *contentWalker) walk(contents, resources pdf.Value, depth int) {
	switch contents.Kind() {
	case pdf.Null:
		return
	case pdf.Array:
		for i := 0; i < contents.Len(); i++ {
			w.interpret(contents.Index(i), resources, depth)
		}
	case pdf.Stream:
		w.interpret(contents, resources, depth)
	default:
		panic(errors.New("unexpected content stream type"))
	}
}

func (w *contentWalker) interpret(strm, resources pdf.Value, depth int) {
	fonts := resources.Key("Font")
	xobjects := resources.Key("XObject")
	var enc pdf.TextEncoding

	show := func(s string) {
		if enc == nil {
			w.text.WriteString(s)
			return
		}
		w.text.WriteString(enc.Decode(s))
	}
	newline := func() {
		if w.text.Len() > 0 && !strings.HasSuffix(w.text.String(), "\n") {
			w.text.WriteString("\n")
		}
	}

	pdf.Interpret(strm, func(stk *pdf.Stack, op string) {
		n := stk.Len()
		args := make([]pdf.Value, n)
		for i := n - 1; i >= 0; i-- {
			args[i] = stk.Pop()
		}

		switch op {
		case "Tf":
			if len(args) != 2 {
				panic(errors.New("bad Tf operator"))
			}
			font := pdf.Font{V: fonts.Key(args[0].Name())}
			enc = nil
			if font.V.Kind() != pdf.Null {
				enc = font.Encoder()
			}
		case "T*":
			newline()
		case "Td", "TD":
			if len(args) == 2 && args[1].Float64() != 0 {
				newline()
			}
		case "'", "\"":
			newline()
			if len(args) > 0 {
				show(args[len(args)-1].RawString())
			}
		case "Tj":
			if len(args) != 1 {
				panic(errors.New("bad Tj operator"))
			}
			show(args[0].RawString())
		case "TJ":
			if len(args) != 1 {
				panic(errors.New("bad TJ operator"))
			}
			v := args[0]
			for i := 0; i < v.Len(); i++ {
				if x := v.Index(i); x.Kind() == pdf.String {
					show(x.RawString())
				}
			}
		case "ET":
			newline()
		case "Do":
			if len(args) != 1 {
				return
			}
			w.do(args[0].Name(), xobjects, resources, depth)
		}
	})
}

func (w *contentWalker) do(name string, xobjects, resources pdf.Value, depth int) {
	xobj := xobjects.Key(name)
	switch xobj.Key("Subtype").Name() {
	case "Image":
		key := w.scope + "/" + name
		if w.seen[key] {
			return
		}
		w.seen[key] = true
		w.images = append(w.images, xobjectRef{name: name, value: xobj})
	case "Form":
		if depth >= maxFormDepth {
			return
		}
		res := xobj.Key("Resources")
		scope := w.scope
		if res.Kind() == pdf.Null {
			res = resources
		} else {
			scope += "/" + name
		}
		sub := &contentWalker{scope: scope, seen: w.seen}
		sub.interpret(xobj, res, depth+1)
		if t := sub.text.String(); t != "" {
			w.text.WriteString(t)
		}
		w.images = append(w.images, sub.images...)
	}
}

// pageText joins the extracted text of a page and trims trailing blank lines.
func pageText(pc pageContent) string {
	return strings.TrimRight(pc.text, "\n ")
}
