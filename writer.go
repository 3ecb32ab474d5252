package rapidpart

import (
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"sort"
	"strings"

	"github.com/scott-ainsworth/go-ascii"
)

var errWriterNil = errors.New("writer is nil")

// Writer builds a multipart message on an underlying [io.Writer]. Parts are
// written through; nothing is buffered beyond the current delimiter and
// header lines.
//
// It is the caller's responsibility to call Close on the [Writer] when done.
type Writer struct {
	w        io.Writer
	boundary string
	started  bool
	pw       *partWriter
}

// NewWriter returns a new [Writer] emitting parts delimited by boundary
// (without the leading "--").
func NewWriter(w io.Writer, boundary string) (*Writer, error) {
	wr := new(Writer)

	if err := wr.Reset(w, boundary); err != nil {
		return nil, err
	}

	return wr, nil
}

// Reset discards the [Writer] w's state and makes it equivalent to the
// result of its original state from [NewWriter], but writing to wr instead.
// This permits reusing a [Writer] rather than allocating a new one. An empty
// boundary keeps the current one.
func (w *Writer) Reset(wr io.Writer, boundary string) error {
	if boundary != "" {
		if err := validateBoundary(boundary); err != nil {
			return err
		}
		w.boundary = boundary
	} else if w.boundary == "" {
		return fmt.Errorf("[rapidpart] boundary must not be empty")
	}

	w.w = wr
	w.started = false
	w.pw = nil

	return nil
}

// Boundary returns the boundary without the leading "--".
func (w *Writer) Boundary() string {
	return w.boundary
}

// FormDataContentType returns the Content-Type value carrying w's boundary,
// for use in an HTTP header.
func (w *Writer) FormDataContentType() string {
	b := w.boundary
	// quote per RFC 2045 when the boundary holds tspecials
	if strings.ContainsAny(b, `()<>@,;:\"/[]?= `) {
		b = `"` + b + `"`
	}
	return "multipart/form-data; boundary=" + b
}

// CreatePart writes the delimiter line and header for a new part and returns
// a writer for its payload. The previous part, if any, is implicitly
// finished. Header keys are emitted in sorted order.
func (w *Writer) CreatePart(header textproto.MIMEHeader) (io.Writer, error) {
	if w.w == nil {
		return nil, errWriterNil
	}

	var b strings.Builder
	if w.started {
		fmt.Fprintf(&b, "\r\n--%s\r\n", w.boundary)
	} else {
		// the opening delimiter carries no leading CRLF
		fmt.Fprintf(&b, "--%s\r\n", w.boundary)
	}

	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range header[k] {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	b.WriteString("\r\n")

	if _, err := io.WriteString(w.w, b.String()); err != nil {
		return nil, err
	}

	w.started = true
	w.pw = &partWriter{w: w}
	return w.pw, nil
}

// CreateFormField creates a part with a form-data Content-Disposition header
// carrying the given field name.
func (w *Writer) CreateFormField(name string) (io.Writer, error) {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, escapeQuotes(name)))
	return w.CreatePart(h)
}

// CreateFormFile creates a part with a form-data Content-Disposition header
// carrying the given field name and file name.
func (w *Writer) CreateFormFile(fieldname, filename string) (io.Writer, error) {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(fieldname), escapeQuotes(filename)))
	h.Set("Content-Type", "application/octet-stream")
	return w.CreatePart(h)
}

// WriteField creates a form field part holding value.
func (w *Writer) WriteField(name, value string) error {
	pw, err := w.CreateFormField(name)
	if err != nil {
		return err
	}
	_, err = io.WriteString(pw, value)
	return err
}

// Close writes the closing terminator line. It is an error to call
// CreatePart after calling Close.
func (w *Writer) Close() error {
	if w.w == nil {
		return errWriterNil
	}
	defer func() { w.w = nil }()

	if !w.started {
		return fmt.Errorf("[rapidpart] message closed without any part")
	}

	w.pw = nil
	_, err := fmt.Fprintf(w.w, "\r\n--%s--\r\n", w.boundary)
	return err
}

type partWriter struct {
	w *Writer
}

func (pw *partWriter) Write(p []byte) (int, error) {
	if pw.w.w == nil || pw.w.pw != pw {
		return 0, fmt.Errorf("[rapidpart] write to a finished part")
	}
	return pw.w.w.Write(p)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// validateBoundary enforces the bchars set and length limit of RFC 2046
// section 5.1.1.
func validateBoundary(boundary string) error {
	if len(boundary) == 0 || len(boundary) > 70 {
		return fmt.Errorf("[rapidpart] boundary length %d outside 1..70", len(boundary))
	}
	for i := 0; i < len(boundary); i++ {
		c := boundary[i]
		if ascii.IsLetter(c) || ascii.IsDigit(c) {
			continue
		}
		switch c {
		case '\'', '(', ')', '+', '_', ',', '-', '.', '/', ':', '=', '?':
			continue
		case ' ':
			if i != len(boundary)-1 {
				continue
			}
		}
		return fmt.Errorf("[rapidpart] invalid boundary character %q", c)
	}
	return nil
}
