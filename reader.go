package rapidpart

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/textproto"
)

// errStop is returned by the Reader's own hooks to pause the parser once an
// event the pull surface has to act on is recorded.
var errStop = errors.New("stop feeding")

// Reader pulls parts out of a multipart stream. It drives a [Parser] over an
// internal read buffer, so the source may deliver bytes in arbitrarily small
// reads.
type Reader struct {
	src io.Reader
	p   *Parser
	rb  readBuffer

	// srcErr defers a source error (usually io.EOF) until the buffered
	// window has been fed to the parser.
	srcErr error

	cur *Part

	header      textproto.MIMEHeader
	headerReady bool
	fieldBuf    []byte
	valueBuf    []byte
	inValue     bool

	bodyDone bool
}

// ReaderOption configures a [Reader].
type ReaderOption func(r *Reader)

// WithReadBuffer sets the size of the internal read buffer.
func WithReadBuffer(size int) ReaderOption {
	return func(r *Reader) {
		r.rb = readBuffer{buf: make([]byte, size)}
	}
}

// NewReader returns a [Reader] decoding the multipart stream src, delimited
// by boundary (without the leading "--", as it appears in the Content-Type
// boundary parameter).
func NewReader(src io.Reader, boundary string, opts ...ReaderOption) *Reader {
	r := &Reader{src: src}

	for _, opt := range opts {
		opt(r)
	}

	r.p = NewParser(boundary, Hooks{
		OnPartDataBegin:   r.onPartBegin,
		OnHeaderField:     r.onHeaderField,
		OnHeaderValue:     r.onHeaderValue,
		OnHeadersComplete: r.onHeadersComplete,
		OnPartData:        r.onPartData,
		OnPartDataEnd:     r.onPartEnd,
		OnBodyEnd:         r.onBodyEnd,
	})

	return r
}

// NextPart returns the next part of the stream, or io.EOF once the closing
// terminator has been seen. Unread payload of the previous part is discarded.
// A source that ends before the terminator yields io.ErrUnexpectedEOF.
func (r *Reader) NextPart() (*Part, error) {
	if r.cur != nil {
		r.cur.active = false
		r.cur = nil
	}

	for {
		if r.headerReady {
			r.headerReady = false
			r.cur = &Part{r: r, Header: r.header, active: true}
			r.header = nil
			return r.cur, nil
		}
		if r.bodyDone {
			return nil, io.EOF
		}
		if err := r.feed(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

// feed moves one step: refill the window from the source if it is empty,
// then hand it to the parser. Hook pauses are the normal way a step ends.
func (r *Reader) feed() error {
	r.rb.init()

	if r.rb.start == r.rb.end {
		r.rb.start, r.rb.end = 0, 0
		if r.srcErr != nil {
			return r.srcErr
		}
		n, err := r.rb.readMore(r.src)
		if err != nil {
			if n == 0 {
				return err
			}
			r.srcErr = err
		}
	}

	consumed, err := r.p.Execute(r.rb.window())
	r.rb.advance(consumed)
	if err != nil && !errors.Is(err, ErrPaused) {
		return err
	}
	if consumed == 0 && r.rb.end-r.rb.start > 0 {
		r.rb.compact()
	}
	return nil
}

func (r *Reader) onPartBegin(*Parser) error {
	r.header = make(textproto.MIMEHeader)
	r.fieldBuf = r.fieldBuf[:0]
	r.valueBuf = r.valueBuf[:0]
	r.inValue = false
	return nil
}

func (r *Reader) onHeaderField(_ *Parser, b []byte) error {
	if r.inValue {
		r.commitHeader()
	}
	r.fieldBuf = append(r.fieldBuf, b...)
	return nil
}

func (r *Reader) onHeaderValue(_ *Parser, b []byte) error {
	r.inValue = true
	r.valueBuf = append(r.valueBuf, b...)
	return nil
}

func (r *Reader) onHeadersComplete(*Parser) error {
	r.commitHeader()
	r.headerReady = true
	return errStop
}

func (r *Reader) onPartData(_ *Parser, b []byte) error {
	if r.cur == nil || !r.cur.active {
		// the part was abandoned by NextPart; its payload is skipped
		return nil
	}
	r.cur.buf.Write(b)
	return errStop
}

func (r *Reader) onPartEnd(*Parser) error {
	if r.cur == nil {
		return nil
	}
	r.cur.done = true
	if r.cur.active {
		return errStop
	}
	return nil
}

func (r *Reader) onBodyEnd(*Parser) error {
	r.bodyDone = true
	return errStop
}

func (r *Reader) commitHeader() {
	if len(r.fieldBuf) == 0 && len(r.valueBuf) == 0 {
		return
	}
	key := textproto.CanonicalMIMEHeaderKey(string(r.fieldBuf))
	r.header[key] = append(r.header[key], string(r.valueBuf))
	r.fieldBuf = r.fieldBuf[:0]
	r.valueBuf = r.valueBuf[:0]
	r.inValue = false
}

// Part is one body part of the stream. Read returns its payload and io.EOF
// at the part's closing boundary. A Part is only readable until the next
// [Reader.NextPart] call.
type Part struct {
	// Header holds the part's headers with canonicalized keys, for example
	// "Content-Disposition".
	Header textproto.MIMEHeader

	r      *Reader
	buf    bytes.Buffer
	active bool
	done   bool

	parsedDisposition bool
	disposition       string
	dispositionParams map[string]string
}

func (pt *Part) Read(b []byte) (int, error) {
	for {
		if pt.buf.Len() > 0 {
			return pt.buf.Read(b)
		}
		if pt.done || !pt.active {
			return 0, io.EOF
		}
		if err := pt.r.feed(); err != nil {
			if errors.Is(err, io.EOF) {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
	}
}

// FormName returns the name parameter of a form-data Content-Disposition
// header, or "" if the part has none.
func (pt *Part) FormName() string {
	pt.parseContentDisposition()
	if pt.disposition != "form-data" {
		return ""
	}
	return pt.dispositionParams["name"]
}

// FileName returns the filename parameter of the Content-Disposition header.
// The value is returned as sent; path sanitization is up to the caller.
func (pt *Part) FileName() string {
	pt.parseContentDisposition()
	return pt.dispositionParams["filename"]
}

func (pt *Part) parseContentDisposition() {
	if pt.parsedDisposition {
		return
	}
	pt.parsedDisposition = true
	var err error
	pt.disposition, pt.dispositionParams, err = mime.ParseMediaType(pt.Header.Get("Content-Disposition"))
	if err != nil {
		pt.dispositionParams = map[string]string{}
	}
}
