// Package rapidpart implements an incremental push parser for the
// multipart/form-data and multipart/mixed wire format (RFC 2046 section 5.1,
// RFC 7578). Input may be fed in arbitrary chunks, down to one byte at a
// time; the parser emits header and payload spans to a caller supplied
// [Hooks] set without buffering the message. [Reader] and [Writer] wrap the
// parser with io-flavoured surfaces.
package rapidpart

import (
	"bytes"
	"fmt"

	"github.com/scott-ainsworth/go-ascii"
)

const (
	cr     = '\r'
	lf     = '\n'
	hyphen = '-'
)

// Parser is the incremental multipart decoder. One instance handles one
// message at a time and must be confined to one goroutine; it holds no
// resources beyond its own buffers, so releasing it is letting it go out of
// scope. After a message, [Parser.Reset] prepares the same instance for the
// next one.
type Parser struct {
	hooks Hooks

	// delimiter is "--" plus the boundary, with capacity for the longest
	// boundary the instance will ever carry.
	delimiter   []byte
	boundaryCap int

	// lookbehind holds bytes whose data-vs-boundary classification is
	// still open. Its capacity is fixed at construction; usage never
	// exceeds len(delimiter)+2 bytes.
	lookbehind []byte
	lbLen      int

	state parserState
	index int // bytes of delimiter matched in the current attempt

	// stage coalesces small part-data fragments when WithBufferSize is
	// given. Empty whenever the parser is outside part data.
	stage     []byte
	threshold int

	err      error
	userData any
	trace    func(format string, args ...any)
}

// Option configures a [Parser].
type Option func(p *Parser)

// WithBufferSize enables coalescing of part data. Fragments smaller than
// size accumulate in an internal buffer and are delivered together; spans of
// at least size bytes keep being delivered zero-copy. Coalescing changes
// only the number of OnPartData invocations, never the concatenated payload
// or the event order. A size of zero leaves coalescing disabled.
func WithBufferSize(size int) Option {
	return func(p *Parser) {
		if size > 0 {
			p.stage = make([]byte, 0, size)
			p.threshold = size
		}
	}
}

// WithTrace installs a diagnostic hook receiving state transitions. It is
// meant for debugging observers against unexpected input; production parses
// run without one.
func WithTrace(fn func(format string, args ...any)) Option {
	return func(p *Parser) {
		p.trace = fn
	}
}

// NewParser returns a [Parser] for messages delimited by boundary. The
// boundary excludes the leading "--", exactly as it appears in the
// Content-Type boundary parameter; the parser prepends the dashes itself.
func NewParser(boundary string, hooks Hooks, opts ...Option) *Parser {
	p := &Parser{
		hooks:       hooks,
		boundaryCap: len(boundary),
		delimiter:   make([]byte, 0, len(boundary)+2),
		lookbehind:  make([]byte, 2*len(boundary)+9),
	}
	p.delimiter = append(p.delimiter, hyphen, hyphen)
	p.delimiter = append(p.delimiter, boundary...)

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Boundary returns the boundary the parser currently matches, without the
// leading "--".
func (p *Parser) Boundary() string {
	return string(p.delimiter[2:])
}

// SetData stores an opaque reference the parser carries but never touches.
func (p *Parser) SetData(v any) {
	p.userData = v
}

// Data returns the reference stored with [Parser.SetData].
func (p *Parser) Data() any {
	return p.userData
}

// Err returns the outcome of the most recent [Parser.Execute] call: nil
// after a clean call, [ErrPaused] after a callback pause, or the error that
// moved the parser into its terminal error state.
func (p *Parser) Err() error {
	if p == nil {
		return ErrUnknown
	}
	return p.err
}

// ErrorMessage returns a human readable form of [Parser.Err]. It never
// returns an empty string.
func (p *Parser) ErrorMessage() string {
	if p == nil {
		return ErrUnknown.Error()
	}
	if p.err == nil {
		return "ok"
	}
	return p.err.Error()
}

// Reset discards the parser's state and makes it equivalent to the result of
// [NewParser] with the same hooks, options and user data. This permits
// reusing a Parser rather than allocating a new one. An empty boundary keeps
// the current boundary. A boundary longer than the one the parser was
// constructed with does not fit the allocated buffers; Reset then returns an
// error and changes nothing.
func (p *Parser) Reset(boundary string) error {
	if len(boundary) > p.boundaryCap {
		return fmt.Errorf("[rapidpart] new boundary length %d exceeds the constructed capacity %d", len(boundary), p.boundaryCap)
	}
	if boundary != "" {
		p.delimiter = append(p.delimiter[:2], boundary...)
	}
	p.state = sStart
	p.index = 0
	p.lbLen = 0
	p.err = nil
	if p.stage != nil {
		p.stage = p.stage[:0]
	}
	return nil
}

// Execute feeds data to the parser and returns the number of bytes consumed.
// A nil error means the whole input was processed and more may follow; the
// message is complete once OnBodyEnd has fired, and trailing epilogue bytes
// are discarded. [ErrPaused] means a callback asked to stop: feed the
// unconsumed remainder to continue exactly where parsing stopped. Any other
// error is fatal for the message; Execute then keeps returning it until
// [Parser.Reset].
//
// Spans passed to data hooks point into data or into the parser's internal
// buffers and are only valid during the callback. Execute must not be called
// again from inside a callback.
func (p *Parser) Execute(data []byte) (int, error) {
	if p.state == sError {
		return 0, p.err
	}
	p.err = nil

	last := len(data) - 1
	mark := 0

	for i := 0; i < len(data); i++ {
		c := data[i]

		switch p.state {
		case sStart:
			p.index = 0
			if c == hyphen {
				p.setState(sOpenBoundary)
			} else {
				p.setState(sPreamble)
			}
			i--

		case sPreamble:
			if c == cr {
				p.setState(sPreambleCR)
			}

		case sPreambleCR:
			if c == lf {
				p.index = 0
				p.setState(sPreambleBoundary)
			} else {
				p.setState(sPreamble)
				i--
			}

		case sPreambleBoundary:
			if c == p.delimiter[p.index] {
				p.index++
				if p.index == len(p.delimiter) {
					p.setState(sOpenBoundaryCR)
				}
				break
			}
			p.setState(sPreamble)
			i--

		case sOpenBoundary:
			if c != p.delimiter[p.index] {
				return p.fail(i, fmt.Errorf("[rapidpart] byte %q does not match the boundary at offset %d: %w", c, i, ErrInvalidBoundary))
			}
			p.index++
			if p.index == len(p.delimiter) {
				p.setState(sOpenBoundaryCR)
			}

		case sOpenBoundaryCR:
			if c != cr {
				return p.fail(i, fmt.Errorf("[rapidpart] delimiter line not terminated by CRLF at offset %d: %w", i, ErrInvalidBoundary))
			}
			p.setState(sBoundaryEnd)

		case sHeaderFieldStart:
			if c == cr {
				p.setState(sHeadersAlmostDone)
				break
			}
			mark = i
			p.setState(sHeaderField)
			i--

		case sHeaderField:
			if c == ':' {
				if err := p.emitHeaderField(data[mark:i]); err != nil {
					return p.pause(i)
				}
				p.setState(sHeaderValueStart)
				break
			}
			if c == hyphen || ascii.IsLetter(c) {
				if i == last {
					if err := p.emitHeaderField(data[mark : i+1]); err != nil {
						return p.pause(i + 1)
					}
				}
				break
			}
			return p.fail(i, fmt.Errorf("[rapidpart] invalid character %q in header name at offset %d: %w", c, i, ErrInvalidHeaderField))

		case sHeadersAlmostDone:
			if c != lf {
				return p.fail(i, fmt.Errorf("[rapidpart] header block CR not followed by LF at offset %d: %w", i, ErrInvalidHeaderFormat))
			}
			p.setState(sPartData)
			if err := p.notify(p.hooks.OnHeadersComplete); err != nil {
				return p.pause(i + 1)
			}

		case sHeaderValueStart:
			p.setState(sHeaderValue)
			if c == ' ' {
				// exactly one leading space is skipped
				mark = i + 1
				break
			}
			mark = i
			i--

		case sHeaderValue:
			if c == cr {
				// the terminating CR is never part of the value, even
				// when it is the last byte of this feed
				if err := p.emitHeaderValue(data[mark:i]); err != nil {
					return p.pause(i)
				}
				p.setState(sHeaderValueAlmostDone)
			} else if i == last {
				if err := p.emitHeaderValue(data[mark : i+1]); err != nil {
					return p.pause(i + 1)
				}
			}

		case sHeaderValueAlmostDone:
			if c != lf {
				return p.fail(i, fmt.Errorf("[rapidpart] header value CR not followed by LF at offset %d: %w", i, ErrInvalidHeaderFormat))
			}
			p.setState(sHeaderFieldStart)

		case sPartData:
			rest := data[i:]
			j := bytes.IndexByte(rest, cr)
			end := len(rest)
			if j >= 0 {
				end = j
			}
			if p.stageBlocks(end) {
				if err := p.flushStage(); err != nil {
					return p.pause(i)
				}
			}
			if err := p.emitPartData(rest[:end]); err != nil {
				return p.pause(i + end)
			}
			if j < 0 {
				i = last
				break
			}
			i += j
			// staged fragments drain before bytes that may turn out to
			// be a boundary, so part-end can never overtake part data
			if err := p.flushStage(); err != nil {
				return p.pause(i)
			}
			p.lookbehind[0] = cr
			p.lbLen = 1
			p.index = 0
			p.setState(sPartDataCR)

		case sPartDataCR:
			if c == lf {
				p.lookbehind[1] = lf
				p.lbLen = 2
				p.index = 0
				p.setState(sPartDataBoundary)
				break
			}
			span := p.lookbehind[:p.lbLen]
			p.lbLen = 0
			p.setState(sPartData)
			if err := p.emitPartData(span); err != nil {
				return p.pause(i)
			}
			i--

		case sPartDataBoundary:
			if c == p.delimiter[p.index] {
				p.lookbehind[2+p.index] = c
				p.index++
				p.lbLen = 2 + p.index
				if p.index == len(p.delimiter) {
					p.lbLen = 0
					p.setState(sBoundaryAlmostEnd)
					if err := p.notify(p.hooks.OnPartDataEnd); err != nil {
						return p.pause(i + 1)
					}
				}
				break
			}
			span := p.lookbehind[:p.lbLen]
			p.lbLen = 0
			p.setState(sPartData)
			if err := p.emitPartData(span); err != nil {
				return p.pause(i)
			}
			i--

		case sBoundaryAlmostEnd:
			if c == cr {
				p.setState(sBoundaryEnd)
				break
			}
			if c == hyphen {
				p.setState(sBoundaryFinalHyphen)
				break
			}
			return p.fail(i, fmt.Errorf("[rapidpart] unexpected byte %q after boundary at offset %d: %w", c, i, ErrInvalidBoundary))

		case sBoundaryFinalHyphen:
			if c != hyphen {
				return p.fail(i, fmt.Errorf("[rapidpart] incomplete terminator after boundary at offset %d: %w", i, ErrInvalidBoundary))
			}
			p.setState(sEnd)
			if err := p.notify(p.hooks.OnBodyEnd); err != nil {
				return p.pause(i + 1)
			}

		case sBoundaryEnd:
			if c != lf {
				return p.fail(i, fmt.Errorf("[rapidpart] delimiter line not terminated by CRLF at offset %d: %w", i, ErrInvalidBoundary))
			}
			p.setState(sHeaderFieldStart)
			if err := p.notify(p.hooks.OnPartDataBegin); err != nil {
				return p.pause(i + 1)
			}

		case sEnd:
			// epilogue
			i = last

		default:
			return p.fail(i, fmt.Errorf("[rapidpart] state %v cannot be dispatched: %w", p.state, ErrInvalidState))
		}
	}

	return len(data), nil
}

func (p *Parser) setState(s parserState) {
	if p.trace != nil && s != p.state {
		p.trace("[rapidpart] state %s -> %s", p.state, s)
	}
	p.state = s
}

func (p *Parser) fail(consumed int, err error) (int, error) {
	if p.trace != nil {
		p.trace("[rapidpart] %s", err)
	}
	p.setState(sError)
	p.err = err
	return consumed, err
}

func (p *Parser) pause(consumed int) (int, error) {
	p.err = ErrPaused
	return consumed, ErrPaused
}

func (p *Parser) notify(h Hook) error {
	if h == nil {
		return nil
	}
	return h(p)
}

func (p *Parser) emitHeaderField(span []byte) error {
	if len(span) == 0 || p.hooks.OnHeaderField == nil {
		return nil
	}
	return p.hooks.OnHeaderField(p, span)
}

func (p *Parser) emitHeaderValue(span []byte) error {
	if len(span) == 0 || p.hooks.OnHeaderValue == nil {
		return nil
	}
	return p.hooks.OnHeaderValue(p, span)
}

// emitPartData delivers span either directly or through the stage buffer.
// Callers flush the stage first whenever stageBlocks reports that span
// cannot join it, so an append here never exceeds the stage's capacity.
func (p *Parser) emitPartData(span []byte) error {
	if len(span) == 0 {
		return nil
	}
	if p.stage == nil {
		return p.dispatchPartData(span)
	}
	if len(span) >= p.threshold && len(p.stage) == 0 {
		return p.dispatchPartData(span)
	}
	p.stage = append(p.stage, span...)
	if len(p.stage) >= p.threshold {
		return p.flushStage()
	}
	return nil
}

// stageBlocks reports whether the stage holds fragments that must be
// delivered before a span of n bytes can be processed.
func (p *Parser) stageBlocks(n int) bool {
	return len(p.stage) > 0 && (n >= p.threshold || len(p.stage)+n > p.threshold)
}

// flushStage delivers and clears staged fragments. The stage is cleared
// even when the hook pauses; the bytes were delivered.
func (p *Parser) flushStage() error {
	if len(p.stage) == 0 {
		return nil
	}
	span := p.stage
	p.stage = p.stage[:0]
	return p.dispatchPartData(span)
}

func (p *Parser) dispatchPartData(span []byte) error {
	if len(span) == 0 || p.hooks.OnPartData == nil {
		return nil
	}
	return p.hooks.OnPartData(p, span)
}
