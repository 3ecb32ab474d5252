package rapidpart

// DataHook receives a span of bytes belonging to the event it is registered
// for. The span is borrowed from the input (or from the parser's internal
// buffers) and is only valid for the duration of the call; copy it to retain
// it. Returning a non-nil error pauses the parser at the current offset, see
// [ErrPaused].
type DataHook func(p *Parser, data []byte) error

// Hook marks a lifecycle event. Returning a non-nil error pauses the parser
// at the current offset, see [ErrPaused].
type Hook func(p *Parser) error

// Hooks is the observer callback set. Every field is optional; a nil hook is
// skipped. Hooks must not call [Parser.Execute] or [Parser.Reset] on the
// parser they were invoked from.
type Hooks struct {
	// OnPartDataBegin fires when a delimiter line completes and a new part
	// starts.
	OnPartDataBegin Hook

	// OnHeaderField receives header name bytes. A long or split name may
	// arrive over several calls; the concatenation forms the name.
	OnHeaderField DataHook

	// OnHeaderValue receives header value bytes. The terminating CR is
	// never included.
	OnHeaderValue DataHook

	// OnHeadersComplete fires at the blank line ending a part's header
	// block.
	OnHeadersComplete Hook

	// OnPartData receives part payload bytes.
	OnPartData DataHook

	// OnPartDataEnd fires when the part's closing boundary has been
	// matched.
	OnPartDataEnd Hook

	// OnBodyEnd fires once, at the closing terminator of the message.
	OnBodyEnd Hook
}
