package rapidpart

// parserState is the current position in the multipart grammar. Most values
// refer to the previously seen characters in the stream, which decide how the
// next byte has to be handled.
type parserState int

const (
	sStart            parserState = iota // first byte of the message decides open boundary vs preamble
	sPreamble                            // discarding bytes before the first delimiter line
	sPreambleCR                          // CR seen inside the preamble
	sPreambleBoundary                    // matching a delimiter candidate at a preamble line start
	sOpenBoundary                        // matching the opening "--" boundary
	sOpenBoundaryCR                      // opening delimiter token matched, CR expected
	sHeaderFieldStart                    // at the start of a header line
	sHeaderField                         // inside a header name
	sHeadersAlmostDone                   // blank line CR seen, LF ends the header block
	sHeaderValueStart                    // after ':', at most one space is skipped
	sHeaderValue                         // inside a header value
	sHeaderValueAlmostDone               // value CR seen, LF expected
	sPartData                            // streaming part payload
	sPartDataCR                          // CR seen in part data, may open a delimiter
	sPartDataBoundary                    // comparing lookbehind bytes against "--" boundary
	sBoundaryAlmostEnd                   // boundary matched, CR (separator) or '-' (terminator) decides
	sBoundaryFinalHyphen                 // first terminator hyphen seen
	sBoundaryEnd                         // separator CR seen, LF starts the next part
	sEnd                                 // terminator consumed, epilogue is discarded
	sError                               // sink until Reset
)

var stateNames = [...]string{
	sStart:                 "start",
	sPreamble:              "preamble",
	sPreambleCR:            "preamble-cr",
	sPreambleBoundary:      "preamble-boundary",
	sOpenBoundary:          "open-boundary",
	sOpenBoundaryCR:        "open-boundary-cr",
	sHeaderFieldStart:      "header-field-start",
	sHeaderField:           "header-field",
	sHeadersAlmostDone:     "headers-almost-done",
	sHeaderValueStart:      "header-value-start",
	sHeaderValue:           "header-value",
	sHeaderValueAlmostDone: "header-value-almost-done",
	sPartData:              "part-data",
	sPartDataCR:            "part-data-cr",
	sPartDataBoundary:      "part-data-boundary",
	sBoundaryAlmostEnd:     "boundary-almost-end",
	sBoundaryFinalHyphen:   "boundary-final-hyphen",
	sBoundaryEnd:           "boundary-end",
	sEnd:                   "end",
	sError:                 "error",
}

func (s parserState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
