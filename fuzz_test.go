package rapidpart

import (
	"errors"
	"testing"
)

// FuzzExecute checks chunk invariance on arbitrary input: feeding a message
// whole and feeding it in fixed-size chunks must consume the same number of
// bytes, produce the same merged event stream, and fail with the same error
// class.
func FuzzExecute(f *testing.F) {
	f.Add([]byte("--fuzz\r\nContent-Type: text/plain\r\n\r\nhello\r\n--fuzz--"), uint8(3))
	f.Add([]byte("--fuzz\r\nA: one\r\n\r\nfirst\r\n--fuzz\r\nB: two\r\n\r\nsecond\r\n--fuzz--"), uint8(1))
	f.Add([]byte("preamble\r\n--fuzz\r\n\r\n\x00\x01\xFF\xFE\r\n--fuzz--\r\nepilogue"), uint8(7))
	f.Add([]byte("--fuzz\r\nContent@Type: v\r\n\r\nx\r\n--fuzz--"), uint8(2))
	f.Add([]byte("--wrong\r\n"), uint8(4))
	f.Add([]byte("--fuzz\r\nA: b\r\n\r\ndata\r\n--fuz!more\r\n--fuzz--"), uint8(5))

	sentinels := []error{ErrInvalidBoundary, ErrInvalidHeaderField, ErrInvalidHeaderFormat, ErrInvalidState, ErrPaused}

	f.Fuzz(func(t *testing.T, data []byte, chunk uint8) {
		size := int(chunk)%16 + 1

		whole := &recorder{}
		pw := NewParser("fuzz", whole.hooks())
		wholeN, wholeErr := pw.Execute(data)

		if wholeN > len(data) {
			t.Fatalf("consumed %d of %d bytes", wholeN, len(data))
		}
		if wholeErr == nil && wholeN != len(data) {
			t.Fatalf("clean parse consumed %d of %d bytes", wholeN, len(data))
		}

		chunked := &recorder{}
		pc := NewParser("fuzz", chunked.hooks())
		chunkedN := 0
		var chunkedErr error
		for off := 0; off < len(data); {
			end := min(off+size, len(data))
			n, err := pc.Execute(data[off:end])
			chunkedN += n
			if err != nil {
				chunkedErr = err
				break
			}
			off = end
		}

		if wholeN != chunkedN {
			t.Fatalf("whole feed consumed %d bytes, %d byte chunks consumed %d", wholeN, size, chunkedN)
		}
		for _, s := range sentinels {
			if errors.Is(wholeErr, s) != errors.Is(chunkedErr, s) {
				t.Fatalf("error class mismatch: whole %v, chunked %v", wholeErr, chunkedErr)
			}
		}

		// On malformed input the runs agree on consumed count and error
		// class; spans emitted right before the failing byte may differ
		// in coverage, so streams are only compared for clean parses.
		if wholeErr != nil {
			return
		}

		wm, cm := whole.merged(), chunked.merged()
		if len(wm) != len(cm) {
			t.Fatalf("event count mismatch: whole %d, chunked %d", len(wm), len(cm))
		}
		for i := range wm {
			if wm[i] != cm[i] {
				t.Fatalf("event %d mismatch: whole %+v, chunked %+v", i, wm[i], cm[i])
			}
		}
	})
}
