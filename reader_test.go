package rapidpart

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func formMessage(t testing.TB, boundary string, file []byte) []byte {
	t.Helper()

	buf := new(bytes.Buffer)
	w, err := NewWriter(buf, boundary)
	require.NoError(t, err)

	require.NoError(t, w.WriteField("greeting", "hello"))

	pw, err := w.CreateFormFile("upload", "data.bin")
	require.NoError(t, err)
	_, err = pw.Write(file)
	require.NoError(t, err)

	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestReaderParts(t *testing.T) {
	// larger than the default read buffer, so the window wraps
	file := make([]byte, 100*1024)
	_, err := rand.Read(file)
	require.NoError(t, err)

	msg := formMessage(t, "reader-test", file)
	r := NewReader(bytes.NewReader(msg), "reader-test")

	part, err := r.NextPart()
	require.NoError(t, err)
	require.Equal(t, "greeting", part.FormName())
	require.Empty(t, part.FileName())
	b, err := io.ReadAll(part)
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))

	part, err = r.NextPart()
	require.NoError(t, err)
	require.Equal(t, "upload", part.FormName())
	require.Equal(t, "data.bin", part.FileName())
	require.Equal(t, "application/octet-stream", part.Header.Get("Content-Type"))
	b, err = io.ReadAll(part)
	require.NoError(t, err)
	require.Equal(t, file, b)

	_, err = r.NextPart()
	require.ErrorIs(t, err, io.EOF)
}

// TestReaderSplitReads delivers the stream one byte per Read call.
func TestReaderSplitReads(t *testing.T) {
	file := []byte("file contents with a lone \r in them")
	msg := formMessage(t, "split", file)

	r := NewReader(iotest.OneByteReader(bytes.NewReader(msg)), "split")

	part, err := r.NextPart()
	require.NoError(t, err)
	require.Equal(t, "greeting", part.FormName())
	b, err := io.ReadAll(part)
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))

	part, err = r.NextPart()
	require.NoError(t, err)
	require.Equal(t, "data.bin", part.FileName())
	b, err = io.ReadAll(part)
	require.NoError(t, err)
	require.Equal(t, file, b)

	_, err = r.NextPart()
	require.ErrorIs(t, err, io.EOF)
}

func TestReaderHeaderCanonicalization(t *testing.T) {
	msg := "--h\r\ncontent-type: text/plain\r\nx-custom-tag: a\r\nx-custom-tag: b\r\n\r\nbody\r\n--h--"
	r := NewReader(strings.NewReader(msg), "h")

	part, err := r.NextPart()
	require.NoError(t, err)
	require.Equal(t, "text/plain", part.Header.Get("Content-Type"))
	require.Equal(t, []string{"a", "b"}, part.Header.Values("X-Custom-Tag"))

	b, err := io.ReadAll(part)
	require.NoError(t, err)
	require.Equal(t, "body", string(b))
}

func TestReaderSkipsUnreadPart(t *testing.T) {
	msg := "--b\r\nA: one\r\n\r\nfirst part payload\r\n--b\r\nB: two\r\n\r\nsecond\r\n--b--"
	r := NewReader(strings.NewReader(msg), "b")

	_, err := r.NextPart()
	require.NoError(t, err)

	// the first part is never read; NextPart discards its payload
	part, err := r.NextPart()
	require.NoError(t, err)
	require.Equal(t, "two", part.Header.Get("B"))
	b, err := io.ReadAll(part)
	require.NoError(t, err)
	require.Equal(t, "second", string(b))

	_, err = r.NextPart()
	require.ErrorIs(t, err, io.EOF)
}

func TestReaderTruncated(t *testing.T) {
	full := simpleMessage("X", "hello world")

	t.Run("mid payload", func(t *testing.T) {
		r := NewReader(strings.NewReader(full[:len(full)-9]), "X")
		part, err := r.NextPart()
		require.NoError(t, err)
		_, err = io.ReadAll(part)
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("mid headers", func(t *testing.T) {
		r := NewReader(strings.NewReader("--X\r\nContent-"), "X")
		_, err := r.NextPart()
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("empty source", func(t *testing.T) {
		r := NewReader(strings.NewReader(""), "X")
		_, err := r.NextPart()
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}

func TestReaderInvalidInput(t *testing.T) {
	r := NewReader(strings.NewReader("--X\r\nContent@Type: v\r\n\r\nx\r\n--X--"), "X")
	_, err := r.NextPart()
	require.ErrorIs(t, err, ErrInvalidHeaderField)
}

func TestReaderSmallWindow(t *testing.T) {
	file := bytes.Repeat([]byte("0123456789abcdef"), 64)
	msg := formMessage(t, "win", file)

	r := NewReader(bytes.NewReader(msg), "win", WithReadBuffer(64))

	part, err := r.NextPart()
	require.NoError(t, err)
	b, err := io.ReadAll(part)
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))

	part, err = r.NextPart()
	require.NoError(t, err)
	b, err = io.ReadAll(part)
	require.NoError(t, err)
	require.Equal(t, file, b)
}

func TestReaderConcurrentInstances(t *testing.T) {
	file := make([]byte, 8*1024)
	_, err := rand.Read(file)
	require.NoError(t, err)
	msg := formMessage(t, "conc", file)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			r := NewReader(bytes.NewReader(msg), "conc")
			parts := 0
			for {
				part, err := r.NextPart()
				if err == io.EOF {
					break
				}
				if err != nil {
					return err
				}
				parts++
				b, err := io.ReadAll(part)
				if err != nil {
					return err
				}
				if part.FileName() == "data.bin" && !bytes.Equal(b, file) {
					return fmt.Errorf("file payload mismatch, got %d bytes", len(b))
				}
			}
			if parts != 2 {
				return fmt.Errorf("read %d parts, want 2", parts)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}
