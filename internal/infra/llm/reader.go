package llm

import (
	"context"
	"errors"
	"io"
	"unicode/utf8"
)

// readBufferSize is the per-read buffer for the response body pump.
const readBufferSize = 4096

// ReadStream pumps decoded text chunks from a response body to emit until
// end-of-stream or cancellation.
//
// The context is checked before every read; once cancellation is observed no
// further emit calls are made and ctx.Err() is returned — the caller treats
// that as a benign termination, not a user-facing error. A chunk boundary
// may split a multi-byte character, so a trailing incomplete rune is held
// back and prepended to the next read. Whatever remains at end-of-stream is
// flushed as-is before returning.
func ReadStream(ctx context.Context, body io.Reader, emit func(text string)) error {
	buf := make([]byte, readBufferSize)
	var pending []byte

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			cut := completeRuneBoundary(pending)
			if cut > 0 {
				emit(string(pending[:cut]))
				pending = pending[cut:]
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return err
			}
			// End of stream: a provider may stop mid-character; surface the
			// tail bytes rather than dropping them.
			if len(pending) > 0 {
				emit(string(pending))
			}
			return nil
		}
	}
}

// completeRuneBoundary returns the length of the longest prefix of b that
// ends on a complete UTF-8 rune. Only the final few bytes can be incomplete,
// so the scan is bounded by utf8.UTFMax.
func completeRuneBoundary(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if r, size := utf8.DecodeRune(b[i:]); r == utf8.RuneError && size == 1 && len(b)-i < utf8.UTFMax {
			// Incomplete trailing rune — hold it back for the next read.
			return i
		}
		break
	}
	return len(b)
}
