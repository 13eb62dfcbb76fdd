package comms

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

// Terminator ends every frame on the wire. Payloads may not contain it.
const Terminator byte = '\n'

// FrameReader splits a byte stream into newline-terminated frames.
//
// Bytes that do not yet form a complete frame are kept as a list of chunks,
// one per read. Only the most recent chunk can hold a terminator, so only that
// one is inspected.
type FrameReader struct {
	r       *bufio.Reader
	pending [][]byte
}

// NewFrameReader returns a FrameReader reading from r
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// Next returns the next complete frame without its terminator. It blocks only
// when the pending bytes hold no terminator, so frames that arrived together
// in one read are all returned before the next read.
//
// io.EOF is returned when the remote side closed the stream.
func (fr *FrameReader) Next() (string, error) {
	for !fr.hasFrame() {
		chunk, err := fr.readChunk()
		if err != nil {
			return "", err
		}
		fr.pending = append(fr.pending, chunk)
	}

	last := fr.pending[len(fr.pending)-1]
	i := bytes.IndexByte(last, Terminator)
	if i == len(last)-1 {
		// the pending chunks hold exactly one frame
		frame := fr.join(last[:i])
		fr.pending = fr.pending[:0]
		return frame, nil
	}

	frame := fr.join(last[:i])
	rest := append([]byte(nil), last[i+1:]...)
	fr.pending = append(fr.pending[:0], rest)
	return frame, nil
}

// Pending returns the buffered bytes of the incomplete frame.
func (fr *FrameReader) Pending() []byte {
	return bytes.Join(fr.pending, nil)
}

func (fr *FrameReader) hasFrame() bool {
	if len(fr.pending) == 0 {
		return false
	}
	return bytes.IndexByte(fr.pending[len(fr.pending)-1], Terminator) >= 0
}

// readChunk blocks for one byte, then takes whatever else the last read
// already buffered.
func (fr *FrameReader) readChunk() ([]byte, error) {
	first, err := fr.r.ReadByte()
	if err != nil {
		if errors.Is(err, io.ErrNoProgress) {
			// repeated zero-length reads
			return nil, io.EOF
		}
		return nil, err
	}

	chunk := make([]byte, 1+fr.r.Buffered())
	chunk[0] = first
	if _, err := io.ReadFull(fr.r, chunk[1:]); err != nil {
		return nil, err
	}
	return chunk, nil
}

// join concatenates all pending chunks except the last, followed by tail.
func (fr *FrameReader) join(tail []byte) string {
	var sb strings.Builder
	for _, c := range fr.pending[:len(fr.pending)-1] {
		sb.Write(c)
	}
	sb.Write(tail)
	return sb.String()
}

// EncodeFrame appends the terminator to payload. It fails with
// ErrInvalidPayload if payload already contains one.
func EncodeFrame(payload string) ([]byte, error) {
	if strings.IndexByte(payload, Terminator) >= 0 {
		return nil, ErrInvalidPayload
	}
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	return append(buf, Terminator), nil
}
