// Package recordio frames decoded VBI records for transport over byte
// streams.
//
// Wire format, all integers QUIC variable-length:
//
//	frame:  [MsgFrame] [sequence] [record count] record...
//	record: [service id] [line] [length] [payload]
package recordio

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"

	"github.com/zsiec/rawvbi/rawdec"
	"github.com/zsiec/rawvbi/service"
)

// Message types.
const (
	MsgFrame uint64 = 0x01
)

// Limits enforced by Reader.
const (
	MaxRecordSize      = 4096
	MaxRecordsPerFrame = 2048
)

// Sentinel errors for record framing.
var (
	ErrRecordTooLarge  = errors.New("recordio: record too large")
	ErrTooManyRecords  = errors.New("recordio: too many records in frame")
	ErrUnknownMessage  = errors.New("recordio: unknown message type")
	ErrServiceOverflow = errors.New("recordio: service id exceeds 32 bits")
)

// ParseError indicates a failure to parse one field of a frame. It wraps
// the underlying I/O or format error.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("recordio: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Frame is the set of records decoded from one video frame.
type Frame struct {
	Seq     uint64
	Records []rawdec.Record
}

// AppendFrame appends the encoding of a frame to buf.
func AppendFrame(buf []byte, seq uint64, recs []rawdec.Record) []byte {
	buf = quicvarint.Append(buf, MsgFrame)
	buf = quicvarint.Append(buf, seq)
	buf = quicvarint.Append(buf, uint64(len(recs)))
	for _, r := range recs {
		buf = quicvarint.Append(buf, uint64(r.ID))
		buf = quicvarint.Append(buf, uint64(max(r.Line, 0)))
		buf = quicvarint.Append(buf, uint64(len(r.Data)))
		buf = append(buf, r.Data...)
	}
	return buf
}

// Writer writes frames to an io.Writer, one Write call per frame.
type Writer struct {
	w   io.Writer
	buf []byte
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame writes one frame.
func (w *Writer) WriteFrame(seq uint64, recs []rawdec.Record) error {
	for _, r := range recs {
		if len(r.Data) > MaxRecordSize {
			return fmt.Errorf("%w: %d bytes on line %d", ErrRecordTooLarge, len(r.Data), r.Line)
		}
	}
	w.buf = AppendFrame(w.buf[:0], seq, recs)
	_, err := w.w.Write(w.buf)
	return err
}

// Reader reads frames from an io.Reader.
type Reader struct {
	br io.ByteReader
	r  io.Reader
}

// NewReader returns a Reader on r. Readers that are not io.ByteReaders are
// buffered.
func NewReader(r io.Reader) *Reader {
	br, ok := r.(io.ByteReader)
	if !ok {
		b := bufio.NewReader(r)
		return &Reader{br: b, r: b}
	}
	return &Reader{br: br, r: r}
}

// ReadFrame reads the next frame. It returns io.EOF when the stream ends
// between frames.
func (r *Reader) ReadFrame() (Frame, error) {
	var f Frame
	msg, err := quicvarint.Read(r.br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return f, io.EOF
		}
		return f, &ParseError{Field: "message_type", Err: err}
	}
	if msg != MsgFrame {
		return f, &ParseError{Field: "message_type", Err: fmt.Errorf("%w %#x", ErrUnknownMessage, msg)}
	}

	if f.Seq, err = r.varint("sequence"); err != nil {
		return f, err
	}
	n, err := r.varint("record_count")
	if err != nil {
		return f, err
	}
	if n > MaxRecordsPerFrame {
		return f, &ParseError{Field: "record_count", Err: fmt.Errorf("%w: %d", ErrTooManyRecords, n)}
	}

	f.Records = make([]rawdec.Record, 0, n)
	for i := uint64(0); i < n; i++ {
		rec, err := r.readRecord()
		if err != nil {
			return f, err
		}
		f.Records = append(f.Records, rec)
	}
	return f, nil
}

func (r *Reader) readRecord() (rawdec.Record, error) {
	var rec rawdec.Record
	id, err := r.varint("service_id")
	if err != nil {
		return rec, err
	}
	if id > 0xFFFFFFFF {
		return rec, &ParseError{Field: "service_id", Err: ErrServiceOverflow}
	}
	line, err := r.varint("line")
	if err != nil {
		return rec, err
	}
	if line > 1<<16 {
		return rec, &ParseError{Field: "line", Err: fmt.Errorf("line number %d out of range", line)}
	}
	length, err := r.varint("length")
	if err != nil {
		return rec, err
	}
	if length > MaxRecordSize {
		return rec, &ParseError{Field: "length", Err: fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, length)}
	}

	rec.ID = service.ID(id)
	rec.Line = int(line)
	rec.Data = make([]byte, length)
	if _, err := io.ReadFull(r.r, rec.Data); err != nil {
		return rec, &ParseError{Field: "payload", Err: unexpected(err)}
	}
	return rec, nil
}

// varint reads a field inside a frame, where the end of the stream is
// unexpected.
func (r *Reader) varint(field string) (uint64, error) {
	v, err := quicvarint.Read(r.br)
	if err != nil {
		return 0, &ParseError{Field: field, Err: unexpected(err)}
	}
	return v, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
