package comm

import (
	"bufio"
	"io"
	"time"
)

// Terminators holds the transmit and receive termination bytes for a framed
// ASCII protocol.
type Terminators struct {
	Tx byte
	Rx byte
}

// terminated wraps a ReadWriter, appending the Tx terminator to each write
// and consuming through the Rx terminator on each read, stripping it from
// the returned data.
type terminated struct {
	rw  io.ReadWriter
	t   Terminators
	buf *bufio.Reader
}

// NewTerminator returns a ReadWriter which appends tx to writes and reads
// through rx, stripping it.
func NewTerminator(rw io.ReadWriter, tx, rx byte) io.ReadWriter {
	return &terminated{rw: rw, t: Terminators{Tx: tx, Rx: rx}, buf: bufio.NewReader(rw)}
}

func (t *terminated) Write(b []byte) (int, error) {
	n, err := t.rw.Write(append(b, t.t.Tx))
	if n > len(b) {
		n = len(b) // do not report the terminator byte to the caller
	}
	return n, err
}

func (t *terminated) Read(b []byte) (int, error) {
	data, err := t.buf.ReadBytes(t.t.Rx)
	if err != nil {
		return copy(b, data), err
	}
	return copy(b, data[:len(data)-1]), nil
}

// deadliner is satisfied by net.Conn and anything else carrying an absolute
// I/O deadline.
type deadliner interface {
	SetDeadline(time.Time) error
}

type timedOut struct {
	io.ReadWriter
	d       deadliner
	timeout time.Duration
}

// NewTimeout wraps rw so that each Read or Write refreshes an absolute
// deadline of timeout from now.  Streams that cannot carry a deadline
// (in-memory pipes in tests) are returned unwrapped.
func NewTimeout(rw io.ReadWriter, timeout time.Duration) (io.ReadWriter, error) {
	d, ok := underlying(rw).(deadliner)
	if !ok {
		return rw, nil
	}
	return &timedOut{ReadWriter: rw, d: d, timeout: timeout}, nil
}

// underlying unwraps terminated streams so the deadline lands on the conn.
func underlying(rw io.ReadWriter) interface{} {
	if t, ok := rw.(*terminated); ok {
		return underlying(t.rw)
	}
	return rw
}

func (t *timedOut) Read(b []byte) (int, error) {
	t.d.SetDeadline(time.Now().Add(t.timeout))
	return t.ReadWriter.Read(b)
}

func (t *timedOut) Write(b []byte) (int, error) {
	t.d.SetDeadline(time.Now().Add(t.timeout))
	return t.ReadWriter.Write(b)
}
