// Package scpi provides primitives for working with devices that have SCPI
// interfaces
package scpi

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/epmm-lab/pvtrack/comm"
)

const (
	timeout = 60 * time.Second

	// respBufSize bounds one response; large enough for a multi-thousand
	// element ASCII buffer read (a 600 point sweep is ~25 kB).
	respBufSize = 1 << 16
)

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent with every message to ensure the
	// device accepted the input
	Handshaking bool
}

func (s *SCPI) wrap(conn io.ReadWriter) (io.ReadWriter, error) {
	var rw io.ReadWriter
	rw = comm.NewTerminator(conn, '\n', '\n')
	return comm.NewTimeout(rw, timeout)
}

// Write sends a command to the device.  If s.Handshaking is true, it also
// requests an error response and checks that it is OK.  It is assumed this
// is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) error {
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap, err := s.wrap(conn)
	if err != nil {
		return err
	}
	if s.Handshaking {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:SYSTem:ERRor?")
	}
	str := strings.Join(cmds, " ")
	_, err = io.WriteString(wrap, str)
	if err != nil {
		return err
	}
	if s.Handshaking {
		buf := make([]byte, respBufSize)
		n, err := wrap.Read(buf)
		if err != nil {
			return err
		}
		resp := string(buf[:n])
		if !strings.HasPrefix(resp, "+0") && !strings.HasPrefix(resp, "0") {
			return fmt.Errorf("scpi: device error: %s", resp)
		}
	}
	return nil
}

// WriteRead is Write with a read call after.  It is assumed that "get"
// calls use this underlying mechanism.
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	var resp []byte
	conn, err := s.Pool.Get()
	if err != nil {
		return resp, err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap, err := s.wrap(conn)
	if err != nil {
		return resp, err
	}
	if s.Handshaking {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:SYSTem:ERRor?")
	}
	str := strings.Join(cmds, " ")
	_, err = io.WriteString(wrap, str)
	if err != nil {
		return resp, err
	}
	buf := make([]byte, respBufSize)
	n, err := wrap.Read(buf)
	if err != nil {
		return resp, err
	}
	resp = buf[:n]
	if s.Handshaking {
		pieces := bytes.Split(resp, []byte{';'})
		errS := string(pieces[len(pieces)-1])
		if !strings.HasPrefix(errS, "+0") && !strings.HasPrefix(errS, "0") {
			return resp, fmt.Errorf("scpi: device error: %s", errS)
		}
		return bytes.Join(pieces[:len(pieces)-1], []byte{';'}), nil
	}
	return resp, err
}

// ReadString sends a command to the device, then reads the response and
// returns it as a decoded ASCII or UTF-8 string.
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimRight(resp, "\r\n")), nil
}

// ReadFloat sends a command to the device, then reads the response and
// parses it as a floating point value.
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(resp), 64)
}

// ReadFloats sends a command to the device, then reads the response and
// parses it as a comma separated array of floating point values.  This is
// the wire format instruments use for both single READ? triples and buffered
// sweep acquisitions.
func (s *SCPI) ReadFloats(cmds ...string) ([]float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return nil, err
	}
	return ParseFloats(resp)
}

// ReadInt sends a command to the device, then reads the response and parses
// it as an integer.
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(resp))
}

// ReadBool sends a command to the device, then reads the response and parses
// it as a boolean.  SCPI devices reply 0/1 for OFF/ON.
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return false, err
	}
	switch strings.TrimSpace(resp) {
	case "0", "OFF":
		return false, nil
	case "1", "ON":
		return true, nil
	}
	return strconv.ParseBool(resp)
}

// Raw sends a command to the device and returns a response if it was a
// query, else a blank string.
func (s *SCPI) Raw(str string) (string, error) {
	prev := s.Handshaking
	s.Handshaking = false
	defer func() { s.Handshaking = prev }()
	if strings.Contains(str, "?") {
		return s.ReadString(str)
	}
	return "", s.Write(str)
}

// PopError gets a single error from the queue on the device
func (s *SCPI) PopError() error {
	str, err := s.ReadString("SYSTem:ERRor?")
	if err != nil {
		return err
	}
	if strings.HasPrefix(str, "+0") || strings.HasPrefix(str, "0") {
		return nil
	}
	return fmt.Errorf(str)
}

// AllErrors drains the error queue on the device and returns the contents
// as a list
func (s *SCPI) AllErrors() []error {
	var errs []error
	for {
		err := s.PopError()
		if err == nil {
			break
		}
		errs = append(errs, err)
	}
	return errs
}

// ParseFloats parses a comma separated ASCII array, the response format of
// instrument buffer queries.
func ParseFloats(resp string) ([]float64, error) {
	pieces := strings.Split(resp, ",")
	out := make([]float64, 0, len(pieces))
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		f, err := strconv.ParseFloat(piece, 64)
		if err != nil {
			return nil, fmt.Errorf("scpi: malformed array element %q: %w", piece, err)
		}
		out = append(out, f)
	}
	return out, nil
}
