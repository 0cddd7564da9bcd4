package scpi

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/epmm-lab/pvtrack/comm"
)

type fakeConn struct {
	wrote     bytes.Buffer
	responses []string
	idx       int
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.wrote.Write(p)
	return len(p), nil
}

func (c *fakeConn) Read(p []byte) (int, error) {
	if c.idx >= len(c.responses) {
		return 0, io.EOF
	}
	r := c.responses[c.idx]
	c.idx++
	return copy(p, r), nil
}

func (c *fakeConn) Close() error { return nil }

func device(handshaking bool, responses ...string) (*SCPI, *fakeConn) {
	conn := &fakeConn{responses: responses}
	pool := comm.NewPool(1, time.Minute, func() (io.ReadWriteCloser, error) {
		return conn, nil
	})
	return &SCPI{Pool: pool, Handshaking: handshaking}, conn
}

func TestReadStringStripsLineEndings(t *testing.T) {
	s, _ := device(false, "KEITHLEY INSTRUMENTS INC.,MODEL 2400\r\n")
	got, err := s.ReadString("*IDN?")
	if err != nil {
		t.Fatal(err)
	}
	if got != "KEITHLEY INSTRUMENTS INC.,MODEL 2400" {
		t.Fatalf("got %q", got)
	}
}

func TestReadFloatsParsesArray(t *testing.T) {
	s, _ := device(false, "6.500000E-01,-2.000000E-02,1.000000E+00\n")
	vals, err := s.ReadFloats("READ?")
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{0.65, -0.02, 1}
	if len(vals) != 3 {
		t.Fatalf("got %d values", len(vals))
	}
	for k := range want {
		if vals[k] != want[k] {
			t.Errorf("vals[%d] = %g, want %g", k, vals[k], want[k])
		}
	}
}

func TestParseFloatsRejectsGarbage(t *testing.T) {
	if _, err := ParseFloats("1.0,banana,3.0"); err == nil {
		t.Fatal("malformed array element must error")
	}
}

func TestHandshakingAppendsErrorQuery(t *testing.T) {
	s, conn := device(true, "+0,\"No error\"\n")
	if err := s.Write(":output on"); err != nil {
		t.Fatal(err)
	}
	want := "*CLS; :output on ;:SYSTem:ERRor?\n"
	if got := conn.wrote.String(); got != want {
		t.Fatalf("wrote %q, want %q", got, want)
	}
}

func TestHandshakingSurfacesDeviceError(t *testing.T) {
	s, _ := device(true, "-221,\"Settings conflict\"\n")
	if err := s.Write(":output on"); err == nil {
		t.Fatal("a device error response must surface")
	}
}

func TestHandshakingStripsErrorFromReads(t *testing.T) {
	s, _ := device(true, "6.500000E-01;+0,\"No error\"\n")
	f, err := s.ReadFloat(":source:voltage:step?")
	if err != nil {
		t.Fatal(err)
	}
	if f != 0.65 {
		t.Fatalf("got %g", f)
	}
}

func TestWriteSendsTerminatedCommand(t *testing.T) {
	s, conn := device(false)
	if err := s.Write(":source:voltage 0.3000"); err != nil {
		t.Fatal(err)
	}
	if got := conn.wrote.String(); got != ":source:voltage 0.3000\n" {
		t.Fatalf("wrote %q", got)
	}
}
