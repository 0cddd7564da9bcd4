package shutter

import (
	"bufio"
	"net"
	"testing"
	"time"
)

// lineServer accepts connections and forwards each newline-terminated
// command it receives.
func lineServer(t *testing.T) (addr string, lines <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	ch := make(chan string, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				sc := bufio.NewScanner(c)
				for sc.Scan() {
					ch <- sc.Text()
				}
			}(conn)
		}
	}()
	return ln.Addr().String(), ch
}

func recv(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a shutter command")
		return ""
	}
}

func TestNewOpensShutter(t *testing.T) {
	addr, lines := lineServer(t)
	c, err := New(addr, "101")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := recv(t, lines), ":SOURce:DIGital:DATA 0, (@101)"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if !c.Present() {
		t.Fatal("a live controller must report itself present")
	}
}

func TestCloseLeavesShutterClosed(t *testing.T) {
	addr, lines := lineServer(t)
	c, err := New(addr, "7")
	if err != nil {
		t.Fatal(err)
	}
	recv(t, lines) // the initial open
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if got, want := recv(t, lines), ":SOURce:DIGital:DATA 1, (@7)"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNewFailsWhenDAQUnreachable(t *testing.T) {
	// a listener that is immediately closed leaves a port nothing answers
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	if _, err := New(addr, "101"); err == nil {
		t.Fatal("an unreachable DAQ must surface to the caller")
	}
}

func TestNopToleratesEverything(t *testing.T) {
	var s Shutter = Nop{}
	if s.Present() {
		t.Fatal("Nop must report absent hardware")
	}
	if err := s.Set(true); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(false); err != nil {
		t.Fatal(err)
	}
}
