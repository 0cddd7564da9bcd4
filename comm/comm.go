/*Package comm provides connection plumbing for lab hardware.

The central type is Pool, which holds one or more connections to a device
and reclaims them after a period of disuse.  Device drivers take connections
from the pool for the duration of one command-response exchange and return
them when done, so a long-running process does not hold a terminal server
port open between measurements.

Connections are created by a CreationFunc; makers are provided for TCP
(with exponential backoff on dial, since terminal servers dislike being
connection thrashed) and RS-232 serial ports.
*/
package comm

import (
	"io"
	"sync"
	"time"
)

// CreationFunc returns a new "connection" to something.  Use a closure to
// encapsulate the address and options needed.
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool is a communication pool holding up to maxSize connections to a device
// that are closed if unused for the reclaim timeout and re-opened as needed.
// It is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	onLease int                     // number of connections given out
	timeout time.Duration           // idle time after which pooled connections are freed
	conns   chan io.ReadWriteCloser // the circular buffer of connections
	timer   *time.Timer
	maker   CreationFunc

	reclaiming bool
	mu         sync.Mutex
}

// NewPool creates a new Pool.  timeout is the idle period after all
// connections are returned before they are closed.
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		timer:   time.NewTimer(timeout),
		maker:   maker,
	}
	p.timer.Stop() // nothing to reclaim yet
	return p
}

// Get retrieves a connection from the pool, dialing a new one if none are
// idle and the pool is not at capacity, and blocking until one is returned
// if it is.  When done, return it with Put, or discard it with Destroy if it
// has gone bad (e.g., all calls error).  ReturnWithError does either based
// on an error value.
//
// If the error from Get is not nil, the connection must not be returned to
// the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	// stopping an expired timer is documented to be racy; a reclaimed
	// connection is simply re-dialed, so the race is benign here.
	p.timer.Stop()

	p.mu.Lock()
	if len(p.conns) > 0 {
		ret := <-p.conns
		p.onLease++
		p.mu.Unlock()
		return ret, nil
	}
	if p.onLease == p.maxSize {
		// all given out; release the lock so Put can run, then wait
		p.mu.Unlock()
		ret := <-p.conns
		p.mu.Lock()
		p.onLease++
		p.mu.Unlock()
		return ret, nil
	}
	defer p.mu.Unlock()
	c, err := p.maker()
	if err == nil {
		p.onLease++
	}
	return c, err
}

// Put restores a connection to the pool for reuse.  After all connections
// are returned and the idle timeout elapses, they are closed.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	p.conns <- rwc
	p.mu.Lock()
	p.onLease--
	idle := p.onLease == 0
	p.mu.Unlock()
	if idle {
		p.startReclaim()
	}
}

// Destroy immediately closes a connection instead of returning it to the
// pool.  Use instead of Put when the connection has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	rwc.Close()
	p.mu.Lock()
	p.onLease--
	p.mu.Unlock()
}

// ReturnWithError puts rw back in the pool if err is nil, otherwise destroys
// it.  Intended for use in a deferred call wrapping one command exchange.
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err != nil {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Size returns the number of connections owned by the pool, idle or leased.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns) + p.onLease
}

// Active returns the number of connections currently leased out.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

func (p *Pool) startReclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reclaiming {
		return
	}
	p.reclaiming = true
	p.timer.Reset(p.timeout)
	go func() {
		<-p.timer.C
		p.mu.Lock()
		defer p.mu.Unlock()
		for len(p.conns) > 0 {
			c := <-p.conns
			c.Close()
		}
		p.reclaiming = false
	}()
}
