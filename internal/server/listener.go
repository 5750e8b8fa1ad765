package server

import (
	"bufio"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// recordTypeHandshake is the first byte of every TLS ClientHello.
const recordTypeHandshake = 0x16

const sniffTimeout = 10 * time.Second

// dualListener splits one TCP listener into a TLS side and a plaintext side
// by sniffing the first byte each client sends.
type dualListener struct {
	ln     net.Listener
	tls    *connQueue
	plain  *connQueue
	logger *slog.Logger
}

func newDualListener(ln net.Listener, logger *slog.Logger) *dualListener {
	return &dualListener{
		ln:     ln,
		tls:    newConnQueue(ln.Addr()),
		plain:  newConnQueue(ln.Addr()),
		logger: logger,
	}
}

// TLS returns the listener for TLS clients; handshakes happen on Accept.
func (d *dualListener) TLS(cfg *tls.Config) net.Listener {
	return tls.NewListener(d.tls, cfg)
}

// Plain returns the listener for clients speaking plaintext HTTP.
func (d *dualListener) Plain() net.Listener {
	return d.plain
}

// Serve accepts connections until the underlying listener is closed.
func (d *dualListener) Serve() error {
	defer d.tls.Close()
	defer d.plain.Close()

	for {
		conn, err := d.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go d.route(conn)
	}
}

func (d *dualListener) Close() error {
	return d.ln.Close()
}

func (d *dualListener) route(conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(sniffTimeout))
	br := bufio.NewReader(conn)
	first, err := br.Peek(1)
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		d.logger.Debug("dropping connection before first byte", "remote", conn.RemoteAddr().String(), "error", err)
		_ = conn.Close()
		return
	}

	peeked := &peekedConn{Conn: conn, r: br}
	if first[0] == recordTypeHandshake {
		d.tls.push(peeked)
	} else {
		d.plain.push(peeked)
	}
}

// peekedConn replays bytes buffered while sniffing.
type peekedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *peekedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// connQueue is a net.Listener fed by dualListener.
type connQueue struct {
	conns chan net.Conn
	done  chan struct{}
	once  sync.Once
	addr  net.Addr
}

func newConnQueue(addr net.Addr) *connQueue {
	return &connQueue{
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
		addr:  addr,
	}
}

func (q *connQueue) push(conn net.Conn) {
	select {
	case q.conns <- conn:
	case <-q.done:
		_ = conn.Close()
	}
}

func (q *connQueue) Accept() (net.Conn, error) {
	select {
	case conn := <-q.conns:
		return conn, nil
	case <-q.done:
		return nil, net.ErrClosed
	}
}

func (q *connQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

func (q *connQueue) Addr() net.Addr {
	return q.addr
}

// redirectToHTTPS sends plaintext clients to the same URL over TLS.
func redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	target := "https://" + r.Host + r.URL.RequestURI()
	http.Redirect(w, r, target, http.StatusPermanentRedirect)
}
