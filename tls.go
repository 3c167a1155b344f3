package aio

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TLSVersion enumerates the negotiable protocol versions, mirroring
// the original's aio::net::ssl::Version enum.
type TLSVersion int

const (
	TLSVersion1 TLSVersion = iota
	TLSVersion11
	TLSVersion12
	TLSVersion13
)

func (v TLSVersion) stdlib() uint16 {
	switch v {
	case TLSVersion1:
		return tls.VersionTLS10
	case TLSVersion11:
		return tls.VersionTLS11
	case TLSVersion12:
		return tls.VersionTLS12
	case TLSVersion13:
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}

// TLSConfig configures a TLS Context, the Go analog of the original's
// ssl::Config — deliberately built on crypto/tls directly rather than a
// third-party binding: nothing in the example pack offers a Go TLS
// engine, and crypto/tls is the only library the ecosystem actually
// uses to speak TLS from Go (see DESIGN.md).
type TLSConfig struct {
	MinVersion, MaxVersion TLSVersion
	CA                     []byte // PEM-encoded CA bundle
	Cert, PrivateKey       []byte // PEM-encoded leaf certificate and key
	Insecure               bool   // skip peer certificate verification
	Server                 bool   // server role; with CA set, client certificates are required and verified against it
}

func (cfg TLSConfig) toStdlib(serverName string) (*tls.Config, error) {
	tc := &tls.Config{
		MinVersion:         cfg.MinVersion.stdlib(),
		MaxVersion:         cfg.MaxVersion.stdlib(),
		InsecureSkipVerify: cfg.Insecure,
		ServerName:         serverName,
	}
	if len(cfg.CA) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(cfg.CA) {
			return nil, newError(CodeSSL, "failed to parse CA bundle")
		}
		if cfg.Server {
			tc.ClientCAs = pool
			tc.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			tc.RootCAs = pool
		}
	}
	if len(cfg.Cert) > 0 && len(cfg.PrivateKey) > 0 {
		cert, err := tls.X509KeyPair(cfg.Cert, cfg.PrivateKey)
		if err != nil {
			return nil, wrapError(CodeSSL, "failed to parse certificate/key pair", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

// tlsBuffer adapts a blocking *tls.Conn to the Buffer interface: every
// operation is dispatched to one of two dedicated Worker threads (one
// per direction, so a blocked read never stalls a write), settling its
// Continuation back on the reactor. bufio.Reader supplies Peek and
// delimiter scanning over the otherwise byte-stream-only tls.Conn.
type tlsBuffer struct {
	reactor                *Reactor
	conn                   *tls.Conn
	br                     *bufio.Reader
	readWorker, writeWorker *Worker

	mu                                           sync.Mutex
	readPending, waitClosedPending, closed bool

	localAddr, remoteAddr *Address
}

func newTLSBuffer(r *Reactor, conn *tls.Conn) *tlsBuffer {
	return &tlsBuffer{
		reactor:     r,
		conn:        conn,
		br:          bufio.NewReaderSize(conn, 65536),
		readWorker:  NewWorker(r),
		writeWorker: NewWorker(r),
	}
}

func mapIOError(err error) error {
	if err == nil {
		return nil
	}
	if err == io.EOF {
		return ErrEOF
	}
	if os.IsTimeout(err) {
		return ErrTimeout
	}
	return wrapError(CodeSSL, "tls i/o", err)
}

func (b *tlsBuffer) guardRead() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBadResource
	}
	if b.waitClosedPending || b.readPending {
		return ErrBusy
	}
	return nil
}

func (b *tlsBuffer) beginRead() { b.mu.Lock(); b.readPending = true; b.mu.Unlock() }
func (b *tlsBuffer) endRead()   { b.mu.Lock(); b.readPending = false; b.mu.Unlock() }

// Read returns whatever bytes the next Read syscall produces.
func (b *tlsBuffer) Read() *Continuation[[]byte] { return b.ReadN(65536) }

// ReadN returns up to n bytes.
func (b *tlsBuffer) ReadN(n int) *Continuation[[]byte] {
	if err := b.guardRead(); err != nil {
		return Reject[[]byte](b.reactor, err)
	}
	b.beginRead()
	out := Submit(b.readWorker, func() ([]byte, error) {
		buf := make([]byte, n)
		nn, err := b.br.Read(buf)
		if err != nil && nn == 0 {
			return nil, mapIOError(err)
		}
		return buf[:nn], nil
	})
	out.Then(func([]byte) { b.endRead() }).Fail(func(error) { b.endRead() })
	return out
}

// ReadExactly returns exactly n bytes, or EOF if the peer closes first.
func (b *tlsBuffer) ReadExactly(n int) *Continuation[[]byte] {
	if err := b.guardRead(); err != nil {
		return Reject[[]byte](b.reactor, err)
	}
	b.beginRead()
	out := Submit(b.readWorker, func() ([]byte, error) {
		buf := make([]byte, n)
		_, err := io.ReadFull(b.br, buf)
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		if err != nil {
			return nil, mapIOError(err)
		}
		return buf, nil
	})
	out.Then(func([]byte) { b.endRead() }).Fail(func(error) { b.endRead() })
	return out
}

// Peek returns exactly n bytes without consuming them.
func (b *tlsBuffer) Peek(n int) *Continuation[[]byte] {
	if err := b.guardRead(); err != nil {
		return Reject[[]byte](b.reactor, err)
	}
	b.beginRead()
	out := Submit(b.readWorker, func() ([]byte, error) {
		buf, err := b.br.Peek(n)
		if err != nil {
			return nil, mapIOError(err)
		}
		cp := make([]byte, len(buf))
		copy(cp, buf)
		return cp, nil
	})
	out.Then(func([]byte) { b.endRead() }).Fail(func(error) { b.endRead() })
	return out
}

// ReadLine returns one line with its delimiter consumed and stripped.
func (b *tlsBuffer) ReadLine(style EOLStyle) *Continuation[string] {
	if err := b.guardRead(); err != nil {
		return Reject[string](b.reactor, err)
	}
	b.beginRead()
	out := Submit(b.readWorker, func() (string, error) {
		s, err := readLineFromReader(b.br, style)
		if err != nil {
			return "", mapIOError(err)
		}
		return s, nil
	})
	out.Then(func(string) { b.endRead() }).Fail(func(error) { b.endRead() })
	return out
}

func readLineFromReader(br *bufio.Reader, style EOLStyle) (string, error) {
	var line strings.Builder
	for {
		b, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		switch style {
		case NUL:
			if b == 0 {
				return line.String(), nil
			}
		case LF:
			if b == '\n' {
				return line.String(), nil
			}
		case CRLF, CRLFStrict:
			if b == '\n' {
				return strings.TrimSuffix(line.String(), "\r"), nil
			}
		case ANY:
			if b == '\n' || b == '\r' {
				return line.String(), nil
			}
		}
		line.WriteByte(b)
	}
}

// Submit queues data for write on the dedicated write worker; errors
// surface via a subsequent Drain, Read, or Close.
func (b *tlsBuffer) Submit(data []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrEOF
	}
	b.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	Submit(b.writeWorker, func() (struct{}, error) {
		_, err := b.conn.Write(cp)
		return struct{}{}, err
	}).Fail(func(error) {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
	})
	return nil
}

// WriteLine submits line followed by style's delimiter bytes.
func (b *tlsBuffer) WriteLine(line string, style EOLStyle) error {
	delim, err := style.delimiter()
	if err != nil {
		return err
	}
	if err := b.Submit([]byte(line)); err != nil {
		return err
	}
	return b.Submit(delim)
}

// Write submits data, then waits for it to drain.
func (b *tlsBuffer) Write(data []byte) *Continuation[struct{}] {
	if err := b.Submit(data); err != nil {
		return Reject[struct{}](b.reactor, err)
	}
	return b.Drain()
}

// Drain resolves once every write submitted before this call has
// completed: the write worker processes its task queue in order, so a
// trailing no-op task is a correct barrier.
func (b *tlsBuffer) Drain() *Continuation[struct{}] {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return Reject[struct{}](b.reactor, ErrEOF)
	}
	return Submit(b.writeWorker, func() (struct{}, error) { return struct{}{}, nil })
}

// WaitClosed resolves once the peer closes the connection (EOF).
func (b *tlsBuffer) WaitClosed() *Continuation[struct{}] {
	if err := b.guardRead(); err != nil {
		return Reject[struct{}](b.reactor, err)
	}
	b.mu.Lock()
	b.waitClosedPending = true
	b.mu.Unlock()

	out := Submit(b.readWorker, func() (struct{}, error) {
		_, err := b.br.Peek(1)
		if err == io.EOF {
			return struct{}{}, nil
		}
		if err != nil {
			return struct{}{}, mapIOError(err)
		}
		return struct{}{}, newError(CodeIOError, "data arrived while waiting for close")
	})
	out.Then(func(struct{}) {
		b.mu.Lock()
		b.waitClosedPending = false
		b.mu.Unlock()
	}).Fail(func(error) {
		b.mu.Lock()
		b.waitClosedPending = false
		b.mu.Unlock()
	})
	return out
}

// SetTimeout is a no-op: a TLS session's read/write deadlines are
// applied per blocking call on net.Conn rather than centrally, and
// nothing in this package currently needs per-call TLS deadlines.
func (b *tlsBuffer) SetTimeout(read, write time.Duration) {}

// Pending always reports 0: the write worker has no externally
// observable queue depth once a write task has been submitted to it.
func (b *tlsBuffer) Pending() int { return 0 }

// Available reports the number of bytes already buffered by the
// internal bufio.Reader.
func (b *tlsBuffer) Available() int { return b.br.Buffered() }

// FD always reports -1: a TLS session has no single well-defined
// non-blocking file descriptor once wrapped by crypto/tls.
func (b *tlsBuffer) FD() int { return -1 }

// Close closes the underlying connection and stops both workers.
func (b *tlsBuffer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrEOF
	}
	b.closed = true
	b.mu.Unlock()

	err := b.conn.Close()
	b.readWorker.Close()
	b.writeWorker.Close()
	if err != nil {
		return wrapError(CodeSSL, "close", err)
	}
	return nil
}

var _ Buffer = (*tlsBuffer)(nil)

// TLSListener accepts inbound TLS connections, performing the
// handshake before yielding each Buffer.
type TLSListener struct {
	reactor *Reactor
	ln      net.Listener
	cfg     *tls.Config
}

// ListenTLS binds host:port and wraps it for TLS using cfg.
func ListenTLS(r *Reactor, host string, port int, cfg TLSConfig) (*TLSListener, error) {
	std, err := cfg.toStdlib("")
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, wrapError(CodeIOError, "listen", err)
	}
	return &TLSListener{reactor: r, ln: ln, cfg: std}, nil
}

// Accept waits for and handshakes the next inbound TLS connection.
func (l *TLSListener) Accept() *Continuation[Buffer] {
	return ThenChain(
		ToThread(l.reactor, func() (net.Conn, error) {
			conn, err := l.ln.Accept()
			if err != nil {
				return nil, wrapError(CodeIOError, "accept", err)
			}
			return tls.Server(conn, l.cfg), nil
		}),
		func(conn net.Conn) *Continuation[Buffer] {
			tconn := conn.(*tls.Conn)
			return ThenMap(
				ToThread(l.reactor, func() (struct{}, error) { return struct{}{}, tconn.Handshake() }),
				func(struct{}) (Buffer, error) { return newTLSBuffer(l.reactor, tconn), nil },
			)
		},
	)
}

// Close stops accepting new connections.
func (l *TLSListener) Close() error {
	if err := l.ln.Close(); err != nil {
		return wrapError(CodeIOError, "close", err)
	}
	return nil
}

// ConnectTLS dials host:port and performs a TLS handshake over it, with
// hostname verification (SNI set to host, no partial wildcards per
// crypto/tls's own rules) unless cfg.Insecure is set.
func ConnectTLS(r *Reactor, host string, port int, cfg TLSConfig) *Continuation[Buffer] {
	std, err := cfg.toStdlib(host)
	if err != nil {
		return Reject[Buffer](r, err)
	}
	return ThenChain(
		ToThread(r, func() (net.Conn, error) {
			return net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		}),
		func(raw net.Conn) *Continuation[Buffer] {
			tconn := tls.Client(raw, std)
			return ThenMap(
				ToThread(r, func() (struct{}, error) { return struct{}{}, tconn.Handshake() }),
				func(struct{}) (Buffer, error) { return newTLSBuffer(r, tconn), nil },
			)
		},
	)
}
