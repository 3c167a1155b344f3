package aio

import (
	"time"

	"golang.org/x/sys/unix"
)

// DatagramMessage is one packet received via Datagram.ReadFrom, paired
// with the address it arrived from.
type DatagramMessage struct {
	Data []byte
	From Address
}

// Datagram is a connectionless UDP (or Unix SOCK_DGRAM) socket. Unlike
// ByteBuffer it has no internal read/write queue: each call maps
// directly to one recvfrom/sendto, retried whenever the kernel reports
// EAGAIN. readEvt and writeEvt are independent readiness waiters (the Go
// analog of the original's mEvents[READ_INDEX]/mEvents[WRITE_INDEX]), so
// a ReadFrom parked waiting for readability never blocks a concurrent
// WriteTo waiting for writability, or vice versa. Both are synthetic
// (fd -1): the poller only ever holds one registered callback per fd, so
// the fd itself is registered once, for the Datagram's lifetime, with
// onIO dispatching readiness to whichever of the two is actually
// pending — the same single-registration-fans-out-to-two-waiters shape
// ByteBuffer's onIO uses to drive its own read and write state inline.
type Datagram struct {
	reactor           *Reactor
	fd                int
	readEvt, writeEvt *ReadinessEvent

	readTimeout, writeTimeout time.Duration

	localAddr, peerAddr *Address
}

// NewDatagramSocket creates an unbound datagram socket of the given
// address family (unix.AF_INET, unix.AF_INET6 or unix.AF_UNIX).
func NewDatagramSocket(r *Reactor, family int) (*Datagram, error) {
	fd, err := unix.Socket(family, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, wrapError(CodeIOError, "socket", err)
	}
	d := &Datagram{
		reactor:  r,
		fd:       fd,
		readEvt:  NewReadinessEvent(r, -1),
		writeEvt: NewReadinessEvent(r, -1),
	}
	if err := r.p.registerFD(fd, 0, d.onIO); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return d, nil
}

// onIO is the poller callback registered for the lifetime of the fd: it
// routes readability/writability to whichever of readEvt/writeEvt is
// currently pending, then recomputes the fd's armed interest from what's
// still outstanding.
func (d *Datagram) onIO(ready ioInterest) {
	if ready&ioRead != 0 {
		d.readEvt.Trigger(Read)
	}
	if ready&ioWrite != 0 {
		d.writeEvt.Trigger(Write)
	}
	if ready&(ioError|ioHangup) != 0 {
		d.readEvt.Trigger(Closed)
		d.writeEvt.Trigger(Closed)
	}
	d.updateInterest()
}

// updateInterest arms exactly the poller interest the outstanding
// waiters need; called after onIO fires and after every On call, since a
// synthetic ReadinessEvent (fd -1) never touches the poller itself.
func (d *Datagram) updateInterest() {
	want := ioInterest(0)
	if d.readEvt.Pending() {
		want |= ioRead
	}
	if d.writeEvt.Pending() {
		want |= ioWrite
	}
	_ = d.reactor.p.modifyFD(d.fd, want)
}

// armRead waits for readability, independent of any pending write; a
// deadline elapsing first rejects with TIMEOUT.
func (d *Datagram) armRead(timeout time.Duration) *Continuation[Readiness] {
	c := d.readEvt.On(Read, timeout)
	d.updateInterest()
	return ThenMap(c, func(bits Readiness) (Readiness, error) {
		if bits&Timeout != 0 {
			return bits, ErrTimeout
		}
		return bits, nil
	})
}

// armWrite waits for writability, independent of any pending read; a
// deadline elapsing first rejects with TIMEOUT.
func (d *Datagram) armWrite(timeout time.Duration) *Continuation[Readiness] {
	c := d.writeEvt.On(Write, timeout)
	d.updateInterest()
	return ThenMap(c, func(bits Readiness) (Readiness, error) {
		if bits&Timeout != 0 {
			return bits, ErrTimeout
		}
		return bits, nil
	})
}

func familyOf(addr Address) int {
	switch addr.Kind {
	case AddrIPv4:
		return unix.AF_INET
	case AddrIPv6:
		return unix.AF_INET6
	default:
		return unix.AF_UNIX
	}
}

// BindDatagram creates and binds a datagram socket to addr.
func BindDatagram(r *Reactor, addr Address) (*Datagram, error) {
	d, err := NewDatagramSocket(r, familyOf(addr))
	if err != nil {
		return nil, err
	}
	sa, err := sockaddrFromAddress(addr)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	if err := unix.Bind(d.fd, sa); err != nil {
		_ = d.Close()
		return nil, wrapError(CodeIOError, "bind", err)
	}
	if addr.Kind != AddrUnix && addr.Port == 0 {
		if boundSA, serr := unix.Getsockname(d.fd); serr == nil {
			if bound, aerr := addressFromSockaddr(boundSA); aerr == nil {
				addr.Port = bound.Port
			}
		}
	}
	d.localAddr = &addr
	return d, nil
}

// Connect fixes addr as the socket's peer, enabling Read/Write.
func (d *Datagram) Connect(addr Address) error {
	sa, err := sockaddrFromAddress(addr)
	if err != nil {
		return err
	}
	if err := unix.Connect(d.fd, sa); err != nil {
		return wrapError(CodeIOError, "connect", err)
	}
	d.peerAddr = &addr
	return nil
}

// LocalAddress returns the socket's bound local address, if any.
func (d *Datagram) LocalAddress() *Address { return d.localAddr }

// RemoteAddress returns the socket's connected peer address, if any.
func (d *Datagram) RemoteAddress() *Address { return d.peerAddr }

// SetTimeout configures the read/write deadlines applied to future
// pending operations.
func (d *Datagram) SetTimeout(read, write time.Duration) {
	d.readTimeout, d.writeTimeout = read, write
}

// ReadFrom receives up to n bytes, settling with the payload and the
// sender's address. A zero-length datagram settles with EOF; an
// unparseable source address settles with INVALID_ARGUMENT.
func (d *Datagram) ReadFrom(n int) *Continuation[DatagramMessage] {
	c, resolve, reject := NewContinuation[DatagramMessage](d.reactor)
	buf := make([]byte, n)

	var step func()
	step = func() {
		nn, sa, err := unix.Recvfrom(d.fd, buf, 0)
		if err == nil {
			if nn == 0 {
				reject(ErrEOF)
				return
			}
			from, aerr := addressFromSockaddr(sa)
			if aerr != nil {
				reject(newError(CodeInvalidArgument, "unparseable source address"))
				return
			}
			out := make([]byte, nn)
			copy(out, buf[:nn])
			resolve(DatagramMessage{Data: out, From: from})
			return
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			d.armRead(d.readTimeout).Then(func(Readiness) { step() }).Fail(reject)
			return
		}
		reject(wrapError(CodeIOError, "recvfrom", err))
	}
	step()
	return c
}

// WriteTo sends data to addr.
func (d *Datagram) WriteTo(data []byte, to Address) *Continuation[struct{}] {
	c, resolve, reject := NewContinuation[struct{}](d.reactor)
	sa, err := sockaddrFromAddress(to)
	if err != nil {
		reject(err)
		return c
	}

	var step func()
	step = func() {
		err := unix.Sendto(d.fd, data, 0, sa)
		if err == nil {
			resolve(struct{}{})
			return
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			d.armWrite(d.writeTimeout).Then(func(Readiness) { step() }).Fail(reject)
			return
		}
		reject(wrapError(CodeIOError, "sendto", err))
	}
	step()
	return c
}

// Read receives up to n bytes from the connected peer.
func (d *Datagram) Read(n int) *Continuation[[]byte] {
	c, resolve, reject := NewContinuation[[]byte](d.reactor)
	buf := make([]byte, n)

	var step func()
	step = func() {
		nn, err := unix.Read(d.fd, buf)
		if err == nil {
			if nn == 0 {
				reject(ErrEOF)
				return
			}
			out := make([]byte, nn)
			copy(out, buf[:nn])
			resolve(out)
			return
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			d.armRead(d.readTimeout).Then(func(Readiness) { step() }).Fail(reject)
			return
		}
		reject(wrapError(CodeIOError, "read", err))
	}
	step()
	return c
}

// Write sends data to the connected peer.
func (d *Datagram) Write(data []byte) *Continuation[struct{}] {
	c, resolve, reject := NewContinuation[struct{}](d.reactor)

	var step func()
	step = func() {
		_, err := unix.Write(d.fd, data)
		if err == nil {
			resolve(struct{}{})
			return
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			d.armWrite(d.writeTimeout).Then(func(Readiness) { step() }).Fail(reject)
			return
		}
		reject(wrapError(CodeIOError, "write", err))
	}
	step()
	return c
}

// Close cancels any pending operation with CLOSED and releases the fd.
func (d *Datagram) Close() error {
	if d.fd < 0 {
		return ErrClosed
	}
	d.readEvt.settle(0, ErrClosed)
	d.writeEvt.settle(0, ErrClosed)
	_ = d.reactor.p.unregisterFD(d.fd)
	err := unix.Close(d.fd)
	d.fd = -1
	if err != nil {
		return wrapError(CodeIOError, "close", err)
	}
	return nil
}
