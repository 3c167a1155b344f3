package aio

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// AddressKind discriminates the tagged union Address represents.
type AddressKind int

const (
	// AddrIPv4 is a dotted-quad address with a port.
	AddrIPv4 AddressKind = iota
	// AddrIPv6 is a 16-byte address with a port and optional zone.
	AddrIPv6
	// AddrUnix is a filesystem (or abstract) Unix domain socket path.
	AddrUnix
)

// Address is the tagged union of endpoint addresses a Stream or
// Datagram socket can bind, connect or report, mirroring the original's
// variant<IPv4Address, IPv6Address, UnixAddress>.
type Address struct {
	Kind AddressKind
	IP   net.IP
	Port uint16
	Zone string // IPv6 only
	Path string // Unix only
}

// NewIPv4Address constructs an AddrIPv4 Address.
func NewIPv4Address(ip net.IP, port uint16) Address {
	return Address{Kind: AddrIPv4, IP: ip.To4(), Port: port}
}

// NewIPv6Address constructs an AddrIPv6 Address, optionally zoned.
func NewIPv6Address(ip net.IP, port uint16, zone string) Address {
	return Address{Kind: AddrIPv6, IP: ip.To16(), Port: port, Zone: zone}
}

// NewUnixAddress constructs an AddrUnix Address.
func NewUnixAddress(path string) Address {
	return Address{Kind: AddrUnix, Path: path}
}

// String renders the address the way net.Addr implementations do.
func (a Address) String() string {
	switch a.Kind {
	case AddrIPv4:
		return fmt.Sprintf("%s:%d", a.IP.String(), a.Port)
	case AddrIPv6:
		if a.Zone != "" {
			return fmt.Sprintf("[%s%%%s]:%d", a.IP.String(), a.Zone, a.Port)
		}
		return fmt.Sprintf("[%s]:%d", a.IP.String(), a.Port)
	case AddrUnix:
		return a.Path
	default:
		return "<invalid address>"
	}
}

// Equal reports whether a and b denote the same endpoint.
func (a Address) Equal(b Address) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case AddrIPv4, AddrIPv6:
		return a.IP.Equal(b.IP) && a.Port == b.Port && a.Zone == b.Zone
	case AddrUnix:
		return a.Path == b.Path
	default:
		return false
	}
}

// AsIPv6Mapped returns a, translated to its IPv4-mapped IPv6 form
// (::ffff:a.b.c.d) if a is AddrIPv4; otherwise a is returned unchanged.
// Grounds sockets that bind dual-stack IPv6 wildcard addresses but must
// still report IPv4 peers in the original representation callers expect.
func (a Address) AsIPv6Mapped() Address {
	if a.Kind != AddrIPv4 {
		return a
	}
	mapped := make(net.IP, net.IPv6len)
	copy(mapped, net.IPv4in6Prefix)
	copy(mapped[12:], a.IP.To4())
	return Address{Kind: AddrIPv6, IP: mapped, Port: a.Port}
}

func sockaddrFromAddress(a Address) (unix.Sockaddr, error) {
	switch a.Kind {
	case AddrIPv4:
		sa := &unix.SockaddrInet4{Port: int(a.Port)}
		copy(sa.Addr[:], a.IP.To4())
		return sa, nil
	case AddrIPv6:
		sa := &unix.SockaddrInet6{Port: int(a.Port)}
		copy(sa.Addr[:], a.IP.To16())
		if a.Zone != "" {
			if iface, err := net.InterfaceByName(a.Zone); err == nil {
				sa.ZoneId = uint32(iface.Index)
			}
		}
		return sa, nil
	case AddrUnix:
		return &unix.SockaddrUnix{Name: a.Path}, nil
	default:
		return nil, newError(CodeInvalidArgument, "invalid address kind")
	}
}

func addressFromSockaddr(sa unix.Sockaddr) (Address, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, v.Addr[:])
		return NewIPv4Address(ip, uint16(v.Port)), nil
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, v.Addr[:])
		zone := ""
		if v.ZoneId != 0 {
			if iface, err := net.InterfaceByIndex(int(v.ZoneId)); err == nil {
				zone = iface.Name
			}
		}
		return NewIPv6Address(ip, uint16(v.Port), zone), nil
	case *unix.SockaddrUnix:
		return NewUnixAddress(v.Name), nil
	default:
		return Address{}, newError(CodeInvalidArgument, "unsupported sockaddr kind")
	}
}

// Listener accepts inbound stream connections, yielding a ByteBuffer
// per accepted connection.
type Listener struct {
	reactor *Reactor
	fd      int
	addr    Address
}

// ListenTCP binds and listens on host:port. host must be a literal IPv4
// or IPv6 address, or empty for the IPv4 wildcard; hostnames are not
// resolved and are rejected with INVALID_ARGUMENT.
func ListenTCP(r *Reactor, host string, port int) (*Listener, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		if host == "" || host == "0.0.0.0" || host == "::" {
			ip = net.IPv4zero
		} else {
			return nil, newError(CodeInvalidArgument, "listen requires a literal IP; resolve hostnames first")
		}
	}
	family := unix.AF_INET
	var addr Address
	if ip4 := ip.To4(); ip4 != nil {
		addr = NewIPv4Address(ip4, uint16(port))
	} else {
		family = unix.AF_INET6
		addr = NewIPv6Address(ip, uint16(port), "")
	}
	return listenWith(r, family, addr)
}

// ListenUnix binds and listens on a Unix domain socket path.
func ListenUnix(r *Reactor, path string) (*Listener, error) {
	return listenWith(r, unix.AF_UNIX, NewUnixAddress(path))
}

func listenWith(r *Reactor, family int, addr Address) (*Listener, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, wrapError(CodeIOError, "socket", err)
	}
	if family != unix.AF_UNIX {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}
	sa, err := sockaddrFromAddress(addr)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, wrapError(CodeIOError, "bind", err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		_ = unix.Close(fd)
		return nil, wrapError(CodeIOError, "listen", err)
	}
	if family != unix.AF_UNIX && addr.Port == 0 {
		if boundSA, serr := unix.Getsockname(fd); serr == nil {
			if bound, aerr := addressFromSockaddr(boundSA); aerr == nil {
				addr.Port = bound.Port
			}
		}
	}
	return &Listener{reactor: r, fd: fd, addr: addr}, nil
}

// Addr returns the address the Listener is bound to.
func (l *Listener) Addr() Address { return l.addr }

// Accept settles with a ByteBuffer wrapping the next accepted
// connection.
func (l *Listener) Accept() *Continuation[*ByteBuffer] {
	c, resolve, reject := NewContinuation[*ByteBuffer](l.reactor)

	var step func()
	step = func() {
		connFD, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == nil {
			buf := newByteBuffer(l.reactor, connFD)
			if remote, aerr := addressFromSockaddr(sa); aerr == nil {
				buf.remoteAddr = &remote
			}
			buf.localAddr = &l.addr
			resolve(buf)
			return
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			// Register directly rather than through a ReadinessEvent: the
			// listening fd is reused across every Accept call, so its
			// registration must be released (not just left at interest 0)
			// before the next wait is armed.
			_ = l.reactor.p.registerFD(l.fd, ioRead, func(ioInterest) {
				_ = l.reactor.p.unregisterFD(l.fd)
				step()
			})
			return
		}
		reject(wrapError(CodeIOError, "accept", err))
	}
	step()
	return c
}

// Close stops accepting and releases the listening fd.
func (l *Listener) Close() error {
	if l.fd < 0 {
		return ErrClosed
	}
	err := unix.Close(l.fd)
	l.fd = -1
	if err != nil {
		return wrapError(CodeIOError, "close", err)
	}
	return nil
}

// ConnectTCP connects to host:port, resolving host via r's DNS handle
// first if it isn't already a literal IP.
func ConnectTCP(r *Reactor, host string, port int) *Continuation[*ByteBuffer] {
	return ThenChain(r.resolver.Lookup(host), func(ip net.IP) *Continuation[*ByteBuffer] {
		family := unix.AF_INET
		var addr Address
		if ip4 := ip.To4(); ip4 != nil {
			addr = NewIPv4Address(ip4, uint16(port))
		} else {
			family = unix.AF_INET6
			addr = NewIPv6Address(ip, uint16(port), "")
		}
		return connectWith(r, family, addr)
	})
}

// ConnectUnix connects to a Unix domain socket path.
func ConnectUnix(r *Reactor, path string) *Continuation[*ByteBuffer] {
	return connectWith(r, unix.AF_UNIX, NewUnixAddress(path))
}

func connectWith(r *Reactor, family int, addr Address) *Continuation[*ByteBuffer] {
	c, resolve, reject := NewContinuation[*ByteBuffer](r)

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		reject(wrapError(CodeIOError, "socket", err))
		return c
	}
	sa, err := sockaddrFromAddress(addr)
	if err != nil {
		_ = unix.Close(fd)
		reject(err)
		return c
	}

	err = unix.Connect(fd, sa)
	if err == nil {
		resolve(newByteBuffer(r, fd))
		return c
	}
	if err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		reject(wrapError(CodeIOError, "connect", err))
		return c
	}

	// Wait for writability directly rather than through a ReadinessEvent:
	// ownership of fd's poller registration transfers to the ByteBuffer
	// once connect completes, so it must be fully unregistered first.
	regErr := r.p.registerFD(fd, ioWrite, func(ioInterest) {
		_ = r.p.unregisterFD(fd)
		if errno, serr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR); serr == nil && errno != 0 {
			_ = unix.Close(fd)
			reject(wrapError(CodeIOError, "connect", unix.Errno(errno)))
			return
		}
		resolve(newByteBuffer(r, fd))
	})
	if regErr != nil {
		_ = unix.Close(fd)
		reject(regErr)
	}
	return c
}
