package aio

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func TestAddressStringAndEqual(t *testing.T) {
	a := NewIPv4Address(net.ParseIP("127.0.0.1"), 8080)
	b := NewIPv4Address(net.ParseIP("127.0.0.1"), 8080)
	if !a.Equal(b) {
		t.Fatalf("expected %v to equal %v", a, b)
	}
	if a.String() != "127.0.0.1:8080" {
		t.Fatalf("unexpected String(): %s", a.String())
	}

	u := NewUnixAddress("/tmp/aio.sock")
	if u.String() != "/tmp/aio.sock" {
		t.Fatalf("unexpected unix String(): %s", u.String())
	}
}

func TestAddressAsIPv6Mapped(t *testing.T) {
	v4 := NewIPv4Address(net.ParseIP("192.0.2.1"), 443)
	mapped := v4.AsIPv6Mapped()
	if mapped.Kind != AddrIPv6 {
		t.Fatalf("expected AddrIPv6, got %v", mapped.Kind)
	}
	if !bytes.Equal(mapped.IP, net.ParseIP("::ffff:192.0.2.1")) {
		t.Fatalf("unexpected mapped address: %s", mapped.IP)
	}
	if mapped.Port != 443 {
		t.Fatalf("expected port preserved, got %d", mapped.Port)
	}

	v6 := NewIPv6Address(net.ParseIP("2001:db8::1"), 80, "")
	if !v6.AsIPv6Mapped().Equal(v6) {
		t.Fatalf("AsIPv6Mapped on a non-IPv4 address must be a no-op")
	}
}

// Concrete scenario: a TCP listener accepts a connection and the two ends
// exchange an echoed payload.
func TestStreamTCPEcho(t *testing.T) {
	reactor := newTestReactor(t)

	ln, err := ListenTCP(reactor, "127.0.0.1", 0)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer ln.Close()
	addr := ln.Addr()

	serverErr := make(chan error, 1)
	reactor.Post(func() {
		ln.Accept().Then(func(conn *ByteBuffer) {
			conn.Read().Then(func(data []byte) {
				conn.Write(data).Fail(func(err error) { serverErr <- err })
			}).Fail(func(err error) { serverErr <- err })
		}).Fail(func(err error) { serverErr <- err })
	})

	var client *ByteBuffer
	clientErr := make(chan error, 1)
	reactor.Post(func() {
		ConnectTCP(reactor, addr.IP.String(), int(addr.Port)).Then(func(conn *ByteBuffer) {
			client = conn
			conn.Write([]byte("echo")).Fail(func(err error) { clientErr <- err })
		}).Fail(func(err error) { clientErr <- err })
	})

	deadline := time.After(2 * time.Second)
	for client == nil {
		select {
		case err := <-clientErr:
			t.Fatalf("connect/write failed: %v", err)
		case <-deadline:
			t.Fatal("timed out waiting to connect")
		case <-time.After(10 * time.Millisecond):
		}
	}
	defer client.Close()

	got, err := await(t, client.ReadN(4), 2*time.Second)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(got) != "echo" {
		t.Fatalf("expected echoed %q, got %q", "echo", got)
	}

	select {
	case err := <-serverErr:
		t.Fatalf("server side error: %v", err)
	default:
	}
}

func TestStreamUnixListenAndConnect(t *testing.T) {
	reactor := newTestReactor(t)
	path := t.TempDir() + "/aio-test.sock"

	ln, err := ListenUnix(reactor, path)
	if err != nil {
		t.Fatalf("ListenUnix: %v", err)
	}
	defer ln.Close()

	accepted := make(chan *ByteBuffer, 1)
	reactor.Post(func() {
		ln.Accept().Then(func(conn *ByteBuffer) { accepted <- conn }).Fail(func(err error) { t.Errorf("Accept: %v", err) })
	})

	var client *ByteBuffer
	connected := make(chan struct{})
	reactor.Post(func() {
		ConnectUnix(reactor, path).Then(func(conn *ByteBuffer) {
			client = conn
			close(connected)
		}).Fail(func(err error) { t.Errorf("ConnectUnix: %v", err) })
	})

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out connecting over unix socket")
	}
	defer client.Close()

	select {
	case conn := <-accepted:
		defer conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out accepting over unix socket")
	}
}

// Concrete scenario: a listener's Accept is called repeatedly across
// multiple inbound connections — regression coverage for the requirement
// that the listening fd's poller registration is fully released between
// waits, not merely left armed at interest 0.
func TestStreamListenerAcceptsMultipleConnectionsSequentially(t *testing.T) {
	reactor := newTestReactor(t)
	ln, err := ListenTCP(reactor, "127.0.0.1", 0)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer ln.Close()
	addr := ln.Addr()

	const n = 3
	accepted := make(chan *ByteBuffer, n)
	var acceptNext func()
	acceptNext = func() {
		ln.Accept().Then(func(conn *ByteBuffer) {
			accepted <- conn
			if len(accepted) < n {
				acceptNext()
			}
		}).Fail(func(err error) { t.Errorf("Accept: %v", err) })
	}
	reactor.Post(acceptNext)

	for i := 0; i < n; i++ {
		connected := make(chan struct{})
		var client *ByteBuffer
		reactor.Post(func() {
			ConnectTCP(reactor, addr.IP.String(), int(addr.Port)).Then(func(conn *ByteBuffer) {
				client = conn
				close(connected)
			}).Fail(func(err error) { t.Errorf("connect %d: %v", i, err) })
		})
		select {
		case <-connected:
		case <-time.After(2 * time.Second):
			t.Fatalf("connection %d never completed", i)
		}
		defer client.Close()
	}

	for i := 0; i < n; i++ {
		select {
		case conn := <-accepted:
			conn.Close()
		case <-time.After(2 * time.Second):
			t.Fatalf("accept %d never completed", i)
		}
	}
}
