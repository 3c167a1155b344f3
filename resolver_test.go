package aio

import (
	"testing"
	"time"
)

// Concrete scenario: looking up "localhost" settles with 127.0.0.1 without
// touching the network (special-cased alongside literal IP addresses).
func TestResolverLookupLocalhost(t *testing.T) {
	reactor := newTestReactor(t)
	ip, err := await(t, reactor.DNSHandle().Lookup("localhost"), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ip.To4().String(); got != "127.0.0.1" {
		t.Fatalf("expected 127.0.0.1, got %s", got)
	}
}

func TestResolverLookupLiteralIPv4SkipsResolution(t *testing.T) {
	reactor := newTestReactor(t)
	ip, err := await(t, reactor.DNSHandle().Lookup("192.0.2.55"), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ip.To4().String(); got != "192.0.2.55" {
		t.Fatalf("expected 192.0.2.55, got %s", got)
	}
}

func TestReactorAddNameserverValidatesAddress(t *testing.T) {
	reactor := newTestReactor(t)
	if err := reactor.AddNameserver("not-an-ip"); err == nil {
		t.Fatal("expected an error for a non-IP nameserver address")
	}
	if err := reactor.AddNameserver("8.8.4.4"); err != nil {
		t.Fatalf("unexpected error adding a valid nameserver: %v", err)
	}
}
