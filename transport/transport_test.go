package transport_test

import (
	"strings"
	"testing"
	"time"

	"github.com/twinleaf/tio/proto"
	"github.com/twinleaf/tio/transport"
)

func TestTCPRoundTrip(t *testing.T) {
	ln, err := transport.ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer ln.Close()

	addr := ln.Addr().String()
	serverCh := make(chan transport.Transport, 1)
	errCh := make(chan error, 1)
	go func() {
		srv, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		serverCh <- srv
	}()

	client, err := transport.DialTCP(addr)
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	defer client.Close()

	var server transport.Transport
	select {
	case server = <-serverCh:
	case err := <-errCh:
		t.Fatalf("Accept: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Accept")
	}
	defer server.Close()

	route, err := proto.NewRoute(0, 2)
	if err != nil {
		t.Fatalf("NewRoute: %v", err)
	}
	want := proto.Packet{
		Payload: proto.StreamData{StreamID: 1, FirstSampleN: 10, Payload: []byte{1, 2, 3, 4}},
		Routing: route,
	}

	done := make(chan error, 1)
	go func() { done <- client.SendPacket(want) }()

	got, err := server.RecvPacket()
	if err != nil {
		t.Fatalf("RecvPacket: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendPacket: %v", err)
	}

	sd, ok := got.Payload.(proto.StreamData)
	if !ok {
		t.Fatalf("got payload type %T, want StreamData", got.Payload)
	}
	if sd.StreamID != 1 || sd.FirstSampleN != 10 || len(sd.Payload) != 4 {
		t.Fatalf("unexpected payload: %+v", sd)
	}
	if !got.Routing.Equal(route) {
		t.Fatalf("routing mismatch: got %s want %s", got.Routing, route)
	}
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	if _, err := transport.Open("ftp://example.com"); err == nil {
		t.Fatal("expected error for unrecognized scheme")
	}
}

func TestOpenSerialURLParsesBaud(t *testing.T) {
	// DialSerial will fail to open a nonexistent device, but the error
	// must come from the open() call, not URL parsing - i.e. Open must
	// get past the "missing device path" branch.
	_, err := transport.Open("serial:///dev/does-not-exist:57600")
	if err == nil {
		t.Fatal("expected error opening a nonexistent serial device")
	}
	if strings.Contains(err.Error(), "missing device path") {
		t.Fatalf("expected the error to come from opening the device, got %v", err)
	}
}
