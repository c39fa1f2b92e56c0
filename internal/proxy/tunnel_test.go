package proxy

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"
)

func TestTunnelClientReader_PreservesBufferedBytes(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientReader := bufio.NewReaderSize(clientConn, 64)

	const firstChunk = "hello"
	const secondChunk = " world"

	go func() {
		_, _ = serverConn.Write([]byte(firstChunk))
		time.Sleep(10 * time.Millisecond)
		_, _ = serverConn.Write([]byte(secondChunk))
		_ = serverConn.Close()
	}()

	if _, err := clientReader.Peek(len(firstChunk)); err != nil {
		t.Fatalf("peek buffered bytes: %v", err)
	}

	merged, err := tunnelClientReader(clientConn, clientReader)
	if err != nil {
		t.Fatalf("tunnel client reader: %v", err)
	}

	got, err := io.ReadAll(merged)
	if err != nil {
		t.Fatalf("read merged stream: %v", err)
	}
	if string(got) != firstChunk+secondChunk {
		t.Fatalf("merged stream mismatch: got %q, want %q", string(got), firstChunk+secondChunk)
	}
}

func TestTunnelClientReader_NoBufferedBytesReturnsConn(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientReader := bufio.NewReader(clientConn)
	merged, err := tunnelClientReader(clientConn, clientReader)
	if err != nil {
		t.Fatalf("tunnel client reader: %v", err)
	}
	if merged != clientConn {
		t.Fatal("expected raw client conn when no buffered bytes are present")
	}
}

func TestRunTunnel_BidirectionalByteExactCopy(t *testing.T) {
	clientA, clientB := net.Pipe()
	upstreamA, upstreamB := net.Pipe()

	const toUpstream = "request from client"
	const toClient = "response from upstream"

	done := make(chan struct{})
	go func() {
		defer close(done)
		runTunnel(clientB, clientB, upstreamA)
	}()

	var readFromUpstream []byte
	upstreamDone := make(chan struct{})
	go func() {
		defer close(upstreamDone)
		buf := make([]byte, len(toUpstream))
		_, _ = io.ReadFull(upstreamB, buf)
		readFromUpstream = buf
		_, _ = upstreamB.Write([]byte(toClient))
		upstreamB.Close()
	}()

	if _, err := clientA.Write([]byte(toUpstream)); err != nil {
		t.Fatalf("write to tunnel: %v", err)
	}

	buf := make([]byte, len(toClient))
	if _, err := io.ReadFull(clientA, buf); err != nil {
		t.Fatalf("read from tunnel: %v", err)
	}
	if string(buf) != toClient {
		t.Fatalf("client read mismatch: got %q, want %q", buf, toClient)
	}

	clientA.Close()
	<-upstreamDone
	<-done

	if string(readFromUpstream) != toUpstream {
		t.Fatalf("upstream read mismatch: got %q, want %q", readFromUpstream, toUpstream)
	}
}
