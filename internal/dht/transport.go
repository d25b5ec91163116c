package dht

import (
	"context"
	"net"
	"time"

	temperr "github.com/jbenet/go-temp-err-catcher"
	"github.com/jbenet/goprocess"

	"github.com/dem31/ouinet/pkg/types"
)

// ============================================================================
//                              UDP 传输
// ============================================================================

// transport owns a single UDP socket and the single goroutine reading from
// it, per the design's "one receive loop per endpoint" rule. Every inbound
// datagram is decoded and dispatched to onMessage from that one goroutine;
// callers must not block it.
type transport struct {
	conn *net.UDPConn
	proc goprocess.Process

	onMessage func(m *message, from types.Endpoint)
}

const maxDatagramSize = 2048

func newTransport(conn *net.UDPConn, parent goprocess.Process, onMessage func(*message, types.Endpoint)) *transport {
	tr := &transport{conn: conn, onMessage: onMessage}
	tr.proc = parent.Go(tr.receiveLoop)
	return tr
}

// receiveLoop is the transport's single reader. temp-err-catcher absorbs
// the transient "use of closed network connection" and similar errors that
// fire once during an orderly shutdown so they don't get logged as faults.
func (tr *transport) receiveLoop(proc goprocess.Process) {
	var catcher temperr.TempErrCatcher
	buf := make([]byte, maxDatagramSize)

	for {
		select {
		case <-proc.Closing():
			return
		default:
		}

		n, addr, err := tr.conn.ReadFromUDP(buf)
		if err != nil {
			if catcher.IsTemporary(err) {
				continue
			}
			select {
			case <-proc.Closing():
			default:
				log.Warn("udp receive loop stopped", "err", err)
			}
			return
		}

		m, err := decodeMessage(buf[:n])
		if err != nil {
			log.Debug("dropping malformed datagram", "from", addr, "err", err)
			continue
		}

		ep, ok := types.EndpointFromUDPAddr(addr)
		if !ok {
			continue
		}
		tr.onMessage(m, ep)
	}
}

// Send writes m to dst. Send is safe to call concurrently; net.UDPConn's
// WriteTo is itself safe for concurrent use.
func (tr *transport) Send(ctx context.Context, m *message, dst types.Endpoint) error {
	b, err := encodeMessage(m)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = tr.conn.SetWriteDeadline(deadline)
		defer tr.conn.SetWriteDeadline(time.Time{})
	}
	_, err = tr.conn.WriteToUDP(b, dst.UDPAddr())
	return err
}

// Close closes the underlying socket and waits for the receive loop to
// return.
func (tr *transport) Close() error {
	err := tr.conn.Close()
	tr.proc.Close()
	return err
}

// LocalAddr returns the bound local endpoint.
func (tr *transport) LocalAddr() types.Endpoint {
	ep, _ := types.EndpointFromUDPAddr(tr.conn.LocalAddr().(*net.UDPAddr))
	return ep
}
