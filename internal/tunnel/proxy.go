package tunnel

import (
	"math/rand"
	"net"
	"strconv"

	"github.com/google/uuid"

	"github.com/cylance/MarkovObfuscate/internal/codec"
	"github.com/cylance/MarkovObfuscate/internal/platform/logger"
	"github.com/cylance/MarkovObfuscate/internal/platform/metrics"
)

// relayBufferSize mirrors the original protocol's BUFFER_SIZE: the chunk
// size read from a plaintext leg before each hop is compressed, obfuscated,
// and forwarded as one frame.
const relayBufferSize = 4096

// LocalProxy is the client-facing half of the tunnel: it listens for plain
// SOCKS clients and relays each connection, obfuscated, to an MTunnelServer.
type LocalProxy struct {
	model      *codec.Model
	remoteHost string
	remotePort int
	log        *logger.Logger
	admin      *Hub
	listener   net.Listener
}

// NewLocalProxy binds a listener on localHost:localPort that forwards every
// accepted connection to mtunnelHost:mtunnelPort through model.
func NewLocalProxy(model *codec.Model, localHost string, localPort int, mtunnelHost string, mtunnelPort int, log *logger.Logger, admin *Hub) (*LocalProxy, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(localHost, strconv.Itoa(localPort)))
	if err != nil {
		return nil, err
	}
	return &LocalProxy{
		model:      model,
		remoteHost: mtunnelHost,
		remotePort: mtunnelPort,
		log:        log,
		admin:      admin,
		listener:   ln,
	}, nil
}

// Serve accepts connections until the listener is closed.
func (p *LocalProxy) Serve() error {
	p.log.Info("local proxy listening on " + p.listener.Addr().String())
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			return err
		}
		p.log.Event("TUNNEL_ACCEPT", conn.RemoteAddr().String(), "client connected")
		go p.handleClient(conn)
	}
}

// Close stops accepting new connections.
func (p *LocalProxy) Close() error {
	return p.listener.Close()
}

func (p *LocalProxy) handleClient(client net.Conn) {
	defer client.Close()

	sessionID := uuid.NewString()

	remote, err := net.Dial("tcp", net.JoinHostPort(p.remoteHost, strconv.Itoa(p.remotePort)))
	if err != nil {
		p.log.Error("failed to dial mtunnel server: " + err.Error())
		return
	}
	defer remote.Close()

	metrics.Get().RecordTunnelConnection(1)
	defer metrics.Get().RecordTunnelConnection(-1)
	if p.admin != nil {
		p.admin.Broadcast(Message{Type: MsgTypeTunnelOpen, Payload: map[string]interface{}{"session": sessionID, "peer": client.RemoteAddr().String()}})
		defer p.admin.Broadcast(Message{Type: MsgTypeTunnelClose, Payload: map[string]interface{}{"session": sessionID}})
	}

	rng := rand.New(rand.NewSource(connSeed(client)))
	fw := newFrameWriter(remote, p.model, rng)
	fr := newFrameReader(remote, p.model)

	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		buf := make([]byte, relayBufferSize)
		for {
			n, err := client.Read(buf)
			if n > 0 {
				if werr := fw.WriteFrame(buf[:n]); werr != nil {
					p.log.Error("failed to write tunnel frame: " + werr.Error())
					return
				}
				metrics.Get().RecordTunnelBytes(int64(n), 0)
			}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		for {
			data, err := fr.ReadFrame()
			if err != nil {
				return
			}
			if _, werr := client.Write(data); werr != nil {
				return
			}
			metrics.Get().RecordTunnelBytes(0, int64(len(data)))
		}
	}()

	<-done
}

// connSeed derives a pseudo-random seed from a connection's remote address
// so concurrent relays don't share an *rand.Rand (not safe for concurrent
// use) while staying deterministic enough to unit test in isolation.
func connSeed(conn net.Conn) int64 {
	addr := conn.RemoteAddr().String()
	var seed int64
	for _, r := range addr {
		seed = seed*31 + int64(r)
	}
	return seed
}
