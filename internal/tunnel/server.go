package tunnel

import (
	"fmt"
	"math/rand"
	"net"
	"strconv"

	"github.com/google/uuid"

	"github.com/cylance/MarkovObfuscate/internal/codec"
	"github.com/cylance/MarkovObfuscate/internal/platform/logger"
	"github.com/cylance/MarkovObfuscate/internal/platform/metrics"
)

// handshakeState tracks where a tunnel connection is in the SOCKS
// handshake, matching the original protocol's state field (0 = awaiting
// handshake, 0x10 = connected and passing through).
type handshakeState int

const (
	stateAwaitingRequest handshakeState = iota
	stateAwaitingSOCKS5Connect
	statePassthrough
)

// MTunnelServer is the terminating half of the tunnel: it accepts obfuscated
// connections from a LocalProxy, completes a SOCKS handshake over the
// decoded stream, dials the requested target, and relays traffic between
// the two, obfuscating everything sent back to the tunnel client.
type MTunnelServer struct {
	model    *codec.Model
	log      *logger.Logger
	admin    *Hub
	listener net.Listener
}

// NewMTunnelServer binds a listener on host:port for obfuscated tunnel
// connections.
func NewMTunnelServer(model *codec.Model, host string, port int, log *logger.Logger, admin *Hub) (*MTunnelServer, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	return &MTunnelServer{model: model, log: log, admin: admin, listener: ln}, nil
}

// Serve accepts connections until the listener is closed.
func (s *MTunnelServer) Serve() error {
	s.log.Info("mtunnel server listening on " + s.listener.Addr().String())
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		s.log.Event("TUNNEL_ACCEPT", conn.RemoteAddr().String(), "tunnel client connected")
		go s.handleTunnelConn(conn)
	}
}

// Close stops accepting new connections.
func (s *MTunnelServer) Close() error {
	return s.listener.Close()
}

func (s *MTunnelServer) handleTunnelConn(tunnelConn net.Conn) {
	defer tunnelConn.Close()

	rng := rand.New(rand.NewSource(connSeed(tunnelConn)))
	fw := newFrameWriter(tunnelConn, s.model, rng)
	fr := newFrameReader(tunnelConn, s.model)

	target, err := s.completeHandshake(fr, fw)
	if err != nil {
		s.log.Error("SOCKS handshake failed: " + err.Error())
		metrics.Get().RecordTunnelError()
		return
	}

	remote, err := net.Dial("tcp", net.JoinHostPort(target.Host, strconv.Itoa(int(target.Port))))
	if err != nil {
		s.log.Error("failed to dial target " + target.Host + ": " + err.Error())
		s.sendFailure(fw, target)
		return
	}
	defer remote.Close()
	s.sendSuccess(fw, remote)

	sessionID := uuid.NewString()
	metrics.Get().RecordTunnelConnection(1)
	defer metrics.Get().RecordTunnelConnection(-1)
	if s.admin != nil {
		s.admin.Broadcast(Message{Type: MsgTypeTunnelOpen, Payload: map[string]interface{}{"session": sessionID, "target": target.Host}})
		defer s.admin.Broadcast(Message{Type: MsgTypeTunnelClose, Payload: map[string]interface{}{"session": sessionID}})
	}

	s.relay(fw, fr, remote)
}

// completeHandshake drives the handshake state machine over frames already
// deobfuscated by fr, returning the requested target once a CONNECT is
// fully parsed.
func (s *MTunnelServer) completeHandshake(fr *frameReader, fw *frameWriter) (*ConnectRequest, error) {
	state := stateAwaitingRequest

	for {
		data, err := fr.ReadFrame()
		if err != nil {
			return nil, err
		}

		switch state {
		case stateAwaitingRequest:
			if len(data) > 0 && data[0] == socks4Version {
				return ParseSOCKS4Request(data)
			}
			if len(data) > 0 && data[0] == socks5Version {
				if err := ParseSOCKS5Greeting(data); err != nil {
					return nil, err
				}
				if err := fw.WriteFrame(BuildSOCKS5Greeting()); err != nil {
					return nil, err
				}
				fw.isSOCKS5 = true
				state = stateAwaitingSOCKS5Connect
				continue
			}
			if len(data) == 0 {
				return nil, ErrIncompleteRequest
			}
			return nil, fmt.Errorf("tunnel: unsupported SOCKS version byte 0x%02x", data[0])

		case stateAwaitingSOCKS5Connect:
			return ParseSOCKS5Request(data)
		}
	}
}

func (s *MTunnelServer) sendSuccess(fw *frameWriter, remote net.Conn) {
	local := remote.LocalAddr().(*net.TCPAddr)
	var reply []byte
	if fw.isSOCKS5 {
		reply = BuildSOCKS5Reply(true, uint16(local.Port), local.IP)
	} else {
		reply = BuildSOCKS4Reply(true, uint16(local.Port), local.IP)
	}
	if err := fw.WriteFrame(reply); err != nil {
		s.log.Error("failed to send CONNECT success reply: " + err.Error())
	}
}

func (s *MTunnelServer) sendFailure(fw *frameWriter, target *ConnectRequest) {
	reply := BuildSOCKS4Reply(false, target.Port, net.IPv4zero)
	if fw.isSOCKS5 {
		reply = BuildSOCKS5Reply(false, target.Port, net.IPv4zero)
	}
	if err := fw.WriteFrame(reply); err != nil {
		s.log.Error("failed to send CONNECT failure reply: " + err.Error())
	}
}

// relay pumps bytes in both directions once the handshake is complete:
// remote -> tunnel (obfuscated) and tunnel (deobfuscated) -> remote.
func (s *MTunnelServer) relay(fw *frameWriter, fr *frameReader, remote net.Conn) {
	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		buf := make([]byte, relayBufferSize)
		for {
			n, err := remote.Read(buf)
			if n > 0 {
				if werr := fw.WriteFrame(buf[:n]); werr != nil {
					s.log.Error("failed to write tunnel frame: " + werr.Error())
					return
				}
				metrics.Get().RecordTunnelBytes(0, int64(n))
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
			if _, werr := remote.Write(data); werr != nil {
				return
			}
			metrics.Get().RecordTunnelBytes(int64(len(data)), 0)
		}
	}()

	<-done
}
