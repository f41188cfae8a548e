// Command raknet-echo is the runnable example server from SPEC_FULL.md
// §4.12: a tiny RakNet server that completes the offline handshake and
// echoes every message it receives back to its sender as reliable-ordered.
//
// Grounded on the teacher's core/main.go (config loading, signal-driven
// graceful shutdown, the errChan/sigChan select), adapted from a game
// server's startup sequence to a protocol-library demo binary.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rn-go/raknet/pkg/metrics"
	"github.com/rn-go/raknet/pkg/obslog"
	"github.com/rn-go/raknet/pkg/raknet"
	"github.com/rn-go/raknet/pkg/raknet/offline"
	"github.com/rn-go/raknet/pkg/raknet/pipeline"
	"github.com/rn-go/raknet/pkg/reactor"
	"github.com/rn-go/raknet/pkg/transport"
)

func main() {
	listenAddr := flag.String("listen", "0.0.0.0:7777", "UDP address to listen on")
	metricsAddr := flag.String("metrics", "", "address to serve Prometheus metrics on, empty disables it")
	advertisement := flag.String("advertisement", "raknet-echo", "bytes returned in UnconnectedPong")
	minMTU := flag.Uint("min-mtu", 576, "minimum negotiated MTU")
	maxMTU := flag.Uint("max-mtu", 1492, "maximum negotiated MTU")
	serverGUID := flag.Uint64("server-guid", 1919810, "server GUID echoed in handshake packets")
	production := flag.Bool("json-logs", false, "emit JSON logs instead of console-formatted ones")
	flag.Parse()

	log := obslog.New(obslog.Config{Level: obslog.LevelInfo, Production: *production})
	defer log.Sync()

	laddr, err := net.ResolveUDPAddr("udp", *listenAddr)
	if err != nil {
		log.Errorw("invalid listen address", "error", err)
		os.Exit(1)
	}
	sock, err := transport.Listen(laddr, transport.Config{RecvBufBytes: 1 << 20, SendBufBytes: 1 << 20})
	if err != nil {
		log.Errorw("failed to bind UDP socket", "error", err)
		os.Exit(1)
	}
	defer sock.Close()

	rct := reactor.Install()
	defer reactor.Shutdown()

	collector := metrics.New()
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collector)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		httpSrv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warnw("metrics server stopped", "error", err)
			}
		}()
		defer httpSrv.Close()
	}

	versions := []uint8{9, 11, 13}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	handler := offline.New(offline.Config{
		ServerGUID:        *serverGUID,
		Advertisement:     []byte(*advertisement),
		MinMTU:            uint16(*minMTU),
		MaxMTU:            uint16(*maxMTU),
		SupportedVersions: versions,
		MaxPending:        4096,
	}, log.Named("offline"))

	srv := &echoServer{
		sock:      sock,
		offline:   handler,
		collector: collector,
		reactor:   rct,
		log:       log.Named("echo"),
		conns:     make(map[string]*peerSocket),
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.run(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Errorw("server stopped with error", "error", err)
			cancel()
			os.Exit(1)
		}
	case sig := <-sigCh:
		log.Infow("received signal, shutting down", "signal", sig)
		cancel()
		<-errCh
	}
	log.Infow("server stopped")
}

// peerSocket adapts the shared UDP socket to the pipeline.Transport
// interface for one peer: reads are demultiplexed by echoServer's dispatch
// loop into a dedicated channel, writes go straight to the shared socket.
type peerSocket struct {
	shared *transport.Socket
	peer   *raknet.Peer
	in     chan []byte
}

func (t *peerSocket) ReadFrom(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	select {
	case b, ok := <-t.in:
		if !ok {
			return nil, nil, raknet.ErrPeerClosed
		}
		return b, t.peer.Addr, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (t *peerSocket) WriteTo(ctx context.Context, b []byte, _ *net.UDPAddr) error {
	return t.shared.WriteTo(ctx, b, t.peer.Addr)
}

// echoServer owns the shared listening socket and dispatches inbound
// datagrams either to offline.Handler (unconnected packets) or to the
// already-connected peer's pipeline (connected packets).
type echoServer struct {
	sock      *transport.Socket
	offline   *offline.Handler
	collector *metrics.Collector
	reactor   *reactor.Reactor
	log       *zap.SugaredLogger

	mu    sync.Mutex
	conns map[string]*peerSocket
}

func (s *echoServer) run(ctx context.Context) error {
	for {
		buf, addr, err := s.sock.ReadFrom(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		pkt, err := raknet.Decode(buf)
		if err != nil {
			s.log.Debugw("dropping malformed datagram", "addr", addr, "error", err)
			continue
		}
		s.route(ctx, pkt, buf, addr)
	}
}

func (s *echoServer) route(ctx context.Context, pkt any, raw []byte, addr *net.UDPAddr) {
	s.mu.Lock()
	ps, connected := s.conns[addr.String()]
	s.mu.Unlock()

	switch pkt.(type) {
	case raknet.AckPacket, raknet.NackPacket, *raknet.FrameSet, *raknet.DisconnectNotification:
		if connected {
			select {
			case ps.in <- raw:
			default:
				s.log.Warnw("peer inbound queue full, dropping datagram", "addr", addr)
			}
			return
		}
		resp := s.offline.HandleConnectedFromUnknownPeer(addr)
		s.send(ctx, resp, addr)
		return
	}

	resp, newPeer := s.offline.Handle(pkt, addr)
	if resp != nil {
		s.send(ctx, resp, addr)
	}
	if newPeer != nil {
		s.spawnPeer(ctx, *newPeer)
	}
}

func (s *echoServer) spawnPeer(ctx context.Context, peer raknet.Peer) {
	ps := &peerSocket{shared: s.sock, peer: &peer, in: make(chan []byte, 256)}
	s.mu.Lock()
	s.conns[peer.Addr.String()] = ps
	s.mu.Unlock()
	s.collector.Track(peer.ID)
	s.log.Infow("peer connected", "peer_id", peer.ID, "addr", peer.Addr, "mtu", peer.MTU)

	pl := pipeline.New(peer, ps, pipeline.Config{}, s.reactor, s.log.Named(string(peer.ID)), s.collector)
	go func() {
		for body := range pl.Inbound() {
			_ = pl.Send(body)
		}
	}()
	go func() {
		if err := pl.Run(ctx); err != nil {
			s.log.Warnw("peer pipeline terminated", "peer_id", peer.ID, "error", err)
		}
		s.mu.Lock()
		delete(s.conns, peer.Addr.String())
		s.mu.Unlock()
		s.collector.Untrack(peer.ID)
		s.log.Infow("peer disconnected", "peer_id", peer.ID)
	}()
}

func (s *echoServer) send(ctx context.Context, pkt any, addr *net.UDPAddr) {
	buf, err := raknet.Encode(pkt)
	if err != nil {
		s.log.Warnw("failed to encode outbound packet", "error", err)
		return
	}
	if err := s.sock.WriteTo(ctx, buf, addr); err != nil {
		s.log.Debugw("failed to write outbound datagram", "addr", addr, "error", err)
	}
}
