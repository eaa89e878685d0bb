// Command replicad runs one replica process, starting whichever of the three
// replication engines (PBFT, mutex, COPS) this session's replconfig.json names peer
// addresses for. Each engine is wired end to end over the shared tcpnet transport:
// dialed outbound connections to every peer plus one shared inbound listener per
// engine, mirroring cmd/cerera's daemon-process structure.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cerera/replicore/internal/cerera/clock"
	"github.com/cerera/replicore/internal/cerera/cops"
	"github.com/cerera/replicore/internal/cerera/eventbus"
	"github.com/cerera/replicore/internal/cerera/logger"
	"github.com/cerera/replicore/internal/cerera/mutex"
	"github.com/cerera/replicore/internal/cerera/netcore"
	"github.com/cerera/replicore/internal/cerera/pbft"
	"github.com/cerera/replicore/internal/cerera/replconfig"
	"github.com/cerera/replicore/internal/cerera/tcpnet"
	"github.com/cerera/replicore/internal/cerera/wsobserver"
)

var log = logger.Named("replicad")

// dialPeer retries addr until ctx is cancelled or the peer accepts, since a cluster's
// processes rarely all finish binding their listener in the same instant.
func dialPeer(ctx context.Context, addr, pid string) (*tcpnet.Conn, error) {
	backoff := 200 * time.Millisecond
	for {
		conn, err := tcpnet.Dial(addr, pid)
		if err == nil {
			return conn, nil
		}
		log.Debugw("dial retry", "addr", addr, "err", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %s: %w", addr, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
}

// dialPeers dials every address in addrs except index self, leaving peers[self] nil.
func dialPeers(ctx context.Context, addrs []string, self int, pid string) ([]*tcpnet.Conn, error) {
	peers := make([]*tcpnet.Conn, len(addrs))
	for i, a := range addrs {
		if i == self {
			continue
		}
		conn, err := dialPeer(ctx, a, pid)
		if err != nil {
			return nil, err
		}
		peers[i] = conn
	}
	return peers, nil
}

func pbftKeyRing(cfg *replconfig.Config, n int) *netcore.KeyRing {
	self := netcore.ReplicaID(cfg.PBFT.Self)
	if len(cfg.PBFT.Keys) >= n {
		return replconfig.KeyRing(self, cfg.PBFT.Keys[:n])
	}
	log.Warnw("no pbft keyset configured, deriving a deterministic dev keyring")
	return replconfig.DevKeyRing(self, n)
}

func runPBFT(ctx context.Context, cfg *replconfig.Config, obs *wsobserver.Manager) error {
	n := len(cfg.PBFT.ReplicaAddrs)
	if n == 0 {
		return nil
	}
	self := cfg.PBFT.Self
	addrs := make([]netcore.Addr, n)
	for i, a := range cfg.PBFT.ReplicaAddrs {
		addrs[i] = netcore.Addr(a)
	}
	peers, err := dialPeers(ctx, cfg.PBFT.ReplicaAddrs, self, string(cfg.Net.PID))
	if err != nil {
		return fmt.Errorf("pbft: %w", err)
	}
	peerNet := pbft.NewTCPReplicaNet(netcore.ReplicaID(self), addrs, peers)
	clientNet := pbft.NewTCPClientUnicastNet()

	ring := pbftKeyRing(cfg, n)
	crypto := eventbus.NewCryptoWorker[*netcore.KeyRing](ring, 4, 256)

	replica := pbft.NewReplica(pbft.Config{
		N:    n,
		F:    cfg.PBFT.NumFaulty,
		Self: netcore.ReplicaID(self),
		View: 0,
	}, newKVApp(), peerNet, clientNet, crypto)
	replica.AttachObserver(obs)

	l, err := tcpnet.Listen(cfg.Net.BindHost, cfg.PBFT.ReplicaPort, string(cfg.Net.PID))
	if err != nil {
		return fmt.Errorf("pbft: %w", err)
	}
	go replica.Run(ctx)
	go pbft.ServeReplica(ctx, l, replica, clientNet)
	log.Infow("pbft replica started", "self", self, "n", n, "f", cfg.PBFT.NumFaulty, "port", cfg.PBFT.ReplicaPort)
	return nil
}

func runCOPS(ctx context.Context, cfg *replconfig.Config, obs *wsobserver.Manager) error {
	n := len(cfg.COPS.ReplicaAddrs)
	if n == 0 {
		return nil
	}
	self := cfg.COPS.Self
	peers, err := dialPeers(ctx, cfg.COPS.ReplicaAddrs, self, string(cfg.Net.PID))
	if err != nil {
		return fmt.Errorf("cops: %w", err)
	}
	peerNet := cops.NewTCPAllNet(peers)
	clientNet := cops.NewTCPUnicastNet()

	replica := cops.NewReplica(cops.ReplicaTag(self), cops.OrdinaryVersionService{}, clientNet, peerNet)
	replica.AttachObserver(obs)

	l, err := tcpnet.Listen(cfg.Net.BindHost, cfg.COPS.ReplicaPort, string(cfg.Net.PID))
	if err != nil {
		return fmt.Errorf("cops: %w", err)
	}
	go replica.Run(ctx)
	go cops.ServeReplica(ctx, l, replica, clientNet)
	log.Infow("cops replica started", "self", self, "n", n, "port", cfg.COPS.ReplicaPort)
	return nil
}

func mutexVariant(v replconfig.MutexVariant) mutex.Variant {
	if v == replconfig.VariantQuorum {
		return mutex.VariantQuorum
	}
	return mutex.VariantUntrusted
}

// mutexKeyRings builds every participant's KeyRing from cfg.Mutex.Keys (or a
// deterministic dev keyset if none is configured), used both for this site's own ring
// and for the LocalQuorumClient's all-participants view.
func mutexKeyRings(cfg *replconfig.Config, n int) map[netcore.ReplicaID]*netcore.KeyRing {
	rings := make(map[netcore.ReplicaID]*netcore.KeyRing, n)
	for i := 0; i < n; i++ {
		id := netcore.ReplicaID(i)
		if len(cfg.Mutex.Keys) >= n {
			rings[id] = replconfig.KeyRing(id, cfg.Mutex.Keys[:n])
		} else {
			rings[id] = replconfig.DevKeyRing(id, n)
		}
	}
	return rings
}

func runMutex(ctx context.Context, cfg *replconfig.Config) error {
	n := len(cfg.Mutex.Addrs)
	if n == 0 {
		return nil
	}
	self := cfg.Mutex.ID
	addrs := make([]netcore.Addr, n)
	for i, a := range cfg.Mutex.Addrs {
		addrs[i] = netcore.Addr(a)
	}
	peers, err := dialPeers(ctx, cfg.Mutex.Addrs, self, string(cfg.Net.PID))
	if err != nil {
		return fmt.Errorf("mutex: %w", err)
	}
	net := mutex.NewTCPReplicaNet(netcore.ReplicaID(self), addrs, peers)

	pcfg := mutex.Config{
		N:         n,
		Self:      netcore.ReplicaID(self),
		Variant:   mutexVariant(cfg.Mutex.Variant),
		NumFaulty: cfg.Mutex.NumFaulty,
	}
	if pcfg.Variant == mutex.VariantQuorum {
		rings := mutexKeyRings(cfg, n)
		pcfg.QuorumClient = clock.NewLocalQuorumClient(rings, cfg.Mutex.NumFaulty)
		selfRing := rings[netcore.ReplicaID(self)]
		pcfg.Verify = selfRing.Verify
	}
	processor := mutex.NewProcessor(pcfg, net)

	// Bind on the main replica port when mutex is the only engine this session runs;
	// otherwise use the clock port so it doesn't collide with PBFT/COPS's listener on
	// the same host.
	port := cfg.Net.ReplicaPort
	if len(cfg.PBFT.ReplicaAddrs) > 0 || len(cfg.COPS.ReplicaAddrs) > 0 {
		port = cfg.Net.ClockPort
	}
	l, err := tcpnet.Listen(cfg.Net.BindHost, port, string(cfg.Net.PID))
	if err != nil {
		return fmt.Errorf("mutex: %w", err)
	}
	go processor.Run(ctx)
	go mutex.ServeProcessor(ctx, l, processor)
	log.Infow("mutex processor started", "self", self, "n", n, "variant", pcfg.Variant, "port", port)
	return nil
}

func main() {
	cfg := replconfig.Load("replconfig.json")
	if _, err := logger.Init(cfg.LoggerConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	obs := wsobserver.New()
	go obs.Run(ctx)

	if err := runPBFT(ctx, cfg, obs); err != nil {
		log.Errorw("pbft startup failed", "err", err)
	}
	if err := runCOPS(ctx, cfg, obs); err != nil {
		log.Errorw("cops startup failed", "err", err)
	}
	if err := runMutex(ctx, cfg); err != nil {
		log.Errorw("mutex startup failed", "err", err)
	}

	<-ctx.Done()
	log.Infow("shutting down")
}
