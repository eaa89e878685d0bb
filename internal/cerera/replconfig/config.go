// Package replconfig loads and persists the session configuration for the three
// replication engines (PBFT, mutex, COPS), following the teacher config package's
// stat-then-default-then-persist pattern: a missing file gets a generated default and is
// written back; an existing file is read and trusted as-is.
package replconfig

import (
	cryptorand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cerera/replicore/internal/cerera/logger"
	"github.com/cerera/replicore/internal/cerera/netcore"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// DefaultProtocolID tags every frame this session writes, the way a libp2p stream would
// be dialed under a versioned protocol id. replcore's own TCP transport doesn't
// multiplex on it today, but carrying it through the wire header keeps that door open.
const DefaultProtocolID protocol.ID = "/replicore/1.0.0"

const DefaultReplicaPort = int(7116)
const DefaultClientPort = int(7117)
const DefaultClockPort = int(7118)

// MutexVariant selects which of spec.md §4.3-4.4's mutual-exclusion flavors a session
// runs: a plain scalar clock trusting every peer's claim, or a quorum-clock variant
// backed by an external QuorumClient.
type MutexVariant string

const (
	VariantUntrusted MutexVariant = "untrusted"
	VariantQuorum    MutexVariant = "quorum"
)

// MutexConfig is spec.md §6's `Mutex{id, addrs[], variant, num_faulty}` configuration
// shape: the session's own index, every peer's network address, which clock variant to
// run, and (for VariantQuorum) the fault tolerance f the quorum size is built from.
type MutexConfig struct {
	ID        int
	Addrs     []string
	Variant   MutexVariant
	NumFaulty int
	// QuorumAddrs is only meaningful for VariantQuorum: the external QuorumClient
	// signer set a clock is certified against, distinct from the mutex peer set.
	QuorumAddrs []string
	// Keys is the shared symmetric keyset for VariantQuorum's Request certification,
	// hex-encoded and indexed like PBFTConfig.Keys.
	Keys []string
}

// PBFTConfig is the replica-set shape PBFT's Config (N, F, Self, View) is built from,
// plus the addresses a session needs to reach its peers and clients.
type PBFTConfig struct {
	Self         int
	NumFaulty    int
	ReplicaAddrs []string
	ClientPort   int
	ReplicaPort  int
	// Keys is the shared symmetric keyset every replica in the set holds, hex-encoded,
	// indexed by replica ordinal. A real deployment would distribute these out of band;
	// here they ride along in the session config like the teacher's node key does.
	Keys []string
}

// COPSConfig names this replica's tag within the version space and every peer replica's
// address, for the all-to-all SyncKey fan-out.
type COPSConfig struct {
	Self         int
	ReplicaAddrs []string
	ClientPort   int
	ReplicaPort  int
}

// NetworkConfig is the listener shape spec.md §6 requires: "two or three TCP acceptors
// per session (main, client, optional clock), bound to 0.0.0.0:<port>".
type NetworkConfig struct {
	BindHost    string
	ReplicaPort int
	ClientPort  int
	ClockPort   int // 0 makes tcpnet.Listen bind an ephemeral port for the clock listener
	// PID tags every frame this session's connections write (see DefaultProtocolID).
	PID protocol.ID
}

// LogConfig mirrors logger.Config, persisted alongside the rest of the session config so
// a restart reuses the same sink/level.
type LogConfig struct {
	Path    string
	Level   string
	Console bool
	// Service tags every log line this process emits, so merged logs from a replicad
	// daemon and a replctl REPL talking to it can still be told apart by more than
	// sub-logger name alone.
	Service string
}

// Config is the top-level session configuration, covering whichever of the three
// engines this session runs plus the ambient network/log settings they share.
type Config struct {
	Net   NetworkConfig
	Log   LogConfig
	PBFT  PBFTConfig
	Mutex MutexConfig
	COPS  COPSConfig
}

// Load reads path if it exists, otherwise writes and returns a generated default. It
// panics on malformed JSON or a write failure, matching the teacher config package's
// fail-fast posture: a broken session config is not something to limp along with.
func Load(path string) *Config {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := defaultConfig()
		cfg.writeTo(path)
		return cfg
	}
	cfg, err := readConfig(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Net: NetworkConfig{
			BindHost:    "0.0.0.0",
			ReplicaPort: DefaultReplicaPort,
			ClientPort:  DefaultClientPort,
			ClockPort:   DefaultClockPort,
			PID:         DefaultProtocolID,
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
			Service: "replicad",
		},
		PBFT: PBFTConfig{
			NumFaulty:   1,
			ClientPort:  DefaultClientPort,
			ReplicaPort: DefaultReplicaPort,
		},
		Mutex: MutexConfig{
			Variant: VariantUntrusted,
		},
		COPS: COPSConfig{
			ClientPort:  DefaultClientPort,
			ReplicaPort: DefaultReplicaPort,
		},
	}
}

func readConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replconfig: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal replconfig: %w", err)
	}
	return &cfg, nil
}

func (cfg *Config) writeTo(path string) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		panic(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		panic(err)
	}
}

// Save persists cfg back to path.
func (cfg *Config) Save(path string) {
	cfg.writeTo(path)
}

// LoggerConfig adapts this session's LogConfig to logger.Config.
func (cfg *Config) LoggerConfig() logger.Config {
	return logger.Config{Path: cfg.Log.Path, Level: cfg.Log.Level, Console: cfg.Log.Console, Service: cfg.Log.Service}
}

// GenerateHexKeys produces n fresh 32-byte symmetric keys, hex-encoded, for a cluster
// bootstrap script to drop one set into every replica's PBFT.Keys/Mutex.Keys before
// first launch. It panics on a crypto/rand read failure, the same fail-fast posture as
// the rest of this package.
func GenerateHexKeys(n int) []string {
	out := make([]string, n)
	for i := range out {
		buf := make([]byte, 32)
		if _, err := cryptorand.Read(buf); err != nil {
			panic(fmt.Errorf("generate key %d: %w", i, err))
		}
		out[i] = hex.EncodeToString(buf)
	}
	return out
}

// DevKeyRing derives a deterministic n-key ring from each replica ordinal's digest, for
// sessions launched without a distributed Keys set. Every process deriving the same n
// lands on the same keyset, which is enough for a reference deployment but is not a
// substitute for real key distribution.
func DevKeyRing(self netcore.ReplicaID, n int) *netcore.KeyRing {
	keys := make(map[netcore.ReplicaID][]byte, n)
	for i := 0; i < n; i++ {
		d := netcore.Hash([]byte("replicore-dev-key"), []byte{byte(i)})
		keys[netcore.ReplicaID(i)] = d[:]
	}
	return netcore.NewKeyRing(self, keys)
}

// KeyRing decodes hexKeys (one per replica ordinal) into a netcore.KeyRing for self.
// A malformed entry panics rather than silently dropping a participant out of the
// signing set.
func KeyRing(self netcore.ReplicaID, hexKeys []string) *netcore.KeyRing {
	keys := make(map[netcore.ReplicaID][]byte, len(hexKeys))
	for i, k := range hexKeys {
		raw, err := hex.DecodeString(k)
		if err != nil {
			panic(fmt.Errorf("decode key %d: %w", i, err))
		}
		keys[netcore.ReplicaID(i)] = raw
	}
	return netcore.NewKeyRing(self, keys)
}
