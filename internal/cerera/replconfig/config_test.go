package replconfig

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadGeneratesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replconfig.json")

	cfg := Load(path)
	require.Equal(t, DefaultReplicaPort, cfg.Net.ReplicaPort)
	require.Equal(t, VariantUntrusted, cfg.Mutex.Variant)

	reloaded := Load(path)
	require.Equal(t, cfg.Net, reloaded.Net)
	require.Equal(t, cfg.Mutex, reloaded.Mutex)
}

func TestSavePersistsMutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replconfig.json")
	cfg := Load(path)

	cfg.Mutex.Variant = VariantQuorum
	cfg.Mutex.NumFaulty = 1
	cfg.Save(path)

	reloaded := Load(path)
	require.Equal(t, VariantQuorum, reloaded.Mutex.Variant)
	require.Equal(t, 1, reloaded.Mutex.NumFaulty)
}
