package file

import (
    "os"
    "path/filepath"
    "testing"

    "github.com/stretchr/testify/require"
)

func TestFile_Seeds(t *testing.T) {
    dir := t.TempDir()
    path := filepath.Join(dir, "peers")
    content := "10.0.0.1:1337\n# comment\n\n10.0.0.2:1337\n"
    require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

    d := New(Options{Path: path})
    require.Equal(t, []string{"10.0.0.1:1337", "10.0.0.2:1337"}, d.Seeds())
    // Cached after the first resolution.
    require.Equal(t, []string{"10.0.0.1:1337", "10.0.0.2:1337"}, d.Seeds())
}

func TestFile_EnvOverride(t *testing.T) {
    t.Setenv("PAXOS_TEST_PEERS", "a:1, b:2")
    d := New(Options{Path: "/nonexistent", Env: "PAXOS_TEST_PEERS"})
    require.Equal(t, []string{"a:1", "b:2"}, d.Seeds())
}

func TestFile_MissingFile(t *testing.T) {
    d := New(Options{Path: "/nonexistent"})
    require.Empty(t, d.Seeds())
}
