package inventory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switches.txt")
	content := "# core\n10.0.0.1\n\n  10.0.0.2  \r\n10.0.0.1\n127.0.0.1:2222\nfe80::1\n[fe80::2]:22\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	devices, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, devices, 5)

	assert.Equal(t, Device{Entry: "10.0.0.1", Host: "10.0.0.1"}, devices[0])
	assert.Equal(t, "10.0.0.2", devices[1].Entry)
	assert.Equal(t, Device{Entry: "127.0.0.1:2222", Host: "127.0.0.1", Port: 2222}, devices[2])
	assert.Equal(t, "fe80::1", devices[3].Host)
	assert.Equal(t, 22, devices[4].Port)

	assert.Equal(t, 22, devices[0].PortOr(22))
	assert.Equal(t, 2222, devices[2].PortOr(22))
	assert.Equal(t, 830, devices[3].PortOr(830))
}

func TestReadErrors(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)

	_, err = Entries([]string{"10.0.0.1", "host:99999"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = ParseEntry("two words")
	assert.Error(t, err)
	_, err = ParseEntry("  ")
	assert.Error(t, err)
}

func TestEntriesEmpty(t *testing.T) {
	devices, err := Entries(nil)
	require.NoError(t, err)
	assert.Empty(t, devices)
}
