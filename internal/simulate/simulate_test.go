package simulate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestDeviceOutputRendersProfile(t *testing.T) {
	dev := NewDevice("sw1", "admin", "pw")
	dev.Vars["mgmt_ip"] = "10.0.0.5"

	out, ok := dev.Output("show   VERSION")
	require.True(t, ok)
	assert.Contains(t, out, "sw1 uptime is 1 year")
	assert.Contains(t, out, "\r\n")
	assert.NotContains(t, out, "{{")

	out, ok = dev.Output("show interfaces")
	require.True(t, ok)
	assert.Contains(t, out, "Internet address is 10.0.0.5/24")

	_, ok = dev.Output("show running-config")
	assert.False(t, ok)
}

func TestNewDeviceDefaultVars(t *testing.T) {
	dev := NewDevice("edge2", "admin", "pw")
	out, ok := dev.Output("show version")
	require.True(t, ok)
	assert.Contains(t, out, "edge2 uptime is")
	assert.Contains(t, out, "cisco WS-C3750G-24TS-1U (PowerPC405)")
	assert.Contains(t, out, "Processor board ID FOC1234X5YZ")
	assert.NotContains(t, out, "{{")
}

func TestDeviceCommandsOverrideProfile(t *testing.T) {
	dev := NewDevice("sw1", "admin", "pw")
	dev.Commands["show snmp location"] = "Rack {{hostname}}\n"

	out, ok := dev.Output("show snmp location")
	require.True(t, ok)
	assert.Equal(t, "Rack sw1\r\n", out)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	devDir := filepath.Join(dir, "core1")
	require.NoError(t, os.MkdirAll(devDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(devDir, "device.yaml"), []byte(`
hostname: CORE-1
username: netops
password: secret
enable_secret: en
vars:
  location: "DC1 Row 3"
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(devDir, "show_clock.txt"), []byte("*10:00:00.000 UTC Mon Mar 1 2021\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("ignored"), 0o644))

	devices, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, devices, 1)

	dev := devices[0]
	assert.Equal(t, "core1", dev.Name)
	assert.Equal(t, "CORE-1", dev.Hostname)
	assert.Equal(t, "netops", dev.Username)
	assert.Equal(t, "en", dev.EnableSecret)
	assert.True(t, dev.EnableRequired)
	assert.Equal(t, "127.0.0.1:0", dev.Listen)

	out, ok := dev.Output("show clock")
	require.True(t, ok)
	assert.Equal(t, "*10:00:00.000 UTC Mon Mar 1 2021\r\n", out)

	out, ok = dev.Output("show snmp location")
	require.True(t, ok)
	assert.Equal(t, "DC1 Row 3\r\n", out)
}

func TestLoadDirErrors(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "broken"), 0o755))
	_, err = LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestServerAuthentication(t *testing.T) {
	srv, err := Start(NewDevice("sw1", "admin", "pw"))
	require.NoError(t, err)
	defer srv.Close()

	assert.Equal(t, "127.0.0.1", srv.Host())
	assert.NotZero(t, srv.Port())

	dial := func(pass string) error {
		c, err := ssh.Dial("tcp", srv.Addr(), &ssh.ClientConfig{
			User:            "admin",
			Auth:            []ssh.AuthMethod{ssh.Password(pass)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         5 * time.Second,
		})
		if err == nil {
			c.Close()
		}
		return err
	}
	assert.NoError(t, dial("pw"))
	assert.Error(t, dial("wrong"))
}

func TestServerCloseIdempotent(t *testing.T) {
	srv, err := Start(NewDevice("sw1", "admin", "pw"))
	require.NoError(t, err)
	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())
}
