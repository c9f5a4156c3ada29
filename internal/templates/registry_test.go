package templates

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/fsmaudit/internal/simulate"
	"github.com/sshcollectorpro/fsmaudit/pkg/textfsm"
)

const customTemplate = `Value CLOCK (.+)

Start
  ^\*?${CLOCK}
`

func simulatedOutput(t *testing.T, cmd string) string {
	t.Helper()
	dev := simulate.NewDevice("sw1", "u", "p")
	dev.Vars["mgmt_ip"] = "10.1.1.1"
	out, ok := dev.Output(cmd)
	require.True(t, ok)
	return out
}

func TestBuiltinShowVersion(t *testing.T) {
	tmpl, err := NewRegistry("").Get(ShowVersion)
	require.NoError(t, err)

	records, err := tmpl.ParseText(simulatedOutput(t, "show version"))
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "12.2(55)SE5", rec.Scalar("VERSION"))
	assert.Equal(t, "Bootstrap", rec.Scalar("ROMMON"))
	assert.Equal(t, "sw1", rec.Scalar("HOSTNAME"))
	assert.Equal(t, "1 year, 12 weeks, 3 days, 4 hours, 5 minutes", rec.Scalar("UPTIME"))
	assert.Equal(t, "c3750-ipservicesk9-mz.122-55.SE5.bin", rec.Scalar("RUNNING_IMAGE"))
	assert.Equal(t, []string{"WS-C3750G-24TS-1U"}, rec.Items("HARDWARE"))
	assert.Equal(t, []string{"FOC1234X5YZ"}, rec.Items("SERIAL"))
	assert.Equal(t, "0xF", rec.Scalar("CONFIG_REGISTER"))
}

func TestBuiltinShowInterfaces(t *testing.T) {
	tmpl, err := NewRegistry("").Get(ShowInterfaces + Ext)
	require.NoError(t, err)
	assert.Equal(t, "IP_ADDRESS", tmpl.Header()[7])

	records, err := tmpl.ParseText(simulatedOutput(t, "show interfaces"))
	require.NoError(t, err)

	var got [][]string
	for _, r := range records {
		got = append(got, []string{
			r.Scalar("INTERFACE"), r.Scalar("LINK_STATUS"), r.Scalar("PROTOCOL_STATUS"),
			r.Scalar("HARDWARE_TYPE"), r.Scalar("IP_ADDRESS"), r.Scalar("DUPLEX"), r.Scalar("SPEED"),
		})
	}
	want := [][]string{
		{"Vlan1", "up", "up", "EtherSVI", "10.1.1.1/24", "", ""},
		{"GigabitEthernet1/0/1", "up", "up (connected)", "Gigabit Ethernet", "", "Full-duplex", "1000Mb/s"},
		{"GigabitEthernet1/0/2", "administratively down", "down (disabled)", "Gigabit Ethernet", "", "Auto-duplex", "Auto-speed"},
		{"Loopback0", "up", "up", "Loopback", "10.255.0.1/32", "", ""},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("interfaces mismatch (-want +got):\n%s", diff)
	}

	vlan := records[0]
	assert.Equal(t, "0011.2233.4400", vlan.Scalar("ADDRESS"))
	assert.Equal(t, "management", vlan.Scalar("DESCRIPTION"))
	assert.Equal(t, "1500", vlan.Scalar("MTU"))
	assert.Equal(t, "1000000 Kbit", vlan.Scalar("BANDWIDTH"))
	assert.Equal(t, "10 usec", vlan.Scalar("DELAY"))
	assert.Equal(t, "ARPA", vlan.Scalar("ENCAPSULATION"))
}

func TestGetCachesAndInvalidates(t *testing.T) {
	reg := NewRegistry("")
	a, err := reg.Get(ShowVersion)
	require.NoError(t, err)
	b, err := reg.Get(ShowVersion)
	require.NoError(t, err)
	assert.Same(t, a, b)

	reg.Invalidate(ShowVersion + Ext)
	c, err := reg.Get(ShowVersion)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestGetErrors(t *testing.T) {
	reg := NewRegistry("")
	_, err := reg.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = reg.Get("../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = reg.Get("")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cisco_ios_show_clock.template"), []byte(customTemplate), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ShowVersion+Ext), []byte(customTemplate), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.template"), []byte("Value X (a)\n\nStart\n  no caret\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	reg := NewRegistry(dir)
	names, err := reg.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"broken", "cisco_ios_show_clock", ShowInterfaces, ShowVersion}, names)

	tmpl, err := reg.Get(ShowVersion)
	require.NoError(t, err)
	assert.Equal(t, []string{"CLOCK"}, tmpl.Header())

	_, err = reg.Get("broken")
	require.Error(t, err)
	assert.ErrorIs(t, err, textfsm.ErrTemplateSyntax)
	assert.Contains(t, err.Error(), "broken.template:4")
}

func TestWatchInvalidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clock.template")
	require.NoError(t, os.WriteFile(path, []byte(customTemplate), 0o644))

	reg := NewRegistry(dir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, reg.Watch(ctx))

	first, err := reg.Get("clock")
	require.NoError(t, err)
	assert.Equal(t, []string{"CLOCK"}, first.Header())

	updated := "Value TIME (.+)\n\nStart\n  ^${TIME}\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	assert.Eventually(t, func() bool {
		tmpl, err := reg.Get("clock")
		return err == nil && len(tmpl.Header()) == 1 && tmpl.Header()[0] == "TIME"
	}, 3*time.Second, 50*time.Millisecond)
}

func TestWatchRequiresDir(t *testing.T) {
	assert.Error(t, NewRegistry("").Watch(context.Background()))
}
