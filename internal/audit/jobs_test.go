package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/fsmaudit/internal/inventory"
	"github.com/sshcollectorpro/fsmaudit/internal/simulate"
	"github.com/sshcollectorpro/fsmaudit/internal/templates"
	"github.com/sshcollectorpro/fsmaudit/pkg/textfsm"
)

func deviceOutput(t *testing.T, entry, mgmtIP string, cmds ...string) *DeviceOutput {
	t.Helper()
	dev, err := inventory.ParseEntry(entry)
	require.NoError(t, err)

	sim := simulate.NewDevice("sw1", "u", "p")
	sim.Vars["mgmt_ip"] = mgmtIP
	sim.Vars["location"] = "Building 1, Rack 4"
	out := &DeviceOutput{Device: dev, Outputs: map[string]string{}}
	for _, cmd := range cmds {
		text, ok := sim.Output(cmd)
		require.True(t, ok, cmd)
		out.Outputs[cmd] = text
	}
	return out
}

func TestNewJob(t *testing.T) {
	reg := templates.NewRegistry("")
	for _, name := range JobNames() {
		job, err := NewJob(name, reg)
		require.NoError(t, err)
		assert.Equal(t, name, job.Name())
	}
	_, err := NewJob("backup", reg)
	assert.Error(t, err)
}

func TestInventoryJobRows(t *testing.T) {
	job, err := NewJob("inventory", templates.NewRegistry(""))
	require.NoError(t, err)
	assert.False(t, job.NeedsEnable())
	assert.Equal(t, []string{CmdShowVersion, CmdShowSNMPLocation}, job.Commands())

	out := deviceOutput(t, "10.0.0.1", "10.0.0.1", CmdShowVersion, CmdShowSNMPLocation)
	rows, err := job.Rows(out)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{
		"10.0.0.1", "sw1", "WS-C3750G-24TS-1U", "12.2(55)SE5", "Building 1, Rack 4",
		"1 year, 12 weeks, 3 days, 4 hours, 5 minutes",
	}}, rows)
	assert.Len(t, rows[0], len(job.Header()))
}

func TestInventoryJobNoVersionRecord(t *testing.T) {
	job, err := NewJob("inventory", templates.NewRegistry(""))
	require.NoError(t, err)

	out := &DeviceOutput{
		Device:  inventory.Device{Entry: "10.0.0.1", Host: "10.0.0.1"},
		Outputs: map[string]string{CmdShowVersion: "% Invalid input detected at '^' marker.\n"},
	}
	_, err = job.Rows(out)
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestMgmtJobRows(t *testing.T) {
	job, err := NewJob("mgmt", templates.NewRegistry(""))
	require.NoError(t, err)
	assert.True(t, job.NeedsEnable())

	out := deviceOutput(t, "10.0.0.5", "10.0.0.5", CmdShowInterfaces, CmdShowVersion)
	rows, err := job.Rows(out)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"10.0.0.5", "sw1", "10.0.0.5/24", "Vlan1"}}, rows)
}

func TestMgmtJobMatchesWholeAddress(t *testing.T) {
	job, err := NewJob("mgmt", templates.NewRegistry(""))
	require.NoError(t, err)

	// 10.0.0.5 是 10.0.0.50 的子串，但不是同一地址
	out := deviceOutput(t, "10.0.0.5", "10.0.0.50", CmdShowInterfaces, CmdShowVersion)
	rows, err := job.Rows(out)
	require.NoError(t, err)
	assert.Empty(t, rows)

	out = deviceOutput(t, "10.255.0.1:2222", "10.0.0.50", CmdShowInterfaces, CmdShowVersion)
	rows, err = job.Rows(out)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"10.255.0.1:2222", "sw1", "10.255.0.1/32", "Loopback0"}}, rows)
}

func TestJobRunOptionsApplied(t *testing.T) {
	job, err := NewJob("inventory", templates.NewRegistry(""), textfsm.WithMaxReevaluations(1))
	require.NoError(t, err)
	out := deviceOutput(t, "10.0.0.1", "10.0.0.1", CmdShowVersion, CmdShowSNMPLocation)
	_, err = job.Rows(out)
	assert.NoError(t, err)
}
