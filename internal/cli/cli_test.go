package cli

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/fsmaudit/internal/simulate"
	"github.com/sshcollectorpro/fsmaudit/pkg/textfsm"
)

const interfaceTemplate = `Value Required INTERFACE (\S+)
Value List ADDR (\S+)

Start
  ^interface -> Continue.Record
  ^interface ${INTERFACE}
  ^ ip address ${ADDR}
`

const interfaceInput = `interface Vlan1
 ip address 10.0.0.1
 ip address 10.0.0.2
interface Loopback0
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseCommandFormats(t *testing.T) {
	tmpl := writeFile(t, "ifaces.template", interfaceTemplate)
	input := writeFile(t, "ifaces.txt", interfaceInput)

	out, err := execute(t, "", "parse", "-t", tmpl, input)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"INTERFACE":"Vlan1","ADDR":["10.0.0.1","10.0.0.2"]},{"INTERFACE":"Loopback0","ADDR":[]}]`, out)

	out, err = execute(t, "", "parse", "-t", tmpl, "-f", "yaml", input)
	require.NoError(t, err)
	assert.Equal(t, "- INTERFACE: Vlan1\n  ADDR: [10.0.0.1, 10.0.0.2]\n- INTERFACE: Loopback0\n  ADDR: []\n", out)

	out, err = execute(t, "", "parse", "-t", tmpl, "--format", "csv", input)
	require.NoError(t, err)
	assert.Equal(t, "INTERFACE,ADDR\nVlan1,\"10.0.0.1,10.0.0.2\"\nLoopback0,\n", out)
}

func TestParseCommandNamedTemplateFromStdin(t *testing.T) {
	stdin := "Cisco IOS Software, C3750 Software (C3750-IPSERVICESK9-M), Version 12.2(55)SE5, RELEASE SOFTWARE (fc1)\n" +
		"lab-sw uptime is 3 days, 2 hours\n"
	out, err := execute(t, stdin, "parse", "-n", "cisco_ios_show_version", "-f", "csv")
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"VERSION", "ROMMON", "HOSTNAME", "UPTIME", "RUNNING_IMAGE", "HARDWARE", "SERIAL", "CONFIG_REGISTER"}, rows[0])
	assert.Equal(t, []string{"12.2(55)SE5", "", "lab-sw", "3 days, 2 hours", "", "", "", ""}, rows[1])
}

func TestParseCommandErrors(t *testing.T) {
	bad := writeFile(t, "bad.template", "Value X (a)\n\nStart\n  no caret\n")
	_, err := execute(t, "a\n", "parse", "-t", bad)
	var se *textfsm.TemplateSyntaxError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 4, se.Line)

	_, err = execute(t, "a\n", "parse", "-n", "cisco_ios_show_missing")
	assert.Error(t, err)

	_, err = execute(t, "a\n", "parse")
	assert.Error(t, err)

	tmpl := writeFile(t, "ifaces.template", interfaceTemplate)
	_, err = execute(t, "a\n", "parse", "-t", tmpl, "-f", "xml")
	assert.ErrorContains(t, err, "unknown format")

	stop := writeFile(t, "stop.template", "Value X (\\S+)\n\nStart\n  ^stop -> Error\n  ^${X} -> Record\n")
	out, err := execute(t, "one\nstop\ntwo\n", "parse", "-t", stop)
	var re *textfsm.RuleError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 2, re.Line)
	assert.JSONEq(t, `[{"X":"one"}]`, out)
}

func TestInventoryCommand(t *testing.T) {
	t.Setenv(envPassword, "")
	t.Setenv(envSecret, "")

	dev := simulate.NewDevice("lab1", "admin", "pw")
	dev.EnableSecret = "en"
	dev.Vars["location"] = "Rack 4"
	srv, err := simulate.Start(dev)
	require.NoError(t, err)
	defer srv.Close()

	devices := writeFile(t, "devices.txt", "# lab\n"+srv.Addr()+"\n\n")
	csvPath := filepath.Join(t.TempDir(), "out.csv")

	_, err = execute(t, "pw\n\n", "inventory", "-d", devices, "-o", csvPath, "-u", "admin")
	require.NoError(t, err)

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"IP Address", "Hostname", "Hardware", "IOS Version", "SNMP Location", "Uptime"},
		{srv.Addr(), "lab1", "WS-C3750G-24TS-1U", "12.2(55)SE5", "Rack 4", "1 year, 12 weeks, 3 days, 4 hours, 5 minutes"},
	}, rows)
}

func TestMgmtCommandToStdout(t *testing.T) {
	t.Setenv(envUsername, "admin")
	t.Setenv(envPassword, "pw")
	t.Setenv(envSecret, "en")

	dev := simulate.NewDevice("core9", "admin", "pw")
	dev.EnableSecret = "en"
	srv, err := simulate.Start(dev)
	require.NoError(t, err)
	defer srv.Close()

	devices := writeFile(t, "devices.txt", srv.Addr()+"\n")
	out, err := execute(t, "", "mgmt", "-d", devices)
	require.NoError(t, err)
	assert.Equal(t, "IP Address,Hostname,Management IP Address,Management Interface\n"+
		srv.Addr()+",core9,127.0.0.1/24,Vlan1\n", out)
}

func TestMgmtCommandSkipsDevicesWithoutRows(t *testing.T) {
	t.Setenv(envUsername, "admin")
	t.Setenv(envPassword, "pw")
	t.Setenv(envSecret, "en")
	logPath := filepath.Join(t.TempDir(), "fsmaudit.log")
	t.Setenv("FSMAUDIT_LOG_OUTPUT", "file")
	t.Setenv("FSMAUDIT_LOG_FORMAT", "json")
	t.Setenv("FSMAUDIT_LOG_FILE_PATH", logPath)

	var addrs []string
	for _, mgmtIP := range []string{"127.0.0.1", "10.9.9.9"} {
		dev := simulate.NewDevice("core", "admin", "pw")
		dev.EnableSecret = "en"
		dev.Vars["mgmt_ip"] = mgmtIP
		srv, err := simulate.Start(dev)
		require.NoError(t, err)
		defer srv.Close()
		addrs = append(addrs, srv.Addr())
	}

	devices := writeFile(t, "devices.txt", strings.Join(addrs, "\n")+"\n")
	csvPath := filepath.Join(t.TempDir(), "mgmt.csv")
	_, err := execute(t, "", "mgmt", "-d", devices, "-o", csvPath)
	require.NoError(t, err)

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, "IP Address,Hostname,Management IP Address,Management Interface\n"+
		addrs[0]+",core,127.0.0.1/24,Vlan1\n", string(data))

	logs, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(logs), `"msg":"Wrote results for `+addrs[0]+`"`)
	assert.NotContains(t, string(logs), `"msg":"Wrote results for `+addrs[1]+`"`)
}

func TestJobCommandAllDevicesFailed(t *testing.T) {
	t.Setenv(envUsername, "admin")
	t.Setenv(envPassword, "wrong")
	t.Setenv(envSecret, "")

	srv, err := simulate.Start(simulate.NewDevice("r1", "admin", "pw"))
	require.NoError(t, err)
	defer srv.Close()

	devices := writeFile(t, "devices.txt", srv.Addr()+"\n")
	out, err := execute(t, "", "inventory", "-d", devices, "-o", "-")
	assert.ErrorContains(t, err, "all 1 devices failed")
	assert.Equal(t, "IP Address,Hostname,Hardware,IOS Version,SNMP Location,Uptime\n", out)
}

func TestPromptCredentials(t *testing.T) {
	t.Setenv(envUsername, "")
	t.Setenv(envPassword, "")
	t.Setenv(envSecret, "")

	var prompts bytes.Buffer
	creds, err := promptCredentials(strings.NewReader("ops\nsecret-pw\nen\n"), &prompts, "")
	require.NoError(t, err)
	assert.Equal(t, "ops", creds.Username)
	assert.Equal(t, "secret-pw", creds.Password)
	assert.Equal(t, "en", creds.Secret)
	assert.Equal(t, "Username: Password: Secret (press enter if not in use): ", prompts.String())

	_, err = promptCredentials(strings.NewReader(""), &prompts, "")
	assert.ErrorContains(t, err, "username is required")
}

func TestGeneratedDevices(t *testing.T) {
	devs := generatedDevices(&simulateFlags{count: 3, username: "u", password: "p"})
	require.Len(t, devs, 3)
	assert.Equal(t, "sw3", devs[2].Hostname)
	assert.Equal(t, "p", devs[0].EnableSecret)
}
