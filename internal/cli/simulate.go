package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sshcollectorpro/fsmaudit/internal/simulate"
	"github.com/sshcollectorpro/fsmaudit/pkg/logger"
)

type simulateFlags struct {
	dir       string
	count     int
	username  string
	password  string
	secret    string
	inventory string
}

func newSimulateCmd(a *app) *cobra.Command {
	f := &simulateFlags{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run simulated Cisco IOS devices over SSH",
		Long: "Start one SSH listener per simulated device and block until interrupted.\n" +
			"Devices come from --dir (one sub-directory with device.yaml per device) or are generated with --count.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.dir, "dir", "", "Device profile directory")
	cmd.Flags().IntVar(&f.count, "count", 2, "Number of generated devices when --dir is not set")
	cmd.Flags().StringVar(&f.username, "username", "admin", "Login username of generated devices")
	cmd.Flags().StringVar(&f.password, "password", "admin", "Login password of generated devices")
	cmd.Flags().StringVar(&f.secret, "secret", "", "Enable secret of generated devices (default: password)")
	cmd.Flags().StringVar(&f.inventory, "inventory", "", "Write the listener addresses to this device list file")
	return cmd
}

func generatedDevices(f *simulateFlags) []simulate.Device {
	devices := make([]simulate.Device, 0, f.count)
	for i := 1; i <= f.count; i++ {
		d := simulate.NewDevice(fmt.Sprintf("sw%d", i), f.username, f.password)
		d.EnableSecret = f.secret
		if d.EnableSecret == "" {
			d.EnableSecret = f.password
		}
		devices = append(devices, d)
	}
	return devices
}

func runSimulate(cmd *cobra.Command, f *simulateFlags) error {
	var devices []simulate.Device
	if f.dir != "" {
		loaded, err := simulate.LoadDir(f.dir)
		if err != nil {
			return err
		}
		devices = loaded
	} else {
		if f.count < 1 {
			return fmt.Errorf("--count must be >= 1")
		}
		devices = generatedDevices(f)
	}

	servers := make([]*simulate.Server, 0, len(devices))
	defer func() {
		for _, s := range servers {
			s.Close()
		}
	}()

	addrs := make([]string, 0, len(devices))
	for _, d := range devices {
		srv, err := simulate.Start(d)
		if err != nil {
			return fmt.Errorf("failed to start %s: %w", d.Name, err)
		}
		servers = append(servers, srv)
		addrs = append(addrs, srv.Addr())
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", srv.Device().Hostname, srv.Addr())
	}

	if f.inventory != "" {
		content := "# simulated devices\n" + strings.Join(addrs, "\n") + "\n"
		if err := os.WriteFile(f.inventory, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to write inventory: %w", err)
		}
		logger.Infof("Simulate: device list written to %s", f.inventory)
	}

	logger.Infof("Simulate: %d devices running, press Ctrl+C to stop", len(servers))
	<-cmd.Context().Done()
	logger.Info("Simulate: stopping")
	return nil
}
