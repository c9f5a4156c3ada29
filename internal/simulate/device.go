package simulate

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

//go:embed profiles
var profiles embed.FS

// DefaultProfile 内置回显所在的设备类型目录
const DefaultProfile = "cisco_ios"

// Device 单台模拟设备
type Device struct {
	Name           string `mapstructure:"-"`
	Hostname       string `mapstructure:"hostname"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	EnableSecret   string `mapstructure:"enable_secret"`
	EnableRequired bool   `mapstructure:"enable_required"`
	// Listen 监听地址，默认 127.0.0.1:0
	Listen  string `mapstructure:"listen"`
	Profile string `mapstructure:"profile"`
	// Vars 替换回显模板中的 {{key}}，如 mgmt_ip、location、model、serial
	Vars map[string]string `mapstructure:"vars"`
	// Commands 命令 -> 回显，优先于内置回显
	Commands map[string]string `mapstructure:"-"`
}

// NewDevice 使用内置 cisco_ios 回显构造一台设备
func NewDevice(hostname, username, password string) Device {
	d := Device{
		Name:           hostname,
		Hostname:       hostname,
		Username:       username,
		Password:       password,
		EnableRequired: true,
	}
	d.withDefaults()
	return d
}

func (d *Device) withDefaults() {
	if d.Hostname == "" {
		d.Hostname = d.Name
	}
	if d.Listen == "" {
		d.Listen = "127.0.0.1:0"
	}
	if d.Profile == "" {
		d.Profile = DefaultProfile
	}
	if d.Vars == nil {
		d.Vars = map[string]string{}
	}
	if d.Commands == nil {
		d.Commands = map[string]string{}
	}
	defaults := map[string]string{
		"hostname": d.Hostname,
		"mgmt_ip":  "127.0.0.1",
		"location": "Lab",
		"model":    "WS-C3750G-24TS-1U",
		"serial":   "FOC1234X5YZ",
	}
	for k, v := range defaults {
		if _, ok := d.Vars[k]; !ok {
			d.Vars[k] = v
		}
	}
}

// Output 返回命令回显（CRLF 行尾），未知命令返回 false
func (d *Device) Output(cmd string) (string, bool) {
	cmd = normalizeCommand(cmd)
	if out, ok := d.Commands[cmd]; ok {
		return d.render(out), true
	}
	data, err := profiles.ReadFile(path.Join("profiles", d.Profile, fileName(cmd)))
	if err != nil {
		return "", false
	}
	return d.render(string(data)), true
}

func (d *Device) render(out string) string {
	pairs := make([]string, 0, len(d.Vars)*2)
	for k, v := range d.Vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	out = strings.NewReplacer(pairs...).Replace(out)
	return ensureCRLF(out)
}

// LoadDir 读取设备目录：<dir>/<device>/device.yaml 为设备描述，
// 同目录下 show_version.txt 之类的文件为命令回显
func LoadDir(dir string) ([]Device, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read simulate dir: %w", err)
	}
	var devices []Device
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dev, err := loadDevice(filepath.Join(dir, e.Name()), e.Name())
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

func loadDevice(dir, name string) (Device, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(filepath.Join(dir, "device.yaml"))
	v.SetDefault("enable_required", true)
	if err := v.ReadInConfig(); err != nil {
		return Device{}, fmt.Errorf("failed to read device %s: %w", name, err)
	}
	dev := Device{Name: name}
	if err := v.Unmarshal(&dev); err != nil {
		return Device{}, fmt.Errorf("failed to unmarshal device %s: %w", name, err)
	}
	dev.withDefaults()

	err := fs.WalkDir(os.DirFS(dir), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".txt") || strings.Contains(p, "/") {
			return err
		}
		bs, err := os.ReadFile(filepath.Join(dir, p))
		if err != nil {
			return err
		}
		cmd := strings.ReplaceAll(strings.TrimSuffix(p, ".txt"), "_", " ")
		dev.Commands[normalizeCommand(cmd)] = string(bs)
		return nil
	})
	if err != nil {
		return Device{}, fmt.Errorf("failed to load outputs for %s: %w", name, err)
	}
	return dev, nil
}

func normalizeCommand(cmd string) string {
	return strings.ToLower(strings.Join(strings.Fields(cmd), " "))
}

// fileName show version -> show_version.txt
func fileName(cmd string) string {
	return strings.ReplaceAll(cmd, " ", "_") + ".txt"
}

func ensureCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
