package audit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sshcollectorpro/fsmaudit/internal/inventory"
	"github.com/sshcollectorpro/fsmaudit/internal/templates"
	"github.com/sshcollectorpro/fsmaudit/pkg/textfsm"
)

// 设备命令
const (
	CmdShowVersion      = "show version"
	CmdShowSNMPLocation = "show snmp location"
	CmdShowInterfaces   = "show interfaces"
)

// ErrNoRecords 模板未从回显中提取到任何记录
var ErrNoRecords = errors.New("no records parsed")

// DeviceOutput 单台设备的清洗后回显
type DeviceOutput struct {
	Device  inventory.Device
	Outputs map[string]string
}

// Output 返回命令回显，未执行时为空串
func (o *DeviceOutput) Output(cmd string) string {
	return o.Outputs[cmd]
}

// Job 一类审计任务：要执行的命令以及把回显变成表格行的方式
type Job interface {
	Name() string
	Header() []string
	Commands() []string
	NeedsEnable() bool
	Rows(out *DeviceOutput) ([][]string, error)
}

// NewJob 按名称创建任务
func NewJob(name string, reg *templates.Registry, opts ...textfsm.RunOption) (Job, error) {
	switch strings.ToLower(name) {
	case "inventory":
		return &InventoryJob{templates: reg, opts: opts}, nil
	case "mgmt":
		return &MgmtJob{templates: reg, opts: opts}, nil
	default:
		return nil, fmt.Errorf("unknown job %q", name)
	}
}

// JobNames 支持的任务名
func JobNames() []string {
	return []string{"inventory", "mgmt"}
}

func parse(reg *templates.Registry, name, text string, opts []textfsm.RunOption) ([]textfsm.Record, error) {
	tmpl, err := reg.Get(name)
	if err != nil {
		return nil, err
	}
	records, err := tmpl.ParseText(text, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return records, nil
}

// versionRecord 取 show version 的首条记录
func versionRecord(reg *templates.Registry, text string, opts []textfsm.RunOption) (textfsm.Record, error) {
	records, err := parse(reg, templates.ShowVersion, text, opts)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w", CmdShowVersion, ErrNoRecords)
	}
	return records[0], nil
}

// InventoryJob 交换机基础信息：主机名、型号、版本、SNMP 位置、运行时长
type InventoryJob struct {
	templates *templates.Registry
	opts      []textfsm.RunOption
}

func (j *InventoryJob) Name() string { return "inventory" }

func (j *InventoryJob) Header() []string {
	return []string{"IP Address", "Hostname", "Hardware", "IOS Version", "SNMP Location", "Uptime"}
}

func (j *InventoryJob) Commands() []string {
	return []string{CmdShowVersion, CmdShowSNMPLocation}
}

func (j *InventoryJob) NeedsEnable() bool { return false }

// Rows 每台设备一行；HARDWARE 为列表，取第一项
func (j *InventoryJob) Rows(out *DeviceOutput) ([][]string, error) {
	rec, err := versionRecord(j.templates, out.Output(CmdShowVersion), j.opts)
	if err != nil {
		return nil, err
	}
	hardware := ""
	if items := rec.Items("HARDWARE"); len(items) > 0 {
		hardware = items[0]
	}
	row := []string{
		out.Device.Entry,
		rec.Scalar("HOSTNAME"),
		hardware,
		rec.Scalar("VERSION"),
		strings.TrimSpace(out.Output(CmdShowSNMPLocation)),
		rec.Scalar("UPTIME"),
	}
	return [][]string{row}, nil
}

// MgmtJob 查找设备管理地址所在的接口
type MgmtJob struct {
	templates *templates.Registry
	opts      []textfsm.RunOption
}

func (j *MgmtJob) Name() string { return "mgmt" }

func (j *MgmtJob) Header() []string {
	return []string{"IP Address", "Hostname", "Management IP Address", "Management Interface"}
}

func (j *MgmtJob) Commands() []string {
	return []string{CmdShowInterfaces, CmdShowVersion}
}

func (j *MgmtJob) NeedsEnable() bool { return true }

// Rows 接口 IP_ADDRESS 的主机部分等于设备地址时输出一行，没有命中时不输出
func (j *MgmtJob) Rows(out *DeviceOutput) ([][]string, error) {
	interfaces, err := parse(j.templates, templates.ShowInterfaces, out.Output(CmdShowInterfaces), j.opts)
	if err != nil {
		return nil, err
	}
	rec, err := versionRecord(j.templates, out.Output(CmdShowVersion), j.opts)
	if err != nil {
		return nil, err
	}
	hostname := rec.Scalar("HOSTNAME")

	var rows [][]string
	for _, iface := range interfaces {
		addr := iface.Scalar("IP_ADDRESS")
		if addr == "" {
			continue
		}
		host, _, _ := strings.Cut(addr, "/")
		if host != out.Device.Host {
			continue
		}
		rows = append(rows, []string{out.Device.Entry, hostname, addr, iface.Scalar("INTERFACE")})
	}
	return rows, nil
}
