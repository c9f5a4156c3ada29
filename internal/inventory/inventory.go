package inventory

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
)

// Device 设备清单中的一项
type Device struct {
	// Entry 清单中的原始写法，用于输出
	Entry string
	Host  string
	// Port 为 0 时使用配置的默认端口
	Port int
}

// PortOr 返回拨号端口，清单未写端口时取 defaultPort
func (d Device) PortOr(defaultPort int) int {
	if d.Port == 0 {
		return defaultPort
	}
	return d.Port
}

// ReadFile 读取设备清单文件
func ReadFile(path string) ([]Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open device list: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read 每行一台设备，可写为 host 或 host:port；
// 忽略空行与 # 注释，重复项只保留第一次出现
func Read(r io.Reader) ([]Device, error) {
	var devices []Device
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		dev, err := ParseEntry(line)
		if err != nil {
			return nil, fmt.Errorf("device list line %d: %w", lineNo, err)
		}
		if _, dup := seen[dev.Entry]; dup {
			continue
		}
		seen[dev.Entry] = struct{}{}
		devices = append(devices, dev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read device list: %w", err)
	}
	return devices, nil
}

// ParseEntry 解析单条设备写法
func ParseEntry(entry string) (Device, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return Device{}, fmt.Errorf("empty device entry")
	}
	if strings.ContainsAny(entry, " \t") {
		return Device{}, fmt.Errorf("invalid device entry %q", entry)
	}
	host, portStr, err := net.SplitHostPort(entry)
	if err != nil {
		// 不带端口（含裸 IPv6 地址）
		return Device{Entry: entry, Host: strings.Trim(entry, "[]")}, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Device{}, fmt.Errorf("invalid port in %q", entry)
	}
	return Device{Entry: entry, Host: host, Port: port}, nil
}

// Entries 将文本列表（如 API 请求体）转换为设备项
func Entries(entries []string) ([]Device, error) {
	return Read(strings.NewReader(strings.Join(entries, "\n")))
}
