package storage

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/fsmaudit/internal/config"
)

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix, run, device, cmd string
		want                     string
	}{
		{"raw", "r1", "10.0.0.1", "show version", "raw/r1/10.0.0.1/show_version.txt"},
		{"/raw/", "r1", "127.0.0.1:2222", "show snmp location", "raw/r1/127.0.0.1_2222/show_snmp_location.txt"},
		{"", "r1", "fe80::1", "Show  IP Int | inc up", "r1/fe80_1/show_ip_int_inc_up.txt"},
		{"raw", "r1", "..", "../etc", "raw/r1/_/.._etc.txt"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ObjectKey(tt.prefix, tt.run, tt.device, tt.cmd))
	}
}

func TestNewRawArchiveNotConfigured(t *testing.T) {
	_, err := NewRawArchive(config.MinioConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewRawArchive(config.MinioConfig{Host: "localhost", Port: 9000})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestArchiveUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	a, err := NewRawArchive(config.MinioConfig{
		Host: "127.0.0.1", Port: port, Bucket: "fsmaudit", Prefix: "raw",
		AccessKey: "k", SecretKey: "s",
	})
	require.NoError(t, err)
	err = a.Archive(context.Background(), "r1", "10.0.0.1", "show version", "output")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connectivity")
}
