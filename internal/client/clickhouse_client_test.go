package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClickHouseURL(t *testing.T) {
	tests := []struct {
		raw    string
		addr   string
		host   string
		secure bool
	}{
		{raw: "localhost", addr: "localhost:9000", host: "localhost"},
		{raw: "ch.internal:9100", addr: "ch.internal:9100", host: "ch.internal"},
		{raw: "http://ch.internal", addr: "ch.internal:9000", host: "ch.internal"},
		{raw: "https://ch.example.com", addr: "ch.example.com:9440", host: "ch.example.com", secure: true},
		{raw: "https://ch.example.com:9441", addr: "ch.example.com:9441", host: "ch.example.com", secure: true},
		{raw: "10.0.0.7:9000", addr: "10.0.0.7:9000", host: "10.0.0.7"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			ep, err := parseClickHouseURL(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.addr, ep.addr)
			assert.Equal(t, tt.host, ep.host)
			assert.Equal(t, tt.secure, ep.secure)
		})
	}

	_, err := parseClickHouseURL("")
	assert.Error(t, err)
}

func TestClickHouseTLSRejectsMissingCA(t *testing.T) {
	ep := clickhouseEndpoint{addr: "ch:9440", host: "ch", secure: true}

	cfg, err := clickhouseTLS(ep, "")
	require.NoError(t, err)
	assert.Equal(t, "ch", cfg.ServerName)
	assert.Nil(t, cfg.RootCAs)

	_, err = clickhouseTLS(ep, t.TempDir()+"/missing.pem")
	assert.Error(t, err)
}
