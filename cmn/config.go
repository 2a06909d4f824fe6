package cmn

import (
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Config holds the defaults a Proxy, RpcClient, and Hdf5Appender fall back
// to when a caller doesn't override them explicitly. Loaded from a JSON
// file via json-iterator, the teacher's drop-in encoding/json replacement.
type Config struct {
	Proxy struct {
		PortQueueDepth   int           `json:"port_queue_depth"`   // default 100, per §4.3
		KickSlow         bool          `json:"kick_slow"`          // false => drop-on, true => kick
		ReconnectDeadline time.Duration `json:"reconnect_deadline"` // default 30s, per §4.2
		ListenPort       int           `json:"listen_port"`        // default 7855, per §6
	} `json:"proxy"`
	Rpc struct {
		Timeout time.Duration `json:"timeout"`
	} `json:"rpc"`
	Export struct {
		BatchSize int `json:"batch_size"` // default 65536, per §4.7
	} `json:"export"`
	Metrics struct {
		Enabled bool   `json:"enabled"`
		Addr    string `json:"addr"`
	} `json:"metrics"`
}

func Default() *Config {
	c := &Config{}
	c.Proxy.PortQueueDepth = 100
	c.Proxy.KickSlow = false
	c.Proxy.ReconnectDeadline = 30 * time.Second
	c.Proxy.ListenPort = 7855
	c.Rpc.Timeout = 5 * time.Second
	c.Export.BatchSize = 65536
	c.Metrics.Enabled = false
	c.Metrics.Addr = ":9855"
	return c
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapError(ErrExport, err, "read config %s", path)
	}
	c := Default()
	if err := jsoniter.Unmarshal(b, c); err != nil {
		return nil, WrapError(ErrParse, err, "parse config %s", path)
	}
	return c, nil
}

func (c *Config) Save(path string) error {
	b, err := jsoniter.MarshalIndent(c, "", "  ")
	if err != nil {
		return WrapError(ErrExport, err, "marshal config")
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return WrapError(ErrExport, err, "write config %s", path)
	}
	return nil
}
