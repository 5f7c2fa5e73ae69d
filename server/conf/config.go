// Package conf holds the tunables that drive the storage core: buffer pool
// sizing/eviction policy, backend capacity and commit durability defaults.
// Values are loaded from an ini file with gopkg.in/ini.v1, the same library
// the rest of this lineage uses for its configuration.
package conf

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/ini.v1"
)

// Cfg holds every tunable named in the core specification (§6).
type Cfg struct {
	Raw *ini.File

	DataDir  string
	PageSize uint32

	// Buffer pool tunables.
	TotalPages       uint32
	IndexBufferReserve float64 `default:"0.0"`
	BufferScale        float64 `default:"0.10"`
	LingeringBuffers   bool    `default:"false"`
	BufferWait         time.Duration `default:"400ms"`
	MaxPoolPages       uint32

	// Session/environment tunables.
	MaxBackends int  `default:"64"`
	Multiuser   bool `default:"true"`
}

// NewCfg returns a Cfg populated with the documented defaults.
func NewCfg() *Cfg {
	return &Cfg{
		Raw:                ini.Empty(),
		DataDir:            "./data",
		PageSize:           8192,
		TotalPages:         1024,
		IndexBufferReserve: 0.0,
		BufferScale:        0.10,
		LingeringBuffers:   false,
		BufferWait:         400 * time.Millisecond,
		MaxPoolPages:       8192,
		MaxBackends:        64,
		Multiuser:          true,
	}
}

// Load reads an ini file at path and overlays it on the defaults. A missing
// file is not an error — the defaults apply, matching the teacher's
// tolerant bring-up posture for optional config files.
func Load(path string) (*Cfg, error) {
	cfg := NewCfg()

	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	raw, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("conf: failed to parse %s: %w", path, err)
	}
	cfg.Raw = raw

	core := raw.Section("core")
	cfg.DataDir = core.Key("data_dir").MustString(cfg.DataDir)
	cfg.PageSize = uint32(core.Key("page_size").MustUint(int(cfg.PageSize)))

	buf := raw.Section("buffer_pool")
	cfg.TotalPages = uint32(buf.Key("total_pages").MustUint(int(cfg.TotalPages)))
	cfg.IndexBufferReserve = buf.Key("index_buffer_reserve").MustFloat64(cfg.IndexBufferReserve)
	cfg.BufferScale = buf.Key("buffer_scale").MustFloat64(cfg.BufferScale)
	cfg.LingeringBuffers = buf.Key("lingering_buffers").MustBool(cfg.LingeringBuffers)
	waitMs := buf.Key("buffer_wait").MustInt(int(cfg.BufferWait / time.Millisecond))
	cfg.BufferWait = time.Duration(waitMs) * time.Millisecond
	cfg.MaxPoolPages = uint32(buf.Key("max_pool_pages").MustUint(int(cfg.MaxPoolPages)))

	sess := raw.Section("session")
	cfg.MaxBackends = sess.Key("max_backends").MustInt(cfg.MaxBackends)
	cfg.Multiuser = sess.Key("multiuser").MustBool(cfg.Multiuser)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the bounds documented in spec §6.
func (cfg *Cfg) Validate() error {
	if cfg.IndexBufferReserve < 0.0 || cfg.IndexBufferReserve > 0.5 {
		return fmt.Errorf("conf: index_buffer_reserve %.3f out of range [0.0, 0.5]", cfg.IndexBufferReserve)
	}
	if cfg.BufferScale < 0.05 || cfg.BufferScale > 0.50 {
		return fmt.Errorf("conf: buffer_scale %.3f out of range [0.05, 0.50]", cfg.BufferScale)
	}
	if cfg.PageSize == 0 {
		return fmt.Errorf("conf: page_size must be non-zero")
	}
	if cfg.TotalPages == 0 {
		return fmt.Errorf("conf: total_pages must be non-zero")
	}
	return nil
}
