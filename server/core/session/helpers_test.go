package session

import "github.com/wdcore/engine/server/conf"

func testCfg() *conf.Cfg {
	cfg := conf.NewCfg()
	cfg.DataDir = "."
	cfg.TotalPages = 16
	return cfg
}
