package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"

	"github.com/wdcore/engine/server/conf"
	"github.com/wdcore/engine/server/core/metrics"
	"github.com/wdcore/engine/server/core/session"
)

func newInspectCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Bring a storage core instance up and print its buffer pool and lock metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := conf.Load(*configPath)
			if err != nil {
				return err
			}

			sys, err := session.Init(cfg, "")
			if err != nil {
				return err
			}
			defer sys.Shutdown()

			reg := prometheus.NewRegistry()
			if err := metrics.Register(reg); err != nil {
				return err
			}
			sys.Pool.Metrics()

			families, err := reg.Gather()
			if err != nil {
				return err
			}
			for _, mf := range families {
				printFamily(mf)
			}
			return nil
		},
	}
}

func printFamily(mf *dto.MetricFamily) {
	for _, m := range mf.Metric {
		switch {
		case m.Counter != nil:
			fmt.Printf("%s %v = %g\n", mf.GetName(), labelString(m.Label), m.Counter.GetValue())
		case m.Gauge != nil:
			fmt.Printf("%s %v = %g\n", mf.GetName(), labelString(m.Label), m.Gauge.GetValue())
		}
	}
}

func labelString(labels []*dto.LabelPair) string {
	out := "{"
	for i, l := range labels {
		if i > 0 {
			out += ","
		}
		out += l.GetName() + "=" + l.GetValue()
	}
	return out + "}"
}
