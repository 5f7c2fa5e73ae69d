package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wdcore/engine/logger"
	"github.com/wdcore/engine/server/conf"
	"github.com/wdcore/engine/server/core/collab"
	"github.com/wdcore/engine/server/core/heap"
	"github.com/wdcore/engine/server/core/session"
)

func newBenchCmd(configPath *string) *cobra.Command {
	var tupleCount int

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Insert a batch of tuples, reporting throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := conf.Load(*configPath)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
				return err
			}

			sys, err := session.Init(cfg, "")
			if err != nil {
				return err
			}
			defer sys.Shutdown()

			catalog := collab.NewStaticCatalog()
			fsd := heap.NewFreeSpaceMap()
			h := heap.New(sys.Pool, sys.FileSpace, catalog, fsd, 1)

			start := time.Now()
			const relOID = 1000
			for i := 0; i < tupleCount; i++ {
				_, err := h.PutTuple(relOID, &heap.Tuple{
					Xmin: uint64(i + 1),
					Data: []byte(fmt.Sprintf("row-%06d", i)),
				})
				if err != nil {
					return err
				}
			}
			elapsed := time.Since(start)

			logger.Infof("storage-core bench: inserted %d tuples in %s (%.0f/s)",
				tupleCount, elapsed, float64(tupleCount)/elapsed.Seconds())
			return nil
		},
	}
	cmd.Flags().IntVar(&tupleCount, "tuples", 10000, "number of tuples to insert")
	return cmd
}
