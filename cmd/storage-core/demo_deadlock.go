package main

import (
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/wdcore/engine/logger"
	"github.com/wdcore/engine/server/core/lockmgr"
)

func newDemoDeadlockCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "demo-deadlock",
		Short: "Drive two goroutines into a classic A-waits-B-waits-A lock cycle and show the detector break it",
		RunE: func(cmd *cobra.Command, args []string) error {
			table := lockmgr.NewTable(4)
			tagA := lockmgr.Tag{Method: lockmgr.MethodDefault, DBID: 1, RelID: 1}
			tagB := lockmgr.Tag{Method: lockmgr.MethodDefault, DBID: 1, RelID: 2}

			if err := table.Acquire(tagA, "backend-1", lockmgr.Exclusive); err != nil {
				return err
			}
			if err := table.Acquire(tagB, "backend-2", lockmgr.Exclusive); err != nil {
				return err
			}

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				logger.Infof("backend-1: requesting tagB, held by backend-2")
				if err := table.Acquire(tagB, "backend-1", lockmgr.Exclusive); err != nil {
					logger.Infof("backend-1: %v", err)
					return
				}
				logger.Infof("backend-1: granted tagB")
				table.Release(tagB, "backend-1", lockmgr.Exclusive)
			}()

			time.Sleep(50 * time.Millisecond)

			logger.Infof("backend-2: requesting tagA, held by backend-1")
			err := table.Acquire(tagA, "backend-2", lockmgr.Exclusive)
			if err != nil {
				logger.Infof("backend-2: %v (deadlock detector broke the cycle)", err)
			} else {
				logger.Infof("backend-2: granted tagA")
				table.Release(tagA, "backend-2", lockmgr.Exclusive)
			}

			table.Release(tagB, "backend-2", lockmgr.Exclusive)
			wg.Wait()
			table.Release(tagA, "backend-1", lockmgr.Exclusive)
			return nil
		},
	}
}
