package xidstatus

import (
	"github.com/robfig/cron/v3"

	"github.com/wdcore/engine/logger"
)

// OldestActiveXidFunc reports the oldest transaction id any live session
// still has open, supplied by session.System. The log truncates no
// further than this, since a still-active transaction may yet need to
// consult an older id's status.
type OldestActiveXidFunc func() uint64

// Vacuumer periodically advances a Log's low water mark to the oldest
// still-active transaction id. This is the minimal truncation sweep the
// core itself needs to keep the status log bounded; it is not the
// relation-level vacuum driver (out of scope — see the core's
// Non-goals), which also reclaims dead tuple space and is owned by a
// higher layer.
type Vacuumer struct {
	log      *Log
	oldest   OldestActiveXidFunc
	cron     *cron.Cron
	entryID  cron.EntryID
}

// NewVacuumer builds a Vacuumer that is not yet running; call Start to
// schedule it.
func NewVacuumer(log *Log, oldest OldestActiveXidFunc) *Vacuumer {
	return &Vacuumer{
		log:    log,
		oldest: oldest,
		cron:   cron.New(),
	}
}

// Start schedules the truncation sweep on the given cron spec (e.g.
// "@every 30s") and begins running it in the background.
func (v *Vacuumer) Start(spec string) error {
	id, err := v.cron.AddFunc(spec, v.sweep)
	if err != nil {
		return err
	}
	v.entryID = id
	v.cron.Start()
	return nil
}

// Stop halts the schedule and waits for any in-flight sweep to finish.
func (v *Vacuumer) Stop() {
	ctx := v.cron.Stop()
	<-ctx.Done()
}

func (v *Vacuumer) sweep() {
	mark := v.oldest()
	if mark <= v.log.LowWaterMark() {
		return
	}
	if err := v.log.AdvanceLowWaterMark(mark); err != nil {
		logger.Warnf("xidstatus: vacuum sweep failed to advance low water mark to %d: %v", mark, err)
		return
	}
	logger.Debugf("xidstatus: low water mark advanced to %d", mark)
}
