package job

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Janitor 定时清理过期的批处理任务
type Janitor struct {
	cron  *cron.Cron
	store *Store
	ttl   time.Duration
}

func NewJanitor(store *Store, ttl time.Duration, schedule string) (*Janitor, error) {
	j := &Janitor{
		cron:  cron.New(),
		store: store,
		ttl:   ttl,
	}
	if _, err := j.cron.AddFunc(schedule, j.prune); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop 停止调度并等待正在执行的清理结束
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) prune() {
	n, err := j.store.Prune(time.Now().Add(-j.ttl))
	if err != nil {
		log.Error().Err(err).Msg("prune batch jobs")
		return
	}
	if n > 0 {
		log.Info().Int("pruned", n).Msg("pruned expired batch jobs")
	}
}
