package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Job 一个周期性刷新任务
type Job struct {
	Name     string
	CronSpec string
	Run      func(ctx context.Context)
}

type Scheduler struct {
	cron *cron.Cron
	jobs []Job
}

func New(jobs []Job) (*Scheduler, error) {
	c := cron.New()
	s := &Scheduler{cron: c, jobs: jobs}

	for _, job := range jobs {
		j := job
		if _, err := c.AddFunc(j.CronSpec, func() { s.runJob(j) }); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) Cron() *cron.Cron {
	return s.cron
}

func (s *Scheduler) Start() {
	s.cron.Start()
	// 延迟执行首轮刷新，避免与进程启动时的首批用户请求争抢上游配额
	const startupDelay = 15 * time.Second
	time.AfterFunc(startupDelay, func() {
		go s.RunOnce()
	})
}

// RunOnce 顺序执行全部任务一遍，手动触发用
func (s *Scheduler) RunOnce() {
	for _, j := range s.jobs {
		s.runJob(j)
	}
}

func (s *Scheduler) runJob(j Job) {
	log.Printf("scheduler: run %s ...", j.Name)
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	j.Run(ctx)

	log.Printf("scheduler: %s done in %v", j.Name, time.Since(start))
}
