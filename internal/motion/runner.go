package motion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/yourname/sleepstreak/internal"
)

var ErrTaskNotRegistered = errors.New("motion: task not registered")

// Runner is the background execution provider: named periodic tasks that
// keep running regardless of foreground state.
type Runner interface {
	Register(name string, every time.Duration, task func(ctx context.Context)) error
	Unregister(name string) error
}

// CronRunner implements Runner on an in-process cron scheduler.
type CronRunner struct {
	mu      sync.Mutex
	c       *cron.Cron
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewCronRunner(logger internal.Logger) *CronRunner {
	cl := CronLogger{L: logger}
	ctx, cancel := context.WithCancel(context.Background())
	r := &CronRunner{
		c:       cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		entries: make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
	r.c.Start()
	return r
}

// Register schedules task every interval, replacing a task of the same name.
func (r *CronRunner) Register(name string, every time.Duration, task func(ctx context.Context)) error {
	if every < time.Second {
		return fmt.Errorf("motion: interval %s below one second", every)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.entries[name]; ok {
		r.c.Remove(id)
	}
	r.entries[name] = r.c.Schedule(cron.Every(every), cron.FuncJob(func() { task(r.ctx) }))
	return nil
}

func (r *CronRunner) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotRegistered, name)
	}
	r.c.Remove(id)
	delete(r.entries, name)
	return nil
}

func (r *CronRunner) Registered(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[name]
	return ok
}

// Stop cancels in-flight tasks and waits for running jobs to return.
func (r *CronRunner) Stop() {
	r.cancel()
	<-r.c.Stop().Done()
}

// CronLogger adapts internal.Logger to cron.Logger.
type CronLogger struct {
	L internal.Logger
}

func (l CronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.L.Debugf("cron: %s %v", msg, keysAndValues)
}

func (l CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.L.Errorf("cron: %s: %v %v", msg, err, keysAndValues)
}
