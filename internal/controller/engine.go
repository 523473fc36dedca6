package controller

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/event"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/group"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/metrics"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/node"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/plugin"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/screen"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/server"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/user"
)

// Components bundles every manager the controller loop drives, in the
// fixed per-tick order documented in spec.md §4.1: plugins, nodes, groups,
// servers, users, screens, subscribers.
type Components struct {
	Plugins *plugin.Host
	Nodes   *node.Manager
	Groups  *group.Manager
	Servers *server.Manager
	Users   *user.Manager
	Screens *screen.Manager
	Events  *event.Bus
}

// Controller is the single-threaded actor-style engine: one goroutine owns
// every component's mutable state, draining the task queue and running the
// documented component tick pass at a fixed rate. All state mutation is
// serialized through here; the only genuine concurrency is the background
// plugin calls (internal/plugin.Call) whose results re-enter via the next
// tick's stage advance.
type Controller struct {
	log zerolog.Logger

	queue      *Queue
	components Components
	metrics    *metrics.Metrics

	tickRate   time.Duration
	taskBudget int

	tickCount uint64
	done      chan struct{}
}

type Config struct {
	TickRate   time.Duration
	TaskBudget int // max mailbox items drained per tick; <=0 means unbounded
}

func New(log zerolog.Logger, queue *Queue, components Components, m *metrics.Metrics, cfg Config) *Controller {
	if cfg.TickRate <= 0 {
		cfg.TickRate = 50 * time.Millisecond // 20 Hz default
	}
	return &Controller{
		log:        log.With().Str("component", "controller").Logger(),
		queue:      queue,
		components: components,
		metrics:    m,
		tickRate:   cfg.TickRate,
		taskBudget: cfg.TaskBudget,
		done:       make(chan struct{}),
	}
}

// Run drives the controller loop until ctx is cancelled, then performs the
// graceful-stop sequence before returning. Intended to be run on its own
// goroutine for the process lifetime.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.tickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("shutdown signal received, draining graceful-stop sequence")
			c.gracefulStop(context.Background())
			return
		case <-ticker.C:
			c.runOnce(ctx)
		}
	}
}

// Done reports completion of the controller's graceful-stop sequence.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) runOnce(ctx context.Context) {
	start := time.Now()
	c.drainTasks(ctx)
	c.tickComponents(ctx)
	if c.metrics != nil {
		c.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
	c.tickCount++
}

// drainTasks runs up to taskBudget pending mailbox items sequentially, each
// with exclusive mutable access to every component for its duration. A
// non-positive budget drains the whole mailbox backlog that's ready right
// now (never more — it still won't block waiting for new arrivals).
func (c *Controller) drainTasks(ctx context.Context) {
	drained := 0
	for c.taskBudget <= 0 || drained < c.taskBudget {
		select {
		case t := <-c.queue.mailbox:
			value, err := t.run(ctx)
			select {
			case t.reply <- taskResult{value: value, err: err}:
			default:
			}
			if c.metrics != nil {
				c.metrics.TasksProcessed.Inc()
			}
			drained++
		default:
			return
		}
	}
}

// tickComponents runs each component's tick in the documented fixed order.
// The screen manager only advances on alternating ticks (half the main
// tick rate), skipping misses rather than catching up.
func (c *Controller) tickComponents(ctx context.Context) {
	c.components.Plugins.Tick(ctx)
	c.components.Nodes.Tick(ctx)
	c.components.Groups.Tick()
	c.components.Servers.Tick(ctx)
	c.components.Users.Tick()
	if c.tickCount%2 == 0 {
		c.components.Screens.Tick(ctx)
	}
	c.components.Events.GCDead()
}

// gracefulStop runs the documented shutdown order: deactivate every group
// (which schedules stops for its whole roster), pump the server manager's
// stop queue until it drains or a bounded number of iterations elapses,
// then shut down every plugin. Tasks still in the mailbox at this point are
// not run; each is answered with an error reply.
func (c *Controller) gracefulStop(ctx context.Context) {
	for _, g := range c.components.Groups.All() {
		if err := c.components.Groups.Deactivate(g.Name); err != nil {
			c.log.Warn().Str("group", g.Name).Err(err).Msg("failed to deactivate group during shutdown")
		}
	}

	const maxDrainTicks = 200
	for i := 0; i < maxDrainTicks && len(c.components.Servers.All()) > 0; i++ {
		c.components.Servers.Tick(ctx)
		time.Sleep(c.tickRate)
	}
	if remaining := len(c.components.Servers.All()); remaining > 0 {
		c.log.Warn().Int("count", remaining).Msg("shutdown drain budget exhausted with servers still stopping")
	}

	c.components.Plugins.Shutdown(ctx)

	for {
		select {
		case t := <-c.queue.mailbox:
			t.reply <- taskResult{err: errors.New("controller shut down before the task ran")}
		default:
			return
		}
	}
}
