// Package metrics exposes the controller's Prometheus collectors (C14):
// queue throughput, tick duration, per-group running counts, scaler
// decisions, plugin call outcomes, and screen subscriber counts. Collectors
// are registered on a caller-supplied *prometheus.Registry rather than the
// global default, so repeated construction in tests never double-registers.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	TasksProcessed  prometheus.Counter
	TickDuration    prometheus.Histogram
	ServersRunning  *prometheus.GaugeVec // labels: group
	ScaleEvents     *prometheus.CounterVec // labels: action (start|stop)
	PluginCalls     *prometheus.CounterVec // labels: plugin, op, result
	ScreenSubscribers *prometheus.GaugeVec // labels: server
}

// New constructs every collector and registers it on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		TasksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "controller_tasks_processed_total",
			Help: "Total number of mailbox tasks drained and executed by the controller loop.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "controller_tick_duration_seconds",
			Help:    "Wall-clock duration of one full controller tick (task drain + component ticks).",
			Buckets: prometheus.DefBuckets,
		}),
		ServersRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "servers_running",
			Help: "Number of running servers, per group.",
		}, []string{"group"}),
		ScaleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "group_scale_events_total",
			Help: "Number of scale start/stop requests issued by the group scaler.",
		}, []string{"action"}),
		PluginCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plugin_calls_total",
			Help: "Number of plugin calls, by plugin, operation, and result.",
		}, []string{"plugin", "op", "result"}),
		ScreenSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "screen_subscribers",
			Help: "Number of live screen subscribers, per server.",
		}, []string{"server"}),
	}

	reg.MustRegister(m.TasksProcessed, m.TickDuration, m.ServersRunning, m.ScaleEvents, m.PluginCalls, m.ScreenSubscribers)
	return m
}

func (m *Metrics) ObserveScaleEvent(action string) {
	m.ScaleEvents.WithLabelValues(action).Inc()
}

func (m *Metrics) ObservePluginCall(plugin, op, result string) {
	m.PluginCalls.WithLabelValues(plugin, op, result).Inc()
}

func (m *Metrics) SetServersRunning(group string, count int) {
	m.ServersRunning.WithLabelValues(group).Set(float64(count))
}

func (m *Metrics) SetScreenSubscribers(server string, count int) {
	m.ScreenSubscribers.WithLabelValues(server).Set(float64(count))
}
