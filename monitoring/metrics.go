package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	jobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Total jobs processed per queue and outcome",
		},
		[]string{"queue", "job_type", "status"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Job handler duration per queue",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"queue"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth_total",
			Help: "Current number of jobs per queue and state",
		},
		[]string{"queue", "state"},
	)

	machineTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "machine_transitions_total",
			Help: "State machine events per machine and outcome",
		},
		[]string{"machine", "event", "status"},
	)

	webhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Payment processor webhook deliveries",
		},
		[]string{"kind", "status"},
	)
)

// Monitor samples queue depths from Redis on a fixed interval.
type Monitor struct {
	redis    *redis.Client
	queues   []string
	stopChan chan struct{}
}

func NewMonitor(redisClient *redis.Client, queues []string) *Monitor {
	monitor := &Monitor{
		redis:    redisClient,
		queues:   queues,
		stopChan: make(chan struct{}),
	}

	go monitor.collectMetrics()

	return monitor
}

func (m *Monitor) Stop() {
	close(m.stopChan)
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.collectQueueDepths(context.Background())
		case <-m.stopChan:
			return
		}
	}
}

func (m *Monitor) collectQueueDepths(ctx context.Context) {
	for _, queue := range m.queues {
		waiting, _ := m.redis.LLen(ctx, "jobs:"+queue+":wait").Result()
		queueDepth.WithLabelValues(queue, "wait").Set(float64(waiting))

		delayed, _ := m.redis.ZCard(ctx, "jobs:"+queue+":delayed").Result()
		queueDepth.WithLabelValues(queue, "delayed").Set(float64(delayed))

		dead, _ := m.redis.LLen(ctx, "jobs:"+queue+":dead").Result()
		queueDepth.WithLabelValues(queue, "dead").Set(float64(dead))
	}
}

// TrackJob records one processed job and its handler duration.
func TrackJob(queue, jobType, status string, duration time.Duration) {
	jobsProcessed.WithLabelValues(queue, jobType, status).Inc()
	jobDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// TrackTransition records a state machine event outcome.
func TrackTransition(machine, event, status string) {
	machineTransitions.WithLabelValues(machine, event, status).Inc()
}

// TrackWebhook records an inbound payment processor callback.
func TrackWebhook(kind, status string) {
	webhookRequests.WithLabelValues(kind, status).Inc()
}
