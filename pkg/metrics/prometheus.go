package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements Collector on top of a prometheus.Registerer.
type Prometheus struct {
	jobsEnqueued      *prometheus.CounterVec
	jobsStarted       *prometheus.CounterVec
	jobsCompleted     *prometheus.CounterVec
	jobsFailed        *prometheus.CounterVec
	jobsRetried       *prometheus.CounterVec
	jobsReaped        prometheus.Counter
	dispatchDenied    prometheus.Counter
	jobDuration       *prometheus.HistogramVec
	eventsPublished   *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	notifsDelivered   *prometheus.CounterVec
	notifsDropped     prometheus.Counter
}

// NewPrometheus creates a Collector registering its metrics on reg.
// Pass prometheus.DefaultRegisterer to expose them via the default handler.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queuekit_jobs_enqueued_total",
			Help: "Jobs admitted to the queue.",
		}, []string{"type"}),
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queuekit_jobs_started_total",
			Help: "Jobs dispatched to worker slots.",
		}, []string{"type"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queuekit_jobs_completed_total",
			Help: "Jobs completed successfully.",
		}, []string{"type"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queuekit_jobs_failed_total",
			Help: "Jobs failed permanently.",
		}, []string{"type"}),
		jobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queuekit_jobs_retried_total",
			Help: "Failed attempts scheduled for retry.",
		}, []string{"type"}),
		jobsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queuekit_jobs_reaped_total",
			Help: "Stalled jobs returned to the queue by the reaper.",
		}),
		dispatchDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queuekit_dispatch_denied_total",
			Help: "Dispatch attempts deferred by the rate limiter.",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "queuekit_job_duration_seconds",
			Help:    "Handler execution time of completed jobs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queuekit_events_published_total",
			Help: "Events accepted by the event bus.",
		}, []string{"channel"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queuekit_events_dropped_total",
			Help: "Events dropped for slow or closed subscribers.",
		}, []string{"channel"}),
		notifsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queuekit_notifications_delivered_total",
			Help: "Notifications delivered to recipients.",
		}, []string{"scope"}),
		notifsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queuekit_notifications_dropped_total",
			Help: "Notification deliveries that failed.",
		}),
	}

	reg.MustRegister(
		p.jobsEnqueued, p.jobsStarted, p.jobsCompleted, p.jobsFailed,
		p.jobsRetried, p.jobsReaped, p.dispatchDenied, p.jobDuration,
		p.eventsPublished, p.eventsDropped, p.notifsDelivered, p.notifsDropped,
	)

	return p
}

func (p *Prometheus) JobEnqueued(jobType string) { p.jobsEnqueued.WithLabelValues(jobType).Inc() }
func (p *Prometheus) JobStarted(jobType string)  { p.jobsStarted.WithLabelValues(jobType).Inc() }

func (p *Prometheus) JobCompleted(jobType string, duration time.Duration) {
	p.jobsCompleted.WithLabelValues(jobType).Inc()
	p.jobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

func (p *Prometheus) JobFailed(jobType string)  { p.jobsFailed.WithLabelValues(jobType).Inc() }
func (p *Prometheus) JobRetried(jobType string) { p.jobsRetried.WithLabelValues(jobType).Inc() }
func (p *Prometheus) JobsReaped(count int)      { p.jobsReaped.Add(float64(count)) }
func (p *Prometheus) DispatchDenied()           { p.dispatchDenied.Inc() }

func (p *Prometheus) EventPublished(channel string) {
	p.eventsPublished.WithLabelValues(channel).Inc()
}

func (p *Prometheus) EventDropped(channel string) {
	p.eventsDropped.WithLabelValues(channel).Inc()
}

func (p *Prometheus) NotificationDelivered(targeted bool) {
	scope := "broadcast"
	if targeted {
		scope = "targeted"
	}
	p.notifsDelivered.WithLabelValues(scope).Inc()
}

func (p *Prometheus) NotificationDropped() { p.notifsDropped.Inc() }
