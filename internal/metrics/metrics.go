package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the game collectors. A nil *Metrics records nothing.
type Metrics struct {
	sessionsActive    prometheus.Gauge
	sessionsStarted   prometheus.Counter
	sessionsEnded     *prometheus.CounterVec
	submissions       *prometheus.CounterVec
	questionsClosed   *prometheus.CounterVec
	providerFailures  *prometheus.CounterVec
	explanations      *prometheus.CounterVec
	leaderboardMerges *prometheus.CounterVec
	eventsDropped     prometheus.Counter
	tickDuration      prometheus.Histogram
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to
// expose them through promhttp.Handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "trivia_sessions_active",
			Help: "Number of sessions currently registered",
		}),
		sessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "trivia_sessions_started_total",
			Help: "Total number of games that left the joining phase",
		}),
		sessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trivia_sessions_ended_total",
			Help: "Total number of ended sessions",
		}, []string{"forced"}),
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trivia_submissions_total",
			Help: "Answer submissions by outcome",
		}, []string{"result"}),
		questionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trivia_questions_closed_total",
			Help: "Closed questions by reason",
		}, []string{"reason"}),
		providerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trivia_provider_failures_total",
			Help: "Failed calls to external collaborators",
		}, []string{"provider"}),
		explanations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trivia_explanations_total",
			Help: "Explanation requests by outcome",
		}, []string{"outcome"}),
		leaderboardMerges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trivia_leaderboard_merges_total",
			Help: "Leaderboard merges by outcome",
		}, []string{"outcome"}),
		eventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "trivia_events_dropped_total",
			Help: "Game events dropped because the dispatch queue was full",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trivia_tick_duration_seconds",
			Help:    "Duration of one scheduler tick",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
	}
}

func (m *Metrics) SetSessionsActive(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}

func (m *Metrics) SessionEnded(forced bool) {
	if m == nil {
		return
	}
	label := "false"
	if forced {
		label = "true"
	}
	m.sessionsEnded.WithLabelValues(label).Inc()
}

// Submission records an answer outcome such as "correct", "wrong" or an error kind.
func (m *Metrics) Submission(result string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result).Inc()
}

func (m *Metrics) QuestionClosed(reason string) {
	if m == nil {
		return
	}
	m.questionsClosed.WithLabelValues(reason).Inc()
}

func (m *Metrics) ProviderFailure(provider string) {
	if m == nil {
		return
	}
	m.providerFailures.WithLabelValues(provider).Inc()
}

func (m *Metrics) Explanation(outcome string) {
	if m == nil {
		return
	}
	m.explanations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LeaderboardMerge(outcome string) {
	if m == nil {
		return
	}
	m.leaderboardMerges.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}
