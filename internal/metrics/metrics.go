package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "inquest"

// Metrics holds the Prometheus collectors for investigations and the HTTP API.
// It satisfies service.Recorder.
type Metrics struct {
	investigationsStarted  prometheus.Counter
	investigationsFinished *prometheus.CounterVec
	activeInvestigations   prometheus.Gauge
	phaseTransitions       *prometheus.CounterVec
	agentDuration          *prometheus.HistogramVec
	agentObservations      *prometheus.CounterVec
	agentTimeouts          *prometheus.CounterVec
	disproofAttempts       *prometheus.CounterVec
	spend                  *prometheus.CounterVec
	decisions              *prometheus.CounterVec
	httpRequests           *prometheus.CounterVec
	httpDuration           *prometheus.HistogramVec
}

// New builds an unregistered set of collectors.
func New() *Metrics {
	return &Metrics{
		investigationsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "investigations_started_total",
			Help:      "Investigations started.",
		}),
		investigationsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "investigations_finished_total",
			Help:      "Investigations that reached a terminal phase, by outcome.",
		}, []string{"outcome"}),
		activeInvestigations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "investigations_active",
			Help:      "Investigations started but not yet terminal in this process.",
		}),
		phaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Lifecycle phase transitions.",
		}, []string{"from", "to"}),
		agentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_observe_duration_seconds",
			Help:      "Time spent in specialist agent observation.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"agent"}),
		agentObservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_observations_total",
			Help:      "Observations returned by specialist agents.",
		}, []string{"agent"}),
		agentTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_timeouts_total",
			Help:      "Specialist agent dispatches that hit the timeout.",
		}, []string{"agent"}),
		disproofAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disproof_attempts_total",
			Help:      "Falsification attempts by strategy and result.",
		}, []string{"strategy", "result"}),
		spend: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spend_usd_total",
			Help:      "Model spend attributed to each actor.",
		}, []string{"actor"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "human_decisions_total",
			Help:      "Human decisions by kind and agreement with the recommendation.",
		}, []string{"kind", "agreed"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.investigationsStarted,
		m.investigationsFinished,
		m.activeInvestigations,
		m.phaseTransitions,
		m.agentDuration,
		m.agentObservations,
		m.agentTimeouts,
		m.disproofAttempts,
		m.spend,
		m.decisions,
		m.httpRequests,
		m.httpDuration,
	}
}

// Register adds every collector to reg. Collectors that are already
// registered are skipped so Register can be called more than once.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, collector := range m.collectors() {
		if err := reg.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func (m *Metrics) InvestigationStarted() {
	m.investigationsStarted.Inc()
	m.activeInvestigations.Inc()
}

func (m *Metrics) InvestigationFinished(outcome domain.Outcome) {
	m.investigationsFinished.WithLabelValues(string(outcome)).Inc()
	m.activeInvestigations.Dec()
}

func (m *Metrics) PhaseTransition(from, to domain.Phase) {
	m.phaseTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) AgentDispatch(agent string, d time.Duration, observations int, timedOut bool) {
	m.agentDuration.WithLabelValues(agent).Observe(d.Seconds())
	m.agentObservations.WithLabelValues(agent).Add(float64(observations))
	if timedOut {
		m.agentTimeouts.WithLabelValues(agent).Inc()
	}
}

func (m *Metrics) DisproofAttempt(strategy string, disproven bool) {
	result := "survived"
	if disproven {
		result = "disproven"
	}
	m.disproofAttempts.WithLabelValues(strategy, result).Inc()
}

func (m *Metrics) Spend(actor string, cost float64) {
	if cost <= 0 {
		return
	}
	m.spend.WithLabelValues(actor).Add(cost)
}

func (m *Metrics) Decision(kind domain.DecisionKind, agreed bool) {
	m.decisions.WithLabelValues(string(kind), strconv.FormatBool(agreed)).Inc()
}

// ObserveRequest records one served HTTP request. route should be the
// matched route pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
