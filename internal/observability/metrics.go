package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	linesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marantzbridge",
			Subsystem: "receiver",
			Name:      "lines_total",
			Help:      "Status lines received, by decoded kind.",
		},
		[]string{"kind"},
	)
	linesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marantzbridge",
			Subsystem: "receiver",
			Name:      "lines_dropped_total",
			Help:      "Inbound lines discarded for exceeding the maximum length.",
		},
	)
	writesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marantzbridge",
			Subsystem: "receiver",
			Name:      "writes_total",
			Help:      "Command lines written to the receiver.",
		},
		[]string{"success"},
	)
	connectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "marantzbridge",
			Subsystem: "receiver",
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise.",
		},
		[]string{"state"},
	)
	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marantzbridge",
			Subsystem: "receiver",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts, by outcome.",
		},
		[]string{"success"},
	)
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marantzbridge",
			Subsystem: "command",
			Name:      "submissions_total",
			Help:      "Command submissions, by result.",
		},
		[]string{"result"},
	)
	busEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marantzbridge",
			Subsystem: "eventbus",
			Name:      "evictions_total",
			Help:      "Subscribers dropped for falling behind.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(linesTotal, linesDropped, writesTotal, connectionState,
			connectAttempts, commandsTotal, busEvictions)
	})
}

func RecordLine(kind string) {
	RegisterMetrics()
	linesTotal.WithLabelValues(kind).Inc()
}

func RecordDroppedLine() {
	RegisterMetrics()
	linesDropped.Inc()
}

func RecordWrite(success bool) {
	RegisterMetrics()
	writesTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func RecordConnectAttempt(success bool) {
	RegisterMetrics()
	connectAttempts.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordConnectionState marks current as the active state among all.
func RecordConnectionState(current string, all []string) {
	RegisterMetrics()
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		connectionState.WithLabelValues(s).Set(v)
	}
}

func RecordCommand(result string) {
	RegisterMetrics()
	commandsTotal.WithLabelValues(result).Inc()
}

func RecordEviction() {
	RegisterMetrics()
	busEvictions.Inc()
}
