package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CodesIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gardenhub",
		Name:      "verification_codes_issued_total",
		Help:      "Verification codes stored and handed to delivery.",
	}, []string{"purpose", "channel"})

	CodeChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gardenhub",
		Name:      "verification_code_checks_total",
		Help:      "Verification attempts by outcome.",
	}, []string{"purpose", "outcome"})

	DeliveryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gardenhub",
		Name:      "delivery_failures_total",
		Help:      "Email/SMS sends that returned an error.",
	}, []string{"channel"})

	CodesSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gardenhub",
		Name:      "verification_codes_swept_total",
		Help:      "Expired codes removed by the background sweep.",
	})

	AuthEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gardenhub",
		Name:      "auth_events_total",
		Help:      "Authentication flow transitions.",
	}, []string{"event"})
)

var once sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(CodesIssued, CodeChecks, DeliveryFailures, CodesSwept, AuthEvents)
	})
}
