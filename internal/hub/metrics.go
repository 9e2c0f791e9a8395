package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rhythmhub"

type metrics struct {
	peers     prometheus.Gauge
	rooms     prometheus.Gauge
	radio     prometheus.Gauge
	framesIn  *prometheus.CounterVec
	framesOut *prometheus.CounterVec
	malformed prometheus.Counter
	refused   *prometheus.CounterVec
	sendDrops *prometheus.CounterVec
	faults    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		peers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Number of connected players",
		}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Number of open rooms",
		}),
		radio: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "radio_listeners",
			Help:      "Number of players in radio channels",
		}),
		framesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Decoded frames received by command",
		}, []string{"command"}),
		framesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames queued for sending by command",
		}, []string{"command"}),
		malformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_frames_total",
			Help:      "Frames dropped because they could not be decoded",
		}),
		refused: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_refused_total",
			Help:      "Refused handshakes by reason",
		}, []string{"code"}),
		sendDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_drops_total",
			Help:      "Unreliable frames dropped on a full send queue",
		}, []string{"channel"}),
		faults: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_faults_total",
			Help:      "Event handlers that failed or panicked",
		}),
	}
}
