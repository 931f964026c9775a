package observe

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	onlineSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "partysync_online_sessions",
		Help: "Number of authenticated sessions",
	})

	packetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partysync_packets_total",
			Help: "Packets processed by direction and type",
		},
		[]string{"dir", "type"}, // dir: in|out
	)

	broadcastsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "partysync_broadcasts_total",
		Help: "Fan-out sends performed by the outbound dispatcher",
	})

	triggerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partysync_trigger_events_total",
			Help: "Trigger events by throttle outcome",
		},
		[]string{"outcome"}, // forwarded|dropped
	)

	chatDedupTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "partysync_chat_dedup_total",
		Help: "Channel chat messages collapsed by the dedup window",
	})

	kicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partysync_kicks_total",
			Help: "Forced disconnects by reason",
		},
		[]string{"reason"}, // lost|replaced|removed
	)

	rosterRebuildsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "partysync_roster_rebuilds_total",
		Help: "Roster snapshots rebuilt by the presence monitor",
	})
)

func init() {
	prometheus.MustRegister(
		onlineSessions,
		packetsTotal,
		broadcastsTotal,
		triggerEventsTotal,
		chatDedupTotal,
		kicksTotal,
		rosterRebuildsTotal,
	)
}

func AddOnline(delta float64)        { onlineSessions.Add(delta) }
func IncPacketIn(typ string)         { packetsTotal.WithLabelValues("in", typ).Inc() }
func IncPacketOut(typ string)        { packetsTotal.WithLabelValues("out", typ).Inc() }
func IncBroadcast()                  { broadcastsTotal.Inc() }
func IncTriggerEvent(outcome string) { triggerEventsTotal.WithLabelValues(outcome).Inc() }
func IncChatDedup()                  { chatDedupTotal.Inc() }
func IncKick(reason string)          { kicksTotal.WithLabelValues(reason).Inc() }
func IncRosterRebuild()              { rosterRebuildsTotal.Inc() }
