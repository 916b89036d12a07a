package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency   = metric.NewHistogram("1m1s")
	ListenerLatency   = metric.NewHistogram("1m1s")
	MessagesSent      = metric.NewCounter("10s1s")
	MessagesReceived  = metric.NewCounter("10s1s")
	UnhandledMessages = metric.NewCounter("10s1s")
	BytesSent         = metric.NewCounter("10s1s")
	BytesReceived     = metric.NewCounter("10s1s")
	RouteQueries      = metric.NewCounter("10s1s")
	FlowModsSent      = metric.NewCounter("10s1s")

	// open sockets, including ones still handshaking
	Connections = new(expvar.Int)
	// switches that completed the handshake
	Switches = new(expvar.Int)
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("nyflow:Messages/s sent", MessagesSent)
	expvar.Publish("nyflow:Messages/s received", MessagesReceived)
	expvar.Publish("nyflow:Unhandled/s", UnhandledMessages)
	expvar.Publish("nyflow:Bytes/s sent", BytesSent)
	expvar.Publish("nyflow:Bytes/s received", BytesReceived)
	expvar.Publish("nyflow:RouteQueries/s", RouteQueries)
	expvar.Publish("nyflow:FlowMods/s", FlowModsSent)
	expvar.Publish("nyflow:DispatchLatency (µs)", DispatchLatency)
	expvar.Publish("nyflow:ListenerLatency (µs)", ListenerLatency)
	expvar.Publish("nyflow:Connections", Connections)
	expvar.Publish("nyflow:Switches", Switches)
}
