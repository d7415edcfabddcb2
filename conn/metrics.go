package conn

import (
	gometrics "github.com/hashicorp/go-metrics"
)

// The engine reports through hashicorp/go-metrics' package-level API. The
// caller decides the sink by configuring gometrics.NewGlobal; the default
// sink discards everything, so tests need no stubbing.
const (
	metricQueueDepth      = "respcore.conn.queue_depth"
	metricReconnectTotal  = "respcore.conn.reconnect_total"
	metricHealthCheckFail = "respcore.conn.health_check_failed"
	metricBytesWritten    = "respcore.conn.bytes_written"
	metricBytesRead       = "respcore.conn.bytes_read"
	metricPushFramesTotal = "respcore.conn.push_frames_total"
)

func recordQueueDepth(labelConnID string, n int) {
	gometrics.SetGaugeWithLabels([]string{metricQueueDepth}, float32(n), []gometrics.Label{{Name: "conn_id", Value: labelConnID}})
}

func incrReconnect(labelConnID string) {
	gometrics.IncrCounterWithLabels([]string{metricReconnectTotal}, 1, []gometrics.Label{{Name: "conn_id", Value: labelConnID}})
}

func incrHealthCheckFailed(labelConnID string) {
	gometrics.IncrCounterWithLabels([]string{metricHealthCheckFail}, 1, []gometrics.Label{{Name: "conn_id", Value: labelConnID}})
}

func addBytesWritten(labelConnID string, n int) {
	gometrics.IncrCounterWithLabels([]string{metricBytesWritten}, float32(n), []gometrics.Label{{Name: "conn_id", Value: labelConnID}})
}

func addBytesRead(labelConnID string, n int) {
	gometrics.IncrCounterWithLabels([]string{metricBytesRead}, float32(n), []gometrics.Label{{Name: "conn_id", Value: labelConnID}})
}

func incrPushFrames(labelConnID string) {
	gometrics.IncrCounterWithLabels([]string{metricPushFramesTotal}, 1, []gometrics.Label{{Name: "conn_id", Value: labelConnID}})
}
