// Package metrics provides Prometheus metrics for calls and transcoders.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "doorbell"

var (
	transcoderFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "transcoder",
		Name:      "fps",
		Help:      "Current transcoder output FPS",
	}, []string{"device_id", "stream_type"})

	transcoderDroppedFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "transcoder",
		Name:      "dropped_frames_total",
		Help:      "Total dropped frames",
	}, []string{"device_id", "stream_type"})

	transcoderDuplicateFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "transcoder",
		Name:      "duplicate_frames_total",
		Help:      "Total duplicate frames",
	}, []string{"device_id", "stream_type"})

	transcoderSpeed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "transcoder",
		Name:      "processing_speed",
		Help:      "Transcoder processing speed multiplier",
	}, []string{"device_id", "stream_type"})

	transcoderActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "transcoder",
		Name:      "active",
		Help:      "Number of running transcoder processes",
	})

	transcoderExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transcoder",
		Name:      "exits_total",
		Help:      "Transcoder exits by outcome",
	}, []string{"expected"})

	transcoderProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transcoder",
		Name:      "probes_total",
		Help:      "Transcoder candidate probes by executable and result",
	}, []string{"executable", "result"})

	// Local cache for SSE exporter access.
	progressCache   = make(map[progressKey]*TranscoderProgress)
	progressCacheMu sync.RWMutex
)

type progressKey struct {
	deviceID   string
	streamType string
}

// TranscoderProgress holds the latest progress values for one transcoder.
type TranscoderProgress struct {
	DeviceID        string
	StreamType      string
	FPS             float64
	DroppedFrames   float64
	DuplicateFrames float64
	Speed           float64
}

// SetTranscoderFPS sets the current FPS for a session.
func SetTranscoderFPS(deviceID, streamType string, fps float64) {
	transcoderFPS.WithLabelValues(deviceID, streamType).Set(fps)
	updateCache(deviceID, streamType, func(m *TranscoderProgress) { m.FPS = fps })
}

// SetTranscoderDroppedFrames sets the dropped frame count for a session.
func SetTranscoderDroppedFrames(deviceID, streamType string, count float64) {
	transcoderDroppedFrames.WithLabelValues(deviceID, streamType).Set(count)
	updateCache(deviceID, streamType, func(m *TranscoderProgress) { m.DroppedFrames = count })
}

// SetTranscoderDuplicateFrames sets the duplicate frame count for a session.
func SetTranscoderDuplicateFrames(deviceID, streamType string, count float64) {
	transcoderDuplicateFrames.WithLabelValues(deviceID, streamType).Set(count)
	updateCache(deviceID, streamType, func(m *TranscoderProgress) { m.DuplicateFrames = count })
}

// SetTranscoderSpeed sets the processing speed for a session.
func SetTranscoderSpeed(deviceID, streamType string, speed float64) {
	transcoderSpeed.WithLabelValues(deviceID, streamType).Set(speed)
	updateCache(deviceID, streamType, func(m *TranscoderProgress) { m.Speed = speed })
}

// DeleteTranscoderProgress removes all progress metrics for a session.
func DeleteTranscoderProgress(deviceID, streamType string) {
	transcoderFPS.DeleteLabelValues(deviceID, streamType)
	transcoderDroppedFrames.DeleteLabelValues(deviceID, streamType)
	transcoderDuplicateFrames.DeleteLabelValues(deviceID, streamType)
	transcoderSpeed.DeleteLabelValues(deviceID, streamType)

	progressCacheMu.Lock()
	delete(progressCache, progressKey{deviceID, streamType})
	progressCacheMu.Unlock()
}

// GetTranscoderProgress returns current progress for a session, or nil.
func GetTranscoderProgress(deviceID, streamType string) *TranscoderProgress {
	progressCacheMu.RLock()
	defer progressCacheMu.RUnlock()
	if m, ok := progressCache[progressKey{deviceID, streamType}]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllTranscoderProgress returns progress for all running transcoders.
func GetAllTranscoderProgress() []TranscoderProgress {
	progressCacheMu.RLock()
	defer progressCacheMu.RUnlock()
	result := make([]TranscoderProgress, 0, len(progressCache))
	for _, m := range progressCache {
		result = append(result, *m)
	}
	return result
}

// TranscoderStarted increments the running transcoder gauge.
func TranscoderStarted() {
	transcoderActive.Inc()
}

// TranscoderExited records a process exit and decrements the running gauge.
func TranscoderExited(expected bool) {
	transcoderActive.Dec()
	transcoderExits.WithLabelValues(strconv.FormatBool(expected)).Inc()
}

// TranscoderProbe records one candidate probe.
func TranscoderProbe(executable string, ok bool) {
	result := "failed"
	if ok {
		result = "ok"
	}
	transcoderProbes.WithLabelValues(executable, result).Inc()
}

func updateCache(deviceID, streamType string, update func(*TranscoderProgress)) {
	progressCacheMu.Lock()
	defer progressCacheMu.Unlock()
	key := progressKey{deviceID, streamType}
	m, ok := progressCache[key]
	if !ok {
		m = &TranscoderProgress{DeviceID: deviceID, StreamType: streamType}
		progressCache[key] = m
	}
	update(m)
}
