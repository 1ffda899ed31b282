package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TranscriptionRequests counts transcription runs by outcome
	TranscriptionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_analyzer_transcriptions_total",
			Help: "Number of transcription runs by status",
		},
		[]string{"status"},
	)

	// TranscriptionDuration measures wall time of a full transcription run
	TranscriptionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "call_analyzer_transcription_duration_seconds",
			Help:    "Time spent transcribing one recording",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// ChannelSplits counts splitter outcomes: mono, split, partial or fallback
	ChannelSplits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_analyzer_channel_splits_total",
			Help: "Number of channel split attempts by outcome",
		},
		[]string{"outcome"},
	)

	// TranscribedSegments counts segments produced per speaker label
	TranscribedSegments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_analyzer_segments_total",
			Help: "Number of transcript segments by speaker label",
		},
		[]string{"speaker"},
	)

	// AnalysisRequests counts annotator calls by outcome
	AnalysisRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_analyzer_analyses_total",
			Help: "Number of sentiment analysis runs by status",
		},
		[]string{"status"},
	)

	// QueueDepth is the number of transcription jobs waiting for a worker
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "call_analyzer_queue_depth",
			Help: "Transcription jobs waiting in the queue",
		},
	)

	// OrphanedFilesRemoved counts leftover channel files deleted by the cleanup sweep
	OrphanedFilesRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "call_analyzer_orphaned_files_removed_total",
			Help: "Leftover temporary files removed by the cleanup scheduler",
		},
	)
)
