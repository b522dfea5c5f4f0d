package services

import (
	"time"

	"github.com/AtRiskMedia/tractstack-telemetry/pkg/config"
)

// ReportConfig tunes the report engine.
type ReportConfig struct {
	ProblematicThreshold  float64 // helpful percentage below which a question is flagged
	ProblematicMinSamples int     // ratings required before a question can be flagged
	ConfidenceSmoothing   float64 // k in n/(n+k)
	TopQuestionLimit      int
}

// TelemetryConfig holds every setting of one telemetry pipeline.
type TelemetryConfig struct {
	Namespace       string
	AnalyticsDomain string
	EnableTracking  bool
	ConsentRequired bool
	LogCapacity     int

	BatchSize            int
	FlushInterval        time.Duration
	CollectorTimeout     time.Duration
	MaxDispatchAttempts  int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	Report ReportConfig
}

// DefaultTelemetryConfig returns the built-in defaults, independent of the
// environment.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Namespace:            "faq",
		AnalyticsDomain:      "faq",
		EnableTracking:       true,
		ConsentRequired:      true,
		LogCapacity:          100,
		BatchSize:            10,
		FlushInterval:        30 * time.Second,
		CollectorTimeout:     10 * time.Second,
		MaxDispatchAttempts:  10,
		RetryInitialInterval: 5 * time.Second,
		RetryMaxInterval:     5 * time.Minute,
		Report:               DefaultReportConfig(),
	}
}

// DefaultReportConfig returns the built-in report defaults.
func DefaultReportConfig() ReportConfig {
	return ReportConfig{
		ProblematicThreshold:  70,
		ProblematicMinSamples: 5,
		ConfidenceSmoothing:   5,
		TopQuestionLimit:      10,
	}
}

// NewTelemetryConfig snapshots the environment-derived settings of pkg/config.
func NewTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Namespace:            config.Namespace,
		AnalyticsDomain:      config.AnalyticsDomain,
		EnableTracking:       config.EnableTracking,
		ConsentRequired:      config.ConsentRequired,
		LogCapacity:          config.LogCapacity,
		BatchSize:            config.BatchSize,
		FlushInterval:        config.FlushInterval,
		CollectorTimeout:     config.CollectorTimeout,
		MaxDispatchAttempts:  config.MaxDispatchAttempts,
		RetryInitialInterval: config.RetryInitialInterval,
		RetryMaxInterval:     config.RetryMaxInterval,
		Report: ReportConfig{
			ProblematicThreshold:  config.ProblematicThreshold,
			ProblematicMinSamples: config.ProblematicMinSamples,
			ConfidenceSmoothing:   config.ConfidenceSmoothing,
			TopQuestionLimit:      config.TopQuestionLimit,
		},
	}
}
