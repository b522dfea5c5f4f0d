// Package telemetry defines the feedback and engagement events captured for
// ranked content, the capture inputs accepted from page collaborators, and the
// ports the pipeline depends on.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates the three event payloads.
type Kind string

const (
	KindRating   Kind = "rating"
	KindFeedback Kind = "feedback"
	KindMetric   Kind = "metric"
)

// Kinds lists every event kind in storage order.
var Kinds = []Kind{KindRating, KindFeedback, KindMetric}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindRating, KindFeedback, KindMetric:
		return true
	}
	return false
}

// Rating is the helpfulness verdict a visitor gave an answer.
type Rating string

const (
	RatingHelpful    Rating = "helpful"
	RatingNotHelpful Rating = "not_helpful"
)

// Sentiment is derived from feedback text at ingestion.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// DeviceType buckets the visitor viewport.
type DeviceType string

const (
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceDesktop DeviceType = "desktop"
)

// Feedback categories.
const (
	CategoryAccuracy     = "accuracy"
	CategoryClarity      = "clarity"
	CategoryCompleteness = "completeness"
	CategoryRelevance    = "relevance"
	CategoryOther        = "other"
)

// Location is the optional coarse geography attached to a rating.
type Location struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
}

// RatingEvent records a helpful/not helpful vote on a question.
type RatingEvent struct {
	QuestionID   string     `json:"questionId" validate:"required"`
	QuestionText string     `json:"questionText"`
	Rating       Rating     `json:"rating" validate:"required,oneof=helpful not_helpful"`
	Timestamp    time.Time  `json:"timestamp" validate:"required"`
	SessionID    string     `json:"sessionId,omitempty"`
	UserAgent    string     `json:"userAgent,omitempty"`
	Referrer     string     `json:"referrer,omitempty"`
	ResponseTime *float64   `json:"responseTime,omitempty" validate:"omitempty,finite,gte=0"`
	DeviceType   DeviceType `json:"deviceType,omitempty" validate:"omitempty,oneof=mobile tablet desktop"`
	Location     *Location  `json:"location,omitempty"`
}

// FeedbackEvent records free-text feedback. WordCount and Sentiment are
// always derived at ingestion.
type FeedbackEvent struct {
	QuestionID             string    `json:"questionId" validate:"required"`
	Rating                 Rating    `json:"rating" validate:"required,oneof=helpful not_helpful"`
	Feedback               string    `json:"feedback" validate:"min=10,max=1000"`
	Category               string    `json:"category,omitempty" validate:"omitempty,oneof=accuracy clarity completeness relevance other"`
	Email                  string    `json:"email,omitempty" validate:"omitempty,email"`
	ImprovementSuggestions string    `json:"improvementSuggestions,omitempty" validate:"max=1000"`
	Language               string    `json:"language,omitempty"`
	WordCount              int       `json:"wordCount" validate:"gte=0"`
	Sentiment              Sentiment `json:"sentiment" validate:"required,oneof=positive neutral negative"`
	Timestamp              time.Time `json:"timestamp" validate:"required"`
	SessionID              string    `json:"sessionId,omitempty"`
}

// PerformanceMetric records how a visitor engaged with an answer before rating it.
type PerformanceMetric struct {
	QuestionID   string    `json:"questionId" validate:"required"`
	ViewDuration float64   `json:"viewDuration" validate:"finite,gte=0"`
	ScrollDepth  float64   `json:"scrollDepth" validate:"gte=0,lte=1"`
	ClickToRate  float64   `json:"clickToRate" validate:"finite,gte=0"`
	BounceRate   bool      `json:"bounceRate"`
	Timestamp    time.Time `json:"timestamp" validate:"required"`
	SessionID    string    `json:"sessionId,omitempty"`
}

// EventTime returns the ingestion timestamp.
func (e RatingEvent) EventTime() time.Time { return e.Timestamp }

// EventTime returns the ingestion timestamp.
func (e FeedbackEvent) EventTime() time.Time { return e.Timestamp }

// EventTime returns the ingestion timestamp.
func (e PerformanceMetric) EventTime() time.Time { return e.Timestamp }

// Timestamped is satisfied by every stored event.
type Timestamped interface {
	EventTime() time.Time
}

// RatingInput is what a caller may supply for a rating.
type RatingInput struct {
	QuestionID   string     `json:"questionId"`
	QuestionText string     `json:"questionText"`
	Rating       Rating     `json:"rating"`
	UserAgent    string     `json:"userAgent,omitempty"`
	Referrer     string     `json:"referrer,omitempty"`
	ResponseTime *float64   `json:"responseTime,omitempty"`
	DeviceType   DeviceType `json:"deviceType,omitempty"`
	Location     *Location  `json:"location,omitempty"`
}

// FeedbackInput is what a caller may supply for feedback.
type FeedbackInput struct {
	QuestionID             string `json:"questionId"`
	Rating                 Rating `json:"rating"`
	Feedback               string `json:"feedback"`
	Category               string `json:"category,omitempty"`
	Email                  string `json:"email,omitempty"`
	ImprovementSuggestions string `json:"improvementSuggestions,omitempty"`
	Language               string `json:"language,omitempty"`
}

// MetricInput is what a caller may supply for a performance metric.
type MetricInput struct {
	QuestionID   string  `json:"questionId"`
	ViewDuration float64 `json:"viewDuration"`
	ScrollDepth  float64 `json:"scrollDepth"`
	ClickToRate  float64 `json:"clickToRate"`
	BounceRate   bool    `json:"bounceRate"`
}

// NewRatingEvent stamps a rating input with ingestion-side fields.
func NewRatingEvent(in RatingInput, sessionID string, at time.Time) RatingEvent {
	return RatingEvent{
		QuestionID:   in.QuestionID,
		QuestionText: in.QuestionText,
		Rating:       in.Rating,
		Timestamp:    at,
		SessionID:    sessionID,
		UserAgent:    in.UserAgent,
		Referrer:     in.Referrer,
		ResponseTime: in.ResponseTime,
		DeviceType:   in.DeviceType,
		Location:     in.Location,
	}
}

// NewFeedbackEvent stamps a feedback input and derives word count and sentiment.
func NewFeedbackEvent(in FeedbackInput, sessionID string, at time.Time) FeedbackEvent {
	return FeedbackEvent{
		QuestionID:             in.QuestionID,
		Rating:                 in.Rating,
		Feedback:               in.Feedback,
		Category:               in.Category,
		Email:                  in.Email,
		ImprovementSuggestions: in.ImprovementSuggestions,
		Language:               in.Language,
		WordCount:              WordCount(in.Feedback),
		Sentiment:              AnalyzeSentiment(in.Feedback),
		Timestamp:              at,
		SessionID:              sessionID,
	}
}

// NewPerformanceMetric stamps a metric input with ingestion-side fields.
func NewPerformanceMetric(in MetricInput, sessionID string, at time.Time) PerformanceMetric {
	return PerformanceMetric{
		QuestionID:   in.QuestionID,
		ViewDuration: in.ViewDuration,
		ScrollDepth:  in.ScrollDepth,
		ClickToRate:  in.ClickToRate,
		BounceRate:   in.BounceRate,
		Timestamp:    at,
		SessionID:    sessionID,
	}
}

// Envelope is the tagged union handed to the dispatcher.
type Envelope struct {
	Kind   Kind
	UserID string
	Event  any
}

// MarshalJSON flattens the payload fields next to kind and userId.
func (e Envelope) MarshalJSON() ([]byte, error) {
	fields, err := e.Fields()
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// Fields returns the flattened payload as a generic map.
func (e Envelope) Fields() (map[string]any, error) {
	raw, err := json.Marshal(e.Event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", e.Kind, err)
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to flatten %s event: %w", e.Kind, err)
	}
	fields["kind"] = string(e.Kind)
	if e.UserID != "" {
		fields["userId"] = e.UserID
	}
	return fields, nil
}
