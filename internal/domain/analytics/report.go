// Package analytics defines the report computed from the local event logs.
package analytics

import "time"

// AnalyticsReport is recomputed on every request and never persisted. It
// depends only on the events it covers, so identical inputs give identical
// reports.
type AnalyticsReport struct {
	Overview    Overview    `json:"overview"`
	Trends      Trends      `json:"trends"`
	Insights    Insights    `json:"insights"`
	Performance Performance `json:"performance"`
	DateRange   *DateRange  `json:"dateRange,omitempty"`

	// LatestEventAt is the newest timestamp among the covered events.
	LatestEventAt *time.Time `json:"latestEventAt,omitempty"`
}

type Overview struct {
	TotalRatings           int             `json:"totalRatings"`
	TotalFeedback          int             `json:"totalFeedback"`
	SatisfactionRate       int             `json:"satisfactionRate"`
	ResponseRate           int             `json:"responseRate"`
	AverageResponseTime    float64         `json:"averageResponseTime"`
	TopPerformingQuestions []QuestionStats `json:"topPerformingQuestions"`
}

// QuestionStats summarises the ratings of one question.
type QuestionStats struct {
	QuestionID        string  `json:"questionId"`
	QuestionText      string  `json:"questionText"`
	HelpfulPercentage float64 `json:"helpfulPercentage"`
	TotalRatings      int     `json:"totalRatings"`
	Confidence        float64 `json:"confidence"`
}

type Trends struct {
	DailyRatings  []DailyBucket   `json:"dailyRatings"`
	WeeklyTrends  []WeeklyBucket  `json:"weeklyTrends"`
	MonthlyGrowth []MonthlyBucket `json:"monthlyGrowth"`
}

type DailyBucket struct {
	Date       string `json:"date"`
	Helpful    int    `json:"helpful"`
	NotHelpful int    `json:"notHelpful"`
}

type WeeklyBucket struct {
	Week         string  `json:"week"`
	Helpful      int     `json:"helpful"`
	NotHelpful   int     `json:"notHelpful"`
	Satisfaction float64 `json:"satisfaction"`
	Engagement   float64 `json:"engagement"`
}

type MonthlyBucket struct {
	Month         string `json:"month"`
	TotalRatings  int    `json:"totalRatings"`
	FeedbackCount int    `json:"feedbackCount"`
	Helpful       int    `json:"helpful"`
	NotHelpful    int    `json:"notHelpful"`
}

type Insights struct {
	ProblematicQuestions []ProblematicQuestion     `json:"problematicQuestions"`
	FeedbackCategories   map[string]CategoryStats `json:"feedbackCategories"`
	UserBehavior         UserBehavior             `json:"userBehavior"`
}

// Priority ranks problematic questions.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities, higher first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	default:
		return 1
	}
}

type ProblematicQuestion struct {
	QuestionID        string   `json:"questionId"`
	QuestionText      string   `json:"questionText"`
	HelpfulPercentage float64  `json:"helpfulPercentage"`
	TotalRatings      int      `json:"totalRatings"`
	Issues            []string `json:"issues"`
	SuggestedActions  []string `json:"suggestedActions"`
	Priority          Priority `json:"priority"`
}

type CategoryStats struct {
	Count            int     `json:"count"`
	AverageWordCount float64 `json:"averageWordCount"`
	AverageSentiment float64 `json:"averageSentiment"`
}

type UserBehavior struct {
	AverageTimeToRate      float64          `json:"averageTimeToRate"`
	DeviceBreakdown        map[string]int   `json:"deviceBreakdown"`
	GeographicDistribution map[string]int   `json:"geographicDistribution"`
	PeakEngagementHours    []HourEngagement `json:"peakEngagementHours"`
}

type HourEngagement struct {
	Hour       int `json:"hour"`
	Engagement int `json:"engagement"`
}

type Performance struct {
	FastestQuestions        []QuestionTiming     `json:"fastestQuestions"`
	SlowestQuestions        []QuestionTiming     `json:"slowestQuestions"`
	HighEngagementQuestions []QuestionEngagement `json:"highEngagementQuestions"`
	ConversionRates         ConversionRates      `json:"conversionRates"`
}

type QuestionTiming struct {
	QuestionID      string  `json:"questionId"`
	AvgResponseTime float64 `json:"avgResponseTime"`
}

type QuestionEngagement struct {
	QuestionID      string  `json:"questionId"`
	EngagementScore float64 `json:"engagementScore"`
}

type ConversionRates struct {
	RatingToFeedback float64 `json:"ratingToFeedback"`
	ViewToRating     float64 `json:"viewToRating"`
	FeedbackQuality  float64 `json:"feedbackQuality"`
}
