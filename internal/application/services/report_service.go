package services

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/analytics"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/telemetry"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/persistence/eventlog"
	"github.com/montanaflynn/stats"
)

const (
	performanceListLimit = 5
	engagementListLimit  = 10
	unknownDimension     = "unknown"
)

// ReportService computes analytics reports from a snapshot of the event logs.
// It holds no state between calls.
type ReportService struct {
	cfg    ReportConfig
	logger *logging.ChanneledLogger
}

// NewReportService creates a report service.
func NewReportService(cfg ReportConfig, logger *logging.ChanneledLogger) *ReportService {
	defaults := DefaultReportConfig()
	if cfg.ConfidenceSmoothing <= 0 {
		cfg.ConfidenceSmoothing = defaults.ConfidenceSmoothing
	}
	if cfg.TopQuestionLimit <= 0 {
		cfg.TopQuestionLimit = defaults.TopQuestionLimit
	}
	return &ReportService{cfg: cfg, logger: logger}
}

// Confidence returns n/(n+k): zero without samples, strictly increasing in n
// and always below one.
func Confidence(n int, k float64) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n) / (float64(n) + k)
}

// Generate builds the report for the events in snap, restricted to dr when it
// is non-nil. A range ending before it starts yields an empty report.
func (s *ReportService) Generate(snap eventlog.Snapshot, dr *analytics.DateRange) *analytics.AnalyticsReport {
	start := time.Now()
	if dr != nil {
		if err := dr.Validate(); err != nil {
			s.logger.Report().Warn("Returning empty report for invalid date range", "error", err)
			snap = eventlog.Snapshot{}
		} else {
			snap = filterSnapshot(snap, *dr)
		}
	}

	questions := aggregateByQuestion(snap.Ratings)
	report := &analytics.AnalyticsReport{
		Overview:      s.overview(snap, questions),
		Trends:        trends(snap),
		Insights:      s.insights(snap, questions),
		Performance:   performance(snap),
		DateRange:     dr,
		LatestEventAt: latestEvent(snap),
	}

	s.logger.Report().Debug("Report generated",
		"ratings", len(snap.Ratings),
		"feedback", len(snap.Feedback),
		"metrics", len(snap.Metrics),
		"duration", time.Since(start))
	return report
}

func filterSnapshot(snap eventlog.Snapshot, dr analytics.DateRange) eventlog.Snapshot {
	return eventlog.Snapshot{
		Ratings:  filterByRange(snap.Ratings, dr),
		Feedback: filterByRange(snap.Feedback, dr),
		Metrics:  filterByRange(snap.Metrics, dr),
	}
}

func filterByRange[T telemetry.Timestamped](events []T, dr analytics.DateRange) []T {
	out := make([]T, 0, len(events))
	for _, e := range events {
		if dr.Contains(e.EventTime()) {
			out = append(out, e)
		}
	}
	return out
}

func latestEvent(snap eventlog.Snapshot) *time.Time {
	var latest time.Time
	visit := func(t time.Time) {
		if t.After(latest) {
			latest = t
		}
	}
	for _, e := range snap.Ratings {
		visit(e.Timestamp)
	}
	for _, e := range snap.Feedback {
		visit(e.Timestamp)
	}
	for _, e := range snap.Metrics {
		visit(e.Timestamp)
	}
	if latest.IsZero() {
		return nil
	}
	return &latest
}

// questionStats accumulates ratings of one question.
type questionStats struct {
	id            string
	text          string
	helpful       int
	notHelpful    int
	responseTimes []float64
}

func (q *questionStats) total() int { return q.helpful + q.notHelpful }

func (q *questionStats) helpfulPercentage() float64 {
	return percentage(q.helpful, q.total())
}

// aggregateByQuestion groups ratings by question, ordered by question id.
func aggregateByQuestion(ratings []telemetry.RatingEvent) []*questionStats {
	byID := make(map[string]*questionStats)
	for _, r := range ratings {
		q, ok := byID[r.QuestionID]
		if !ok {
			q = &questionStats{id: r.QuestionID}
			byID[r.QuestionID] = q
		}
		if q.text == "" {
			q.text = r.QuestionText
		}
		if r.Rating == telemetry.RatingHelpful {
			q.helpful++
		} else {
			q.notHelpful++
		}
		if r.ResponseTime != nil {
			q.responseTimes = append(q.responseTimes, *r.ResponseTime)
		}
	}

	out := make([]*questionStats, 0, len(byID))
	for _, q := range byID {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (s *ReportService) overview(snap eventlog.Snapshot, questions []*questionStats) analytics.Overview {
	helpful := 0
	responseTimes := make([]float64, 0, len(snap.Ratings))
	for _, r := range snap.Ratings {
		if r.Rating == telemetry.RatingHelpful {
			helpful++
		}
		if r.ResponseTime != nil {
			responseTimes = append(responseTimes, *r.ResponseTime)
		}
	}

	top := make([]analytics.QuestionStats, 0, len(questions))
	for _, q := range questions {
		top = append(top, analytics.QuestionStats{
			QuestionID:        q.id,
			QuestionText:      q.text,
			HelpfulPercentage: round2(q.helpfulPercentage()),
			TotalRatings:      q.total(),
			Confidence:        round2(Confidence(q.total(), s.cfg.ConfidenceSmoothing)),
		})
	}
	sort.SliceStable(top, func(i, j int) bool {
		if top[i].HelpfulPercentage != top[j].HelpfulPercentage {
			return top[i].HelpfulPercentage > top[j].HelpfulPercentage
		}
		if top[i].TotalRatings != top[j].TotalRatings {
			// Confidence is increasing in the sample size.
			return top[i].TotalRatings > top[j].TotalRatings
		}
		return top[i].QuestionID < top[j].QuestionID
	})
	if len(top) > s.cfg.TopQuestionLimit {
		top = top[:s.cfg.TopQuestionLimit]
	}

	return analytics.Overview{
		TotalRatings:           len(snap.Ratings),
		TotalFeedback:          len(snap.Feedback),
		SatisfactionRate:       roundedPercentage(helpful, len(snap.Ratings)),
		ResponseRate:           roundedPercentage(len(snap.Feedback), len(snap.Ratings)),
		AverageResponseTime:    round2(mean(responseTimes)),
		TopPerformingQuestions: top,
	}
}

func trends(snap eventlog.Snapshot) analytics.Trends {
	daily := map[string]*analytics.DailyBucket{}
	weekly := map[string]*weekAccumulator{}
	monthly := map[string]*analytics.MonthlyBucket{}

	for _, r := range snap.Ratings {
		t := r.Timestamp.UTC()
		day := t.Format("2006-01-02")
		d, ok := daily[day]
		if !ok {
			d = &analytics.DailyBucket{Date: day}
			daily[day] = d
		}

		week := weekStart(t)
		w, ok := weekly[week]
		if !ok {
			w = &weekAccumulator{}
			weekly[week] = w
		}
		w.count++
		if r.ResponseTime != nil {
			w.responseTimes = append(w.responseTimes, *r.ResponseTime)
		}

		m := monthBucket(monthly, t)
		m.TotalRatings++

		if r.Rating == telemetry.RatingHelpful {
			d.Helpful++
			w.helpful++
			m.Helpful++
		} else {
			d.NotHelpful++
			w.notHelpful++
			m.NotHelpful++
		}
	}
	for _, f := range snap.Feedback {
		monthBucket(monthly, f.Timestamp.UTC()).FeedbackCount++
	}

	out := analytics.Trends{
		DailyRatings:  make([]analytics.DailyBucket, 0, len(daily)),
		WeeklyTrends:  make([]analytics.WeeklyBucket, 0, len(weekly)),
		MonthlyGrowth: make([]analytics.MonthlyBucket, 0, len(monthly)),
	}
	for _, key := range sortedKeys(daily) {
		out.DailyRatings = append(out.DailyRatings, *daily[key])
	}
	for _, key := range sortedKeys(weekly) {
		w := weekly[key]
		out.WeeklyTrends = append(out.WeeklyTrends, analytics.WeeklyBucket{
			Week:         key,
			Helpful:      w.helpful,
			NotHelpful:   w.notHelpful,
			Satisfaction: round2(percentage(w.helpful, w.count)),
			Engagement:   round2(w.engagement()),
		})
	}
	for _, key := range sortedKeys(monthly) {
		out.MonthlyGrowth = append(out.MonthlyGrowth, *monthly[key])
	}
	return out
}

type weekAccumulator struct {
	helpful       int
	notHelpful    int
	count         int
	responseTimes []float64
}

// engagement rewards fast answers and rating volume.
func (w *weekAccumulator) engagement() float64 {
	return math.Max(0, 100-mean(w.responseTimes)/1000+float64(w.count)*2)
}

// weekStart returns the Sunday that starts t's week, as a date.
func weekStart(t time.Time) string {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -int(day.Weekday())).Format("2006-01-02")
}

func monthBucket(buckets map[string]*analytics.MonthlyBucket, t time.Time) *analytics.MonthlyBucket {
	key := t.Format("2006-01")
	b, ok := buckets[key]
	if !ok {
		b = &analytics.MonthlyBucket{Month: key}
		buckets[key] = b
	}
	return b
}

func (s *ReportService) insights(snap eventlog.Snapshot, questions []*questionStats) analytics.Insights {
	feedbackByQuestion := make(map[string][]telemetry.FeedbackEvent)
	for _, f := range snap.Feedback {
		feedbackByQuestion[f.QuestionID] = append(feedbackByQuestion[f.QuestionID], f)
	}

	problematic := make([]analytics.ProblematicQuestion, 0)
	for _, q := range questions {
		pct := q.helpfulPercentage()
		if pct >= s.cfg.ProblematicThreshold || q.total() < s.cfg.ProblematicMinSamples {
			continue
		}
		issues := identifyIssues(feedbackByQuestion[q.id])
		problematic = append(problematic, analytics.ProblematicQuestion{
			QuestionID:        q.id,
			QuestionText:      q.text,
			HelpfulPercentage: round2(pct),
			TotalRatings:      q.total(),
			Issues:            issues,
			SuggestedActions:  suggestedActions(pct, issues),
			Priority:          priority(pct, q.total()),
		})
	}
	sort.SliceStable(problematic, func(i, j int) bool {
		a, b := problematic[i], problematic[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		if a.HelpfulPercentage != b.HelpfulPercentage {
			return a.HelpfulPercentage < b.HelpfulPercentage
		}
		return a.QuestionID < b.QuestionID
	})

	return analytics.Insights{
		ProblematicQuestions: problematic,
		FeedbackCategories:   feedbackCategories(snap.Feedback),
		UserBehavior:         userBehavior(snap),
	}
}

// identifyIssues names the most reported feedback category, if any.
func identifyIssues(feedback []telemetry.FeedbackEvent) []string {
	counts := map[string]int{}
	for _, f := range feedback {
		if f.Category != "" {
			counts[f.Category]++
		}
	}
	if len(counts) == 0 {
		return []string{}
	}

	top := ""
	for _, category := range sortedKeys(counts) {
		if top == "" || counts[category] > counts[top] {
			top = category
		}
	}
	return []string{fmt.Sprintf("Primary issue: %s (%d reports)", top, counts[top])}
}

func suggestedActions(helpfulPercentage float64, issues []string) []string {
	actions := []string{}
	switch {
	case helpfulPercentage < 40:
		actions = append(actions, "Consider rewriting this answer completely")
	case helpfulPercentage < 60:
		actions = append(actions, "Review and improve answer clarity")
	}

	for _, issue := range issues {
		switch {
		case strings.Contains(issue, telemetry.CategoryAccuracy):
			actions = append(actions, "Verify factual accuracy and update information")
		case strings.Contains(issue, telemetry.CategoryClarity):
			actions = append(actions, "Simplify language and add examples")
		case strings.Contains(issue, telemetry.CategoryCompleteness):
			actions = append(actions, "Add missing information or related details")
		case strings.Contains(issue, telemetry.CategoryRelevance):
			actions = append(actions, "Check that the answer addresses the question asked")
		}
	}

	if len(actions) == 0 {
		actions = append(actions, "Monitor new feedback and refine the answer")
	}
	return actions
}

func priority(helpfulPercentage float64, total int) analytics.Priority {
	switch {
	case helpfulPercentage < 40 || total > 20:
		return analytics.PriorityHigh
	case helpfulPercentage < 60 || total > 10:
		return analytics.PriorityMedium
	}
	return analytics.PriorityLow
}

func feedbackCategories(feedback []telemetry.FeedbackEvent) map[string]analytics.CategoryStats {
	wordCounts := map[string][]float64{}
	sentiments := map[string][]float64{}
	for _, f := range feedback {
		if f.Category == "" {
			continue
		}
		wordCounts[f.Category] = append(wordCounts[f.Category], float64(f.WordCount))
		sentiments[f.Category] = append(sentiments[f.Category], telemetry.SentimentScore(f.Sentiment))
	}

	out := make(map[string]analytics.CategoryStats, len(wordCounts))
	for category, counts := range wordCounts {
		out[category] = analytics.CategoryStats{
			Count:            len(counts),
			AverageWordCount: round2(mean(counts)),
			AverageSentiment: round2(mean(sentiments[category])),
		}
	}
	return out
}

func userBehavior(snap eventlog.Snapshot) analytics.UserBehavior {
	clickToRate := make([]float64, 0, len(snap.Metrics))
	for _, m := range snap.Metrics {
		clickToRate = append(clickToRate, m.ClickToRate)
	}

	devices := map[string]int{}
	geography := map[string]int{}
	hours := make([]analytics.HourEngagement, 24)
	for h := range hours {
		hours[h].Hour = h
	}
	for _, r := range snap.Ratings {
		device := string(r.DeviceType)
		if device == "" {
			device = unknownDimension
		}
		devices[device]++

		country := unknownDimension
		if r.Location != nil && r.Location.Country != "" {
			country = r.Location.Country
		}
		geography[country]++

		hours[r.Timestamp.UTC().Hour()].Engagement++
	}

	return analytics.UserBehavior{
		AverageTimeToRate:      round2(mean(clickToRate)),
		DeviceBreakdown:        devices,
		GeographicDistribution: geography,
		PeakEngagementHours:    hours,
	}
}

func performance(snap eventlog.Snapshot) analytics.Performance {
	timings := make([]analytics.QuestionTiming, 0)
	for _, q := range aggregateByQuestion(snap.Ratings) {
		if len(q.responseTimes) == 0 {
			continue
		}
		timings = append(timings, analytics.QuestionTiming{
			QuestionID:      q.id,
			AvgResponseTime: round2(mean(q.responseTimes)),
		})
	}

	fastest := append([]analytics.QuestionTiming(nil), timings...)
	sort.SliceStable(fastest, func(i, j int) bool {
		return fastest[i].AvgResponseTime < fastest[j].AvgResponseTime
	})
	slowest := append([]analytics.QuestionTiming(nil), timings...)
	sort.SliceStable(slowest, func(i, j int) bool {
		return slowest[i].AvgResponseTime > slowest[j].AvgResponseTime
	})

	return analytics.Performance{
		FastestQuestions:        limit(fastest, performanceListLimit),
		SlowestQuestions:        limit(slowest, performanceListLimit),
		HighEngagementQuestions: highEngagement(snap.Metrics),
		ConversionRates: analytics.ConversionRates{
			RatingToFeedback: round2(percentage(len(snap.Feedback), len(snap.Ratings))),
			ViewToRating:     round2(percentage(len(snap.Ratings), len(snap.Metrics))),
			FeedbackQuality:  round2(feedbackQuality(snap.Feedback)),
		},
	}
}

// EngagementScore rates one metric out of 100: up to 40 for viewing 30s or
// more, up to 30 for scrolling to the end, up to 30 for rating quickly.
func EngagementScore(m telemetry.PerformanceMetric) float64 {
	view := math.Min(m.ViewDuration/30000, 1) * 40
	scroll := m.ScrollDepth * 30
	speed := math.Max(0, 30-m.ClickToRate/1000)
	return view + scroll + speed
}

func highEngagement(metrics []telemetry.PerformanceMetric) []analytics.QuestionEngagement {
	scores := map[string][]float64{}
	for _, m := range metrics {
		scores[m.QuestionID] = append(scores[m.QuestionID], EngagementScore(m))
	}

	out := make([]analytics.QuestionEngagement, 0, len(scores))
	for _, id := range sortedKeys(scores) {
		out = append(out, analytics.QuestionEngagement{
			QuestionID:      id,
			EngagementScore: round2(mean(scores[id])),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EngagementScore > out[j].EngagementScore
	})
	return limit(out, engagementListLimit)
}

// feedbackQuality averages a 0-100 score per feedback: 40 for 10-500 words
// (20 for 5 or more), 30 for a specific category, 30 for a non-negative tone.
func feedbackQuality(feedback []telemetry.FeedbackEvent) float64 {
	scores := make([]float64, 0, len(feedback))
	for _, f := range feedback {
		score := 0.0
		switch {
		case f.WordCount >= 10 && f.WordCount <= 500:
			score += 40
		case f.WordCount >= 5:
			score += 20
		}
		if f.Category != "" && f.Category != telemetry.CategoryOther {
			score += 30
		}
		if f.Sentiment != telemetry.SentimentNegative {
			score += 30
		}
		scores = append(scores, math.Min(score, 100))
	}
	return mean(scores)
}

// mean returns the arithmetic mean, or zero for no input.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m, err := stats.Mean(values)
	if err != nil {
		return 0
	}
	return m
}

func round2(v float64) float64 {
	r, err := stats.Round(v, 2)
	if err != nil {
		return v
	}
	return r
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func roundedPercentage(part, total int) int {
	return int(math.Round(percentage(part, total)))
}

func limit[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
