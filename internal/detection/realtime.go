package detection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/abhisek/foresight/internal/features"
	"github.com/abhisek/foresight/internal/learner"
	"github.com/abhisek/foresight/internal/metrics"
	"github.com/abhisek/foresight/internal/struggle"
)

// RealtimeConfig tunes the in-session check. Each signal has a MEDIUM and a
// HIGH threshold; readings below MEDIUM are ignored.
type RealtimeConfig struct {
	// LastN is how many of the most recent reviews are read.
	LastN int `yaml:"last_n" validate:"gte=3,lte=50"`
	// MinReviews is the fewest reviews a check needs to grade anything.
	MinReviews int `yaml:"min_reviews" validate:"gte=1,ltefield=LastN"`

	LapseRateMedium float64 `yaml:"lapse_rate_medium" validate:"gt=0,lte=1"`
	LapseRateHigh   float64 `yaml:"lapse_rate_high" validate:"gtefield=LapseRateMedium,lte=1"`

	ConsecutiveLapsesMedium int `yaml:"consecutive_lapses_medium" validate:"gte=1"`
	ConsecutiveLapsesHigh   int `yaml:"consecutive_lapses_high" validate:"gtefield=ConsecutiveLapsesMedium"`

	// Validator thresholds apply to the mean answer validation score; lower
	// is worse.
	ValidatorMedium float64 `yaml:"validator_medium" validate:"gt=0,lte=1"`
	ValidatorHigh   float64 `yaml:"validator_high" validate:"gt=0,ltefield=ValidatorMedium"`

	// Drop thresholds apply to the learner's baseline score minus the mean
	// validation score.
	DropMedium float64 `yaml:"drop_medium" validate:"gt=0,lte=1"`
	DropHigh   float64 `yaml:"drop_high" validate:"gtefield=DropMedium,lte=1"`

	// Slow thresholds apply to actual over expected completion time.
	SlowRatioMedium float64 `yaml:"slow_ratio_medium" validate:"gt=1"`
	SlowRatioHigh   float64 `yaml:"slow_ratio_high" validate:"gtefield=SlowRatioMedium"`

	// Interval and Burst throttle checks per session.
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
	Burst    int           `yaml:"burst" validate:"gte=1"`
	// Budget bounds a single check.
	Budget time.Duration `yaml:"budget" validate:"gt=0"`
	// LimiterIdle drops the throttle of a session not checked for this long.
	LimiterIdle time.Duration `yaml:"limiter_idle" validate:"gt=0"`
}

// DefaultRealtimeConfig returns the default in-session thresholds.
func DefaultRealtimeConfig() RealtimeConfig {
	return RealtimeConfig{
		LastN:                   10,
		MinReviews:              4,
		LapseRateMedium:         0.3,
		LapseRateHigh:           0.5,
		ConsecutiveLapsesMedium: 2,
		ConsecutiveLapsesHigh:   3,
		ValidatorMedium:         0.6,
		ValidatorHigh:           0.5,
		DropMedium:              0.15,
		DropHigh:                0.3,
		SlowRatioMedium:         1.5,
		SlowRatioHigh:           2.0,
		Interval:                2 * time.Minute,
		Burst:                   3,
		Budget:                  200 * time.Millisecond,
		LimiterIdle:             time.Hour,
	}
}

// Signal is one graded session reading.
type Signal struct {
	Name      string                 `json:"name"`
	Value     float64                `json:"value"`
	Severity  struggle.Severity      `json:"severity"`
	Indicator struggle.IndicatorType `json:"indicator"`
	Feature   features.Name          `json:"feature,omitempty"`
}

// Session signal names.
const (
	SignalLapseRate         = "lapse_rate"
	SignalConsecutiveLapses = "consecutive_lapses"
	SignalValidatorScore    = "validator_score"
	SignalPerformanceDrop   = "performance_drop"
	SignalSlowCompletion    = "slow_completion"
)

// SessionCheck is the result of a real-time check.
type SessionCheck struct {
	SessionID    string               `json:"session_id"`
	LearnerID    string               `json:"learner_id,omitempty"`
	ObjectiveID  string               `json:"objective_id,omitempty"`
	PredictionID string               `json:"prediction_id,omitempty"`
	Reviews      int                  `json:"reviews"`
	Throttled    bool                 `json:"throttled"`
	Signals      []Signal             `json:"signals,omitempty"`
	Indicators   []struggle.Indicator `json:"indicators,omitempty"`
	Alert        *struggle.Alert      `json:"alert,omitempty"`
	Warnings     []string             `json:"warnings,omitempty"`
	Elapsed      time.Duration        `json:"elapsed"`
}

// CheckSession grades the active session from session-scoped reads only.
// MEDIUM and HIGH readings become indicators attached to the learner's
// pending prediction for the objective; a HIGH reading notifies the learner
// before anything is persisted.
func (s *Service) CheckSession(ctx context.Context, sessionID string) (*SessionCheck, error) {
	timer := time.Now()
	now := s.now().UTC()
	res := &SessionCheck{SessionID: sessionID}

	if !s.allowSession(sessionID, now) {
		res.Throttled = true
		metrics.Runs.WithLabelValues("realtime", "throttled").Inc()
		return res, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Realtime.Budget)
	defer cancel()
	defer func() {
		res.Elapsed = time.Since(timer)
		metrics.RunDuration.WithLabelValues("realtime").Observe(res.Elapsed.Seconds())
	}()

	sess, err := s.d.Sessions.ActiveSession(ctx, sessionID, s.cfg.Realtime.LastN)
	if err != nil {
		metrics.Runs.WithLabelValues("realtime", "error").Inc()
		if errors.Is(err, learner.ErrNotFound) {
			return nil, &struggle.InsufficientContextError{Err: fmt.Errorf("session %s: %w", sessionID, err)}
		}
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	res.LearnerID = sess.LearnerID
	res.ObjectiveID = sessionObjective(sess)
	res.Reviews = len(sess.Reviews)
	log := s.log.WithFields(logrus.Fields{
		"session_id":   sessionID,
		"learner_id":   sess.LearnerID,
		"objective_id": res.ObjectiveID,
	})

	res.Signals = GradeSession(s.cfg.Realtime, sess)
	res.Indicators = sessionIndicators(res.Signals, sess, res.ObjectiveID, now)
	for i := range res.Indicators {
		res.Indicators[i].ID = s.newID()
	}
	if len(res.Indicators) == 0 {
		metrics.Runs.WithLabelValues("realtime", "ok").Inc()
		return res, nil
	}

	if struggle.MaxSeverity(res.Indicators) == struggle.SeverityHigh {
		a := s.sessionAlert(sess, res, now)
		if err := s.d.Notifier.Notify(ctx, a); err != nil {
			log.WithError(err).Warn("real-time alert delivery failed")
		} else {
			a.Notified = true
		}
		metrics.Alerts.WithLabelValues(string(a.Source), string(a.Severity)).Inc()
		res.Alert = &a
	}

	if res.ObjectiveID == "" {
		res.Warnings = append(res.Warnings, "session has no objective, indicators not persisted")
		metrics.Runs.WithLabelValues("realtime", "ok").Inc()
		return res, nil
	}
	if err := s.attachSessionIndicators(ctx, sess, res, now); err != nil {
		res.Warnings = append(res.Warnings, err.Error())
		log.WithError(err).Warn("session indicators not persisted")
	}
	if res.Alert != nil {
		res.Alert.PredictionID = res.PredictionID
		alert := *res.Alert
		if err := s.persist(ctx, func() error { return s.d.Alerts.Insert(ctx, alert) }); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("persist alert: %v", err))
			log.WithError(err).Warn("real-time alert not persisted")
		}
	}

	metrics.Runs.WithLabelValues("realtime", "ok").Inc()
	log.WithFields(logrus.Fields{
		"indicators": len(res.Indicators),
		"alerted":    res.Alert != nil,
	}).Debug("session checked")
	return res, nil
}

// attachSessionIndicators stores the indicators under the learner's pending
// prediction for the objective, opening one scored from the session when
// none exists.
func (s *Service) attachSessionIndicators(ctx context.Context, sess *learner.ActiveSession, res *SessionCheck, now time.Time) error {
	parent, err := s.d.Predictions.LatestPending(ctx, sess.LearnerID, res.ObjectiveID)
	if err != nil {
		return fmt.Errorf("find pending prediction: %w", err)
	}
	if parent != nil {
		for i := range res.Indicators {
			res.Indicators[i].PredictionID = parent.ID
		}
		res.PredictionID = parent.ID
		return s.persist(ctx, func() error { return s.d.Predictions.AddIndicators(ctx, res.Indicators) })
	}

	vec := sessionVector(sess)
	r := s.d.Registry.Active().Predict(vec)
	p := &struggle.Prediction{
		ID:           s.newID(),
		LearnerID:    sess.LearnerID,
		ObjectiveID:  res.ObjectiveID,
		AsOf:         struggle.AsOfDate(now),
		Probability:  r.Probability,
		Confidence:   r.Confidence,
		Status:       struggle.StatusPending,
		Features:     vec,
		Factors:      r.Factors,
		Model:        r.Model,
		ModelVersion: r.Version,
		Source:       struggle.SourceRealtime,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return s.persist(ctx, func() error {
		saved, err := s.d.Predictions.Save(ctx, p, res.Indicators, nil)
		if err != nil {
			return err
		}
		if saved.Kept {
			// Today's unit already resolved; the session outlived it.
			return fmt.Errorf("prediction for %s already resolved today", res.ObjectiveID)
		}
		res.PredictionID = saved.Prediction.ID
		return nil
	})
}

func (s *Service) sessionAlert(sess *learner.ActiveSession, res *SessionCheck, now time.Time) struggle.Alert {
	top := res.Indicators[0]
	return struggle.Alert{
		ID:          s.newID(),
		LearnerID:   sess.LearnerID,
		ObjectiveID: res.ObjectiveID,
		SessionID:   sess.SessionID,
		Source:      struggle.AlertRealtime,
		Severity:    struggle.SeverityHigh,
		Urgency:     1,
		Message:     "Struggling in this session: " + top.Description,
		CreatedAt:   now,
	}
}

// allowSession applies the per-session throttle and forgets idle sessions.
func (s *Service) allowSession(sessionID string, now time.Time) bool {
	cfg := s.cfg.Realtime
	if cfg.Interval <= 0 {
		return true
	}
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	for id, l := range s.limiters {
		if now.Sub(l.lastSeen) > cfg.LimiterIdle {
			delete(s.limiters, id)
		}
	}
	l, ok := s.limiters[sessionID]
	if !ok {
		l = &sessionLimiter{lim: rate.NewLimiter(rate.Every(cfg.Interval), cfg.Burst)}
		s.limiters[sessionID] = l
	}
	l.lastSeen = now
	return l.lim.AllowN(now, 1)
}

// GradeSession turns the session's recent reviews into graded signals,
// keeping only MEDIUM and HIGH readings.
func GradeSession(cfg RealtimeConfig, sess *learner.ActiveSession) []Signal {
	reviews := sess.Reviews
	if cfg.LastN > 0 && len(reviews) > cfg.LastN {
		reviews = reviews[len(reviews)-cfg.LastN:]
	}
	if len(reviews) < cfg.MinReviews {
		return nil
	}

	var out []Signal
	add := func(name string, value float64, sev struggle.Severity, typ struggle.IndicatorType, f features.Name) {
		if sev == "" {
			return
		}
		out = append(out, Signal{Name: name, Value: value, Severity: sev, Indicator: typ, Feature: f})
	}

	var lapses, trailing int
	for _, r := range reviews {
		if r.Rating.IsLapse() {
			lapses++
			trailing++
		} else {
			trailing = 0
		}
	}
	lapseRate := float64(lapses) / float64(len(reviews))
	add(SignalLapseRate, lapseRate, above(lapseRate, cfg.LapseRateMedium, cfg.LapseRateHigh),
		struggle.IndicatorLowRetention, features.ReviewLapseRate)
	add(SignalConsecutiveLapses, float64(trailing),
		above(float64(trailing), float64(cfg.ConsecutiveLapsesMedium), float64(cfg.ConsecutiveLapsesHigh)),
		struggle.IndicatorLowRetention, features.ReviewLapseRate)

	if score, ok := meanValidator(reviews); ok {
		add(SignalValidatorScore, score, below(score, cfg.ValidatorMedium, cfg.ValidatorHigh),
			struggle.IndicatorLowRetention, features.RecentSessionScore)
		if sess.BaselineScore != nil {
			drop := *sess.BaselineScore - score
			add(SignalPerformanceDrop, drop, above(drop, cfg.DropMedium, cfg.DropHigh),
				struggle.IndicatorComplexityMismatch, features.DifficultyMismatch)
		}
	}

	if ratio, ok := slowRatio(reviews); ok {
		add(SignalSlowCompletion, ratio, above(ratio, cfg.SlowRatioMedium, cfg.SlowRatioHigh),
			struggle.IndicatorCognitiveOverload, features.CognitiveLoad)
	}
	return out
}

func above(v, medium, high float64) struggle.Severity {
	switch {
	case v >= high:
		return struggle.SeverityHigh
	case v >= medium:
		return struggle.SeverityMedium
	}
	return ""
}

func below(v, medium, high float64) struggle.Severity {
	switch {
	case v < high:
		return struggle.SeverityHigh
	case v < medium:
		return struggle.SeverityMedium
	}
	return ""
}

func meanValidator(reviews []learner.ReviewEvent) (float64, bool) {
	var sum float64
	var n int
	for _, r := range reviews {
		if r.ValidatorScore != nil {
			sum += *r.ValidatorScore
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func slowRatio(reviews []learner.ReviewEvent) (float64, bool) {
	var actual, expected time.Duration
	for _, r := range reviews {
		if r.ExpectedTime <= 0 {
			continue
		}
		actual += r.Duration
		expected += r.ExpectedTime
	}
	if expected == 0 {
		return 0, false
	}
	return float64(actual) / float64(expected), true
}

// sessionIndicators folds signals into one indicator per type at the
// highest severity seen, most severe first.
func sessionIndicators(signals []Signal, sess *learner.ActiveSession, objectiveID string, now time.Time) []struggle.Indicator {
	byType := make(map[struggle.IndicatorType]*struggle.Indicator)
	var order []struggle.IndicatorType
	for _, sig := range signals {
		cur, ok := byType[sig.Indicator]
		if !ok {
			cur = &struggle.Indicator{
				LearnerID:   sess.LearnerID,
				ObjectiveID: objectiveID,
				SessionID:   sess.SessionID,
				Type:        sig.Indicator,
				CreatedAt:   now,
			}
			byType[sig.Indicator] = cur
			order = append(order, sig.Indicator)
		}
		if sig.Severity.Rank() > cur.Severity.Rank() {
			cur.Severity = sig.Severity
			cur.Feature = sig.Feature
			cur.Value = features.Clamp01(sig.Value)
		}
		if cur.Description != "" {
			cur.Description += "; "
		}
		cur.Description += describeSignal(sig)
	}

	out := make([]struggle.Indicator, 0, len(order))
	for _, t := range order {
		out = append(out, *byType[t])
	}
	struggle.SortIndicators(out)
	return out
}

func describeSignal(sig Signal) string {
	switch sig.Name {
	case SignalLapseRate:
		return fmt.Sprintf("%.0f%% of recent reviews lapsed", sig.Value*100)
	case SignalConsecutiveLapses:
		return fmt.Sprintf("%d lapses in a row", int(sig.Value))
	case SignalValidatorScore:
		return fmt.Sprintf("answers validate at %.0f%%", sig.Value*100)
	case SignalPerformanceDrop:
		return fmt.Sprintf("scoring %.0f points below usual", sig.Value*100)
	case SignalSlowCompletion:
		return fmt.Sprintf("taking %.1fx the expected time", sig.Value)
	}
	return strings.ReplaceAll(sig.Name, "_", " ")
}

// sessionObjective is the session's objective, else the latest reviewed one.
func sessionObjective(sess *learner.ActiveSession) string {
	if sess.ObjectiveID != "" {
		return sess.ObjectiveID
	}
	for i := len(sess.Reviews) - 1; i >= 0; i-- {
		if id := sess.Reviews[i].ObjectiveID; id != "" {
			return id
		}
	}
	return ""
}

// sessionVector is the feature vector observable from the session alone.
func sessionVector(sess *learner.ActiveSession) features.Vector {
	v := features.NewVector()
	if len(sess.Reviews) == 0 {
		return v
	}
	var lapses int
	for _, r := range sess.Reviews {
		if r.Rating.IsLapse() {
			lapses++
		}
	}
	v.Set(features.ReviewLapseRate, float64(lapses)/float64(len(sess.Reviews)))
	if score, ok := meanValidator(sess.Reviews); ok {
		v.Set(features.RecentSessionScore, score)
	}
	if ratio, ok := slowRatio(sess.Reviews); ok {
		// 1x expected is no load; 2x or more is full load.
		v.Set(features.CognitiveLoad, features.Clamp01(ratio-1))
	}
	return v
}
