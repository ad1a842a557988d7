package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/foresight/internal/curriculum"
	"github.com/abhisek/foresight/internal/learner"
	"github.com/abhisek/foresight/internal/plan"
)

// Learning is the SQLite implementation of the learner, curriculum and
// session collaborators the detection pipeline reads.
type Learning struct {
	s *Store
}

var (
	_ learner.ProfileStore     = (*Learning)(nil)
	_ learner.PerformanceStore = (*Learning)(nil)
	_ learner.BehaviorStore    = (*Learning)(nil)
	_ learner.CalendarStore    = (*Learning)(nil)
	_ learner.SessionStore     = (*Learning)(nil)
	_ curriculum.Graph         = (*Learning)(nil)
)

var learnerCols = []string{
	"id", "name", "preferred_formats", "preferred_hours", "decay_rate", "ability",
	"session_minutes", "daily_capacity_minutes", "created_at", "updated_at",
}

var objectiveCols = []string{"id", "title", "topic", "difficulty", "format", "estimated_minutes", "due_date"}

// Learner is a profile plus the planning capacity stored with it.
type Learner struct {
	learner.Profile
	DailyCapacityMinutes int `json:"daily_capacity_minutes"`
}

// Learners returns every learner id in order.
func (l *Learning) Learners(ctx context.Context) ([]string, error) {
	rows, err := queryQ(ctx, l.s.db, sq().Select("id").From(table(tableLearners)).OrderBy("id"))
	if err != nil {
		return nil, fmt.Errorf("list learners: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpsertLearner creates or replaces a learner.
func (l *Learning) UpsertLearner(ctx context.Context, lr Learner) error {
	now := l.s.now().UTC()
	if lr.CreatedAt.IsZero() {
		lr.CreatedAt = now
	}
	formats, err := marshalJSON(lr.PreferredFormats)
	if err != nil {
		return err
	}
	hours, err := marshalJSON(lr.PreferredHours)
	if err != nil {
		return err
	}
	_, err = execQ(ctx, l.s.db, sq().Insert(tableLearners).
		Columns(learnerCols...).
		Values(lr.LearnerID, lr.Name, formats, hours, lr.DecayRate, nullFloat(lr.Ability),
			lr.SessionMinutes, lr.DailyCapacityMinutes, lr.CreatedAt.UTC(), now).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				for _, c := range learnerCols[1:] {
					if c != "created_at" {
						u.SetExcluded(c)
					}
				}
			}),
		))
	return writeErr("learner", err)
}

// Profile implements learner.ProfileStore.
func (l *Learning) Profile(ctx context.Context, learnerID string) (*learner.Profile, error) {
	var (
		p              learner.Profile
		formats, hours string
		ability        sql.NullFloat64
		capacity       int
	)
	err := rowQ(ctx, l.s.db, sq().Select(learnerCols...).
		From(table(tableLearners)).
		Where(entsql.EQ("id", learnerID))).
		Scan(&p.LearnerID, &p.Name, &formats, &hours, &p.DecayRate, &ability,
			&p.SessionMinutes, &capacity, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, learner.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read learner: %w", err)
	}
	if err := unmarshalJSON(formats, &p.PreferredFormats); err != nil {
		return nil, fmt.Errorf("decode preferred formats: %w", err)
	}
	if err := unmarshalJSON(hours, &p.PreferredHours); err != nil {
		return nil, fmt.Errorf("decode preferred hours: %w", err)
	}
	p.Ability = floatPtr(ability)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// UpsertObjective creates or replaces an objective.
func (l *Learning) UpsertObjective(ctx context.Context, o curriculum.Objective) error {
	_, err := execQ(ctx, l.s.db, sq().Insert(tableObjectives).
		Columns(objectiveCols...).
		Values(o.ID, o.Title, o.Topic, nullFloat(o.Difficulty), string(o.Format), o.EstimatedMinutes, nullTime(o.DueDate)).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()))
	return writeErr("objective", err)
}

// AddEdge records that e.ObjectiveID requires e.RequiresID.
func (l *Learning) AddEdge(ctx context.Context, e curriculum.Edge) error {
	_, err := execQ(ctx, l.s.db, sq().Insert(tableEdges).
		Columns("objective_id", "requires_id").
		Values(e.ObjectiveID, e.RequiresID).
		OnConflict(entsql.ConflictColumns("objective_id", "requires_id"), entsql.DoNothing()))
	return writeErr("objective edge", err)
}

// Objective implements curriculum.Graph.
func (l *Learning) Objective(ctx context.Context, id string) (*curriculum.Objective, error) {
	o, err := scanObjective(rowQ(ctx, l.s.db, sq().Select(objectiveCols...).
		From(table(tableObjectives)).
		Where(entsql.EQ("id", id))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, curriculum.ErrNotFound
	}
	return o, err
}

// Prerequisites implements curriculum.Graph.
func (l *Learning) Prerequisites(ctx context.Context, id string) ([]curriculum.Objective, error) {
	o := sq().Table(tableObjectives).As("o")
	e := sq().Table(tableEdges).As("e")
	cols := make([]string, len(objectiveCols))
	for i, c := range objectiveCols {
		cols[i] = o.C(c)
	}
	sel := sq().Select(cols...).
		From(o).
		Join(e).On(o.C("id"), e.C("requires_id")).
		Where(entsql.EQ(e.C("objective_id"), id)).
		OrderBy(o.C("id"))
	return l.objectives(ctx, sel)
}

// Upcoming implements curriculum.Graph. An objective planned more than once
// is reported at its earliest date.
func (l *Learning) Upcoming(ctx context.Context, learnerID string, from, to time.Time) ([]curriculum.Scheduled, error) {
	items, err := l.s.Plan().Items(ctx, learnerID, from, to)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []curriculum.Scheduled
	for _, it := range items {
		if it.Kind != plan.KindStudy || it.Status != plan.StatusPlanned || seen[it.ObjectiveID] {
			continue
		}
		seen[it.ObjectiveID] = true
		o, err := l.Objective(ctx, it.ObjectiveID)
		if err != nil {
			if errors.Is(err, curriculum.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, curriculum.Scheduled{Objective: *o, ScheduledAt: it.ScheduledFor})
	}
	return out, nil
}

// ObjectivesByTopic lists the objectives of a topic.
func (l *Learning) ObjectivesByTopic(ctx context.Context, topic string) ([]curriculum.Objective, error) {
	return l.objectives(ctx, sq().Select(objectiveCols...).
		From(table(tableObjectives)).
		Where(entsql.EQ("topic", topic)).
		OrderBy("id"))
}

func (l *Learning) objectives(ctx context.Context, sel *entsql.Selector) ([]curriculum.Objective, error) {
	rows, err := queryQ(ctx, l.s.db, sel)
	if err != nil {
		return nil, fmt.Errorf("list objectives: %w", err)
	}
	defer rows.Close()
	var out []curriculum.Objective
	for rows.Next() {
		o, err := scanObjective(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func scanObjective(row rowScanner) (*curriculum.Objective, error) {
	var (
		o          curriculum.Objective
		difficulty sql.NullFloat64
		format     string
		due        sql.NullTime
	)
	if err := row.Scan(&o.ID, &o.Title, &o.Topic, &difficulty, &format, &o.EstimatedMinutes, &due); err != nil {
		return nil, err
	}
	o.Difficulty = floatPtr(difficulty)
	o.Format = curriculum.Format(format)
	o.DueDate = timePtr(due)
	return &o, nil
}

// SetMastery records a learner's mastery of an objective.
func (l *Learning) SetMastery(ctx context.Context, learnerID string, m learner.Mastery) error {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = l.s.now()
	}
	_, err := execQ(ctx, l.s.db, sq().Insert(tableMastery).
		Columns("learner_id", "objective_id", "level", "updated_at").
		Values(learnerID, m.ObjectiveID, m.Level, m.UpdatedAt.UTC()).
		OnConflict(entsql.ConflictColumns("learner_id", "objective_id"), entsql.ResolveWithNewValues()))
	return writeErr("mastery", err)
}

// Mastery implements learner.PerformanceStore.
func (l *Learning) Mastery(ctx context.Context, learnerID string, objectiveIDs []string) (map[string]learner.Mastery, error) {
	out := make(map[string]learner.Mastery, len(objectiveIDs))
	if len(objectiveIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(objectiveIDs))
	for i, id := range objectiveIDs {
		args[i] = id
	}
	rows, err := queryQ(ctx, l.s.db, sq().Select("objective_id", "level", "updated_at").
		From(table(tableMastery)).
		Where(entsql.And(
			entsql.EQ("learner_id", learnerID),
			entsql.In("objective_id", args...),
		)))
	if err != nil {
		return nil, fmt.Errorf("read mastery: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m learner.Mastery
		if err := rows.Scan(&m.ObjectiveID, &m.Level, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.UpdatedAt = m.UpdatedAt.UTC()
		out[m.ObjectiveID] = m
	}
	return out, rows.Err()
}

// RecordRetention appends a retention measurement.
func (l *Learning) RecordRetention(ctx context.Context, learnerID, objectiveID string, p learner.RetentionPoint) error {
	_, err := execQ(ctx, l.s.db, sq().Insert(tableRetention).
		Columns("learner_id", "objective_id", "retention", "measured_at").
		Values(learnerID, objectiveID, p.Retention, p.At.UTC()))
	return writeErr("retention", err)
}

// Assessment is a scheduled or graded assessment.
type Assessment struct {
	LearnerID   string    `yaml:"learner"`
	ObjectiveID string    `yaml:"objective"`
	Title       string    `yaml:"title"`
	Score       *float64  `yaml:"score"`
	ScheduledAt time.Time `yaml:"scheduled_at"`
}

// RecordAssessment stores an assessment. An ungraded one is upcoming.
func (l *Learning) RecordAssessment(ctx context.Context, a Assessment) error {
	_, err := execQ(ctx, l.s.db, sq().Insert(tableAssessments).
		Columns("learner_id", "objective_id", "title", "score", "scheduled_at").
		Values(a.LearnerID, a.ObjectiveID, a.Title, nullFloat(a.Score), a.ScheduledAt.UTC()))
	return writeErr("assessment", err)
}

// ObjectivePerformance implements learner.PerformanceStore.
func (l *Learning) ObjectivePerformance(ctx context.Context, learnerID, objectiveID string) (*learner.ObjectivePerformance, error) {
	p := &learner.ObjectivePerformance{ObjectiveID: objectiveID}

	var last sql.NullString
	err := rowQ(ctx, l.s.db, sq().Select(
		entsql.Count("*"),
		"COALESCE(SUM(CASE WHEN `rating` = 'again' THEN 1 ELSE 0 END), 0)",
		entsql.Max("reviewed_at"),
	).From(table(tableReviews)).
		Where(entsql.And(
			entsql.EQ("learner_id", learnerID),
			entsql.EQ("objective_id", objectiveID),
		))).Scan(&p.Reviews, &p.Lapses, &last)
	if err != nil {
		return nil, fmt.Errorf("review totals: %w", err)
	}
	if last.Valid {
		if t, ok := parseSQLiteTime(last.String); ok {
			p.LastStudiedAt = &t
		}
	}

	rows, err := queryQ(ctx, l.s.db, sq().Select("retention", "measured_at").
		From(table(tableRetention)).
		Where(entsql.And(
			entsql.EQ("learner_id", learnerID),
			entsql.EQ("objective_id", objectiveID),
		)).
		OrderBy("measured_at"))
	if err != nil {
		return nil, fmt.Errorf("retention history: %w", err)
	}
	for rows.Next() {
		var pt learner.RetentionPoint
		if err := rows.Scan(&pt.Retention, &pt.At); err != nil {
			rows.Close()
			return nil, err
		}
		pt.At = pt.At.UTC()
		p.Retention = append(p.Retention, pt)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var score sql.NullFloat64
	err = rowQ(ctx, l.s.db, sq().Select("score").
		From(table(tableAssessments)).
		Where(entsql.And(
			entsql.EQ("learner_id", learnerID),
			entsql.EQ("objective_id", objectiveID),
			entsql.NotNull("score"),
		)).
		OrderBy(entsql.Desc("scheduled_at")).
		Limit(1)).Scan(&score)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("assessment score: %w", err)
	}
	p.AssessmentScore = floatPtr(score)

	if p.Reviews == 0 && len(p.Retention) == 0 && p.AssessmentScore == nil {
		return nil, nil
	}
	return p, nil
}

// TopicSummary implements learner.PerformanceStore.
func (l *Learning) TopicSummary(ctx context.Context, learnerID, topic string) (*learner.TopicSummary, error) {
	objs, err := l.ObjectivesByTopic(ctx, topic)
	if err != nil {
		return nil, err
	}
	sum := &learner.TopicSummary{Topic: topic}
	var retention float64
	var measured int
	for _, o := range objs {
		p, err := l.ObjectivePerformance(ctx, learnerID, o.ID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		sum.Objectives++
		sum.Reviews += p.Reviews
		sum.Lapses += p.Lapses
		if r, ok := p.LatestRetention(); ok {
			retention += r
			measured++
		}
		if p.LastStudiedAt != nil && (sum.LastStudiedAt == nil || p.LastStudiedAt.After(*sum.LastStudiedAt)) {
			t := *p.LastStudiedAt
			sum.LastStudiedAt = &t
		}
	}
	if sum.Objectives == 0 {
		return nil, nil
	}
	if measured > 0 {
		sum.MeanRetention = retention / float64(measured)
	}
	return sum, nil
}

// Session is a study session row.
type Session struct {
	ID              string     `yaml:"id"`
	LearnerID       string     `yaml:"learner"`
	ObjectiveID     string     `yaml:"objective"`
	Topic           string     `yaml:"topic"`
	StartedAt       time.Time  `yaml:"started_at"`
	EndedAt         *time.Time `yaml:"ended_at"`
	DurationMinutes int        `yaml:"duration_minutes"`
	Score           *float64   `yaml:"score"`
	BaselineScore   *float64   `yaml:"baseline_score"`
}

// UpsertSession creates or replaces a study session.
func (l *Learning) UpsertSession(ctx context.Context, s Session) error {
	_, err := execQ(ctx, l.s.db, sq().Insert(tableSessions).
		Columns("id", "learner_id", "objective_id", "topic", "started_at", "ended_at",
			"duration_minutes", "score", "baseline_score").
		Values(s.ID, s.LearnerID, s.ObjectiveID, s.Topic, s.StartedAt.UTC(), nullTime(s.EndedAt),
			s.DurationMinutes, nullFloat(s.Score), nullFloat(s.BaselineScore)).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()))
	return writeErr("study session", err)
}

// RecordReview appends a review to a session.
func (l *Learning) RecordReview(ctx context.Context, learnerID string, ev learner.ReviewEvent) error {
	_, err := execQ(ctx, l.s.db, sq().Insert(tableReviews).
		Columns("session_id", "learner_id", "objective_id", "rating", "duration_ms", "expected_ms",
			"validator_score", "reviewed_at").
		Values(ev.SessionID, learnerID, ev.ObjectiveID, string(ev.Rating), ev.Duration.Milliseconds(),
			ev.ExpectedTime.Milliseconds(), nullFloat(ev.ValidatorScore), ev.At.UTC()))
	return writeErr("review", err)
}

// RecentSessions implements learner.PerformanceStore. Only scored sessions
// are returned.
func (l *Learning) RecentSessions(ctx context.Context, learnerID string, since time.Time) ([]learner.SessionSummary, error) {
	rows, err := queryQ(ctx, l.s.db, sq().Select("id", "topic", "started_at", "duration_minutes", "score").
		From(table(tableSessions)).
		Where(entsql.And(
			entsql.EQ("learner_id", learnerID),
			entsql.GTE("started_at", since.UTC()),
			entsql.NotNull("score"),
		)).
		OrderBy(entsql.Desc("started_at")))
	if err != nil {
		return nil, fmt.Errorf("recent sessions: %w", err)
	}
	var out []learner.SessionSummary
	for rows.Next() {
		s := learner.SessionSummary{LearnerID: learnerID}
		if err := rows.Scan(&s.SessionID, &s.Topic, &s.StartedAt, &s.DurationMinutes, &s.Score); err != nil {
			rows.Close()
			return nil, err
		}
		s.StartedAt = s.StartedAt.UTC()
		out = append(out, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		err := rowQ(ctx, l.s.db, sq().Select(
			entsql.Count("*"),
			"COALESCE(SUM(CASE WHEN `rating` = 'again' THEN 1 ELSE 0 END), 0)",
		).From(table(tableReviews)).
			Where(entsql.EQ("session_id", out[i].SessionID))).Scan(&out[i].Reviews, &out[i].Lapses)
		if err != nil {
			return nil, fmt.Errorf("session reviews: %w", err)
		}
	}
	return out, nil
}

// ActiveSession implements learner.SessionStore.
func (l *Learning) ActiveSession(ctx context.Context, sessionID string, lastN int) (*learner.ActiveSession, error) {
	var (
		s        learner.ActiveSession
		baseline sql.NullFloat64
	)
	err := rowQ(ctx, l.s.db, sq().Select("id", "learner_id", "objective_id", "started_at", "baseline_score").
		From(table(tableSessions)).
		Where(entsql.EQ("id", sessionID))).
		Scan(&s.SessionID, &s.LearnerID, &s.ObjectiveID, &s.StartedAt, &baseline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, learner.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	s.StartedAt = s.StartedAt.UTC()
	s.BaselineScore = floatPtr(baseline)

	sel := sq().Select("objective_id", "rating", "duration_ms", "expected_ms", "validator_score", "reviewed_at").
		From(table(tableReviews)).
		Where(entsql.EQ("session_id", sessionID)).
		OrderBy(entsql.Desc("reviewed_at"), entsql.Desc("id"))
	if lastN > 0 {
		sel.Limit(lastN)
	}
	rows, err := queryQ(ctx, l.s.db, sel)
	if err != nil {
		return nil, fmt.Errorf("session reviews: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ev                learner.ReviewEvent
			rating            string
			durMS, expectedMS int64
			validator         sql.NullFloat64
		)
		if err := rows.Scan(&ev.ObjectiveID, &rating, &durMS, &expectedMS, &validator, &ev.At); err != nil {
			return nil, err
		}
		ev.SessionID = sessionID
		ev.Rating = learner.Rating(rating)
		ev.Duration = time.Duration(durMS) * time.Millisecond
		ev.ExpectedTime = time.Duration(expectedMS) * time.Millisecond
		ev.ValidatorScore = floatPtr(validator)
		ev.At = ev.At.UTC()
		s.Reviews = append(s.Reviews, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Oldest first.
	sort.SliceStable(s.Reviews, func(i, j int) bool { return s.Reviews[i].At.Before(s.Reviews[j].At) })
	return &s, nil
}

// Pattern implements learner.BehaviorStore.
func (l *Learning) Pattern(ctx context.Context, learnerID, topic string) (*learner.BehaviorPattern, error) {
	var p learner.BehaviorPattern
	err := rowQ(ctx, l.s.db, sq().Select("topic", "samples", "struggle_rate", "updated_at").
		From(table(tableBehavior)).
		Where(entsql.And(
			entsql.EQ("learner_id", learnerID),
			entsql.EQ("topic", topic),
		))).Scan(&p.Topic, &p.Samples, &p.StruggleRate, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read behavior pattern: %w", err)
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// UpsertPattern creates or replaces a behavior aggregate.
func (l *Learning) UpsertPattern(ctx context.Context, learnerID string, p learner.BehaviorPattern) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = l.s.now()
	}
	_, err := execQ(ctx, l.s.db, sq().Insert(tableBehavior).
		Columns("learner_id", "topic", "samples", "struggle_rate", "updated_at").
		Values(learnerID, p.Topic, p.Samples, p.StruggleRate, p.UpdatedAt.UTC()).
		OnConflict(entsql.ConflictColumns("learner_id", "topic"), entsql.ResolveWithNewValues()))
	return writeErr("behavior pattern", err)
}

// RecordTopicOutcome folds one observed outcome into the learner's topic
// aggregate as a running mean.
func (l *Learning) RecordTopicOutcome(ctx context.Context, learnerID, topic string, struggled bool, at time.Time) error {
	if topic == "" {
		return nil
	}
	p, err := l.Pattern(ctx, learnerID, topic)
	if err != nil {
		return err
	}
	if p == nil {
		p = &learner.BehaviorPattern{Topic: topic}
	}
	x := 0.0
	if struggled {
		x = 1
	}
	p.StruggleRate = (p.StruggleRate*float64(p.Samples) + x) / float64(p.Samples+1)
	p.Samples++
	p.UpdatedAt = at
	return l.UpsertPattern(ctx, learnerID, *p)
}

// Calendar implements learner.CalendarStore. Capacity is the learner's daily
// capacity times the number of days in [from, to].
func (l *Learning) Calendar(ctx context.Context, learnerID string, from, to time.Time) (*learner.Calendar, error) {
	cal := &learner.Calendar{}

	var next sql.NullString
	err := rowQ(ctx, l.s.db, sq().Select(entsql.Min("scheduled_at")).
		From(table(tableAssessments)).
		Where(entsql.And(
			entsql.EQ("learner_id", learnerID),
			entsql.GTE("scheduled_at", from.UTC()),
			entsql.IsNull("score"),
		))).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("next assessment: %w", err)
	}
	if next.Valid {
		if t, ok := parseSQLiteTime(next.String); ok {
			cal.NextAssessment = &t
		}
	}

	items, err := l.s.Plan().Items(ctx, learnerID, from, to)
	if err != nil {
		return nil, err
	}
	y, m, d := from.UTC().Date()
	for _, it := range items {
		if it.Status != plan.StatusPlanned {
			continue
		}
		cal.PlannedMinutes += it.DurationMinutes
		iy, im, id := it.ScheduledFor.Date()
		if iy == y && im == m && id == d {
			cal.PlannedMinutesToday += it.DurationMinutes
		}
	}

	var capacity int
	err = rowQ(ctx, l.s.db, sq().Select("daily_capacity_minutes").
		From(table(tableLearners)).
		Where(entsql.EQ("id", learnerID))).Scan(&capacity)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("learner capacity: %w", err)
	}
	days := int(to.Sub(from).Hours()/24 + 0.5)
	if days < 1 {
		days = 1
	}
	cal.CapacityMinutes = capacity * days
	return cal, nil
}

// sqliteTimeLayouts are the formats the driver writes time values in.
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
}

// parseSQLiteTime parses the text an aggregate over a time column returns.
func parseSQLiteTime(s string) (time.Time, bool) {
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
