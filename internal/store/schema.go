package store

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

// Table names.
const (
	tableLearners      = "learners"
	tableObjectives    = "objectives"
	tableEdges         = "objective_edges"
	tableMastery       = "mastery"
	tableRetention     = "retention_points"
	tableAssessments   = "assessments"
	tableSessions      = "study_sessions"
	tableReviews       = "review_events"
	tableBehavior      = "behavior_patterns"
	tablePlanItems     = "plan_items"
	tablePredictions   = "predictions"
	tableIndicators    = "indicators"
	tableInterventions = "interventions"
	tableFeedback      = "feedback"
	tableOutcomes      = "outcomes"
	tableTrainingRuns  = "training_runs"
	tableUsage         = "on_demand_usage"
	tableAlerts        = "alerts"
)

var (
	learnersColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "name", Type: field.TypeString, Default: ""},
		{Name: "preferred_formats", Type: field.TypeString, Default: "[]"},
		{Name: "preferred_hours", Type: field.TypeString, Default: "[]"},
		{Name: "decay_rate", Type: field.TypeFloat64, Default: 0},
		{Name: "ability", Type: field.TypeFloat64, Nullable: true},
		{Name: "session_minutes", Type: field.TypeInt, Default: 0},
		{Name: "daily_capacity_minutes", Type: field.TypeInt, Default: 0},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	learnersTable = &schema.Table{
		Name:       tableLearners,
		Columns:    learnersColumns,
		PrimaryKey: []*schema.Column{learnersColumns[0]},
	}

	objectivesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "title", Type: field.TypeString, Default: ""},
		{Name: "topic", Type: field.TypeString, Default: ""},
		{Name: "difficulty", Type: field.TypeFloat64, Nullable: true},
		{Name: "format", Type: field.TypeString, Default: ""},
		{Name: "estimated_minutes", Type: field.TypeInt, Default: 0},
		{Name: "due_date", Type: field.TypeTime, Nullable: true},
	}
	objectivesTable = &schema.Table{
		Name:       tableObjectives,
		Columns:    objectivesColumns,
		PrimaryKey: []*schema.Column{objectivesColumns[0]},
		Indexes: []*schema.Index{
			{Name: "objective_topic", Columns: []*schema.Column{objectivesColumns[2]}},
		},
	}

	edgesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "objective_id", Type: field.TypeString},
		{Name: "requires_id", Type: field.TypeString},
	}
	edgesTable = &schema.Table{
		Name:       tableEdges,
		Columns:    edgesColumns,
		PrimaryKey: []*schema.Column{edgesColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{Symbol: "objective_edges_objective", Columns: []*schema.Column{edgesColumns[1]}, RefColumns: []*schema.Column{objectivesColumns[0]}, OnDelete: schema.Cascade},
			{Symbol: "objective_edges_requires", Columns: []*schema.Column{edgesColumns[2]}, RefColumns: []*schema.Column{objectivesColumns[0]}, OnDelete: schema.Cascade},
		},
		Indexes: []*schema.Index{
			{Name: "objective_edge_unique", Unique: true, Columns: []*schema.Column{edgesColumns[1], edgesColumns[2]}},
		},
	}

	masteryColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "learner_id", Type: field.TypeString},
		{Name: "objective_id", Type: field.TypeString},
		{Name: "level", Type: field.TypeFloat64},
		{Name: "updated_at", Type: field.TypeTime},
	}
	masteryTable = &schema.Table{
		Name:       tableMastery,
		Columns:    masteryColumns,
		PrimaryKey: []*schema.Column{masteryColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{Symbol: "mastery_learner", Columns: []*schema.Column{masteryColumns[1]}, RefColumns: []*schema.Column{learnersColumns[0]}, OnDelete: schema.Cascade},
		},
		Indexes: []*schema.Index{
			{Name: "mastery_learner_objective", Unique: true, Columns: []*schema.Column{masteryColumns[1], masteryColumns[2]}},
		},
	}

	retentionColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "learner_id", Type: field.TypeString},
		{Name: "objective_id", Type: field.TypeString},
		{Name: "retention", Type: field.TypeFloat64},
		{Name: "measured_at", Type: field.TypeTime},
	}
	retentionTable = &schema.Table{
		Name:       tableRetention,
		Columns:    retentionColumns,
		PrimaryKey: []*schema.Column{retentionColumns[0]},
		Indexes: []*schema.Index{
			{Name: "retention_learner_objective", Columns: []*schema.Column{retentionColumns[1], retentionColumns[2], retentionColumns[4]}},
		},
	}

	assessmentsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "learner_id", Type: field.TypeString},
		{Name: "objective_id", Type: field.TypeString, Default: ""},
		{Name: "title", Type: field.TypeString, Default: ""},
		{Name: "score", Type: field.TypeFloat64, Nullable: true},
		{Name: "scheduled_at", Type: field.TypeTime},
	}
	assessmentsTable = &schema.Table{
		Name:       tableAssessments,
		Columns:    assessmentsColumns,
		PrimaryKey: []*schema.Column{assessmentsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "assessment_learner_time", Columns: []*schema.Column{assessmentsColumns[1], assessmentsColumns[5]}},
		},
	}

	sessionsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "learner_id", Type: field.TypeString},
		{Name: "objective_id", Type: field.TypeString, Default: ""},
		{Name: "topic", Type: field.TypeString, Default: ""},
		{Name: "started_at", Type: field.TypeTime},
		{Name: "ended_at", Type: field.TypeTime, Nullable: true},
		{Name: "duration_minutes", Type: field.TypeInt, Default: 0},
		{Name: "score", Type: field.TypeFloat64, Nullable: true},
		{Name: "baseline_score", Type: field.TypeFloat64, Nullable: true},
	}
	sessionsTable = &schema.Table{
		Name:       tableSessions,
		Columns:    sessionsColumns,
		PrimaryKey: []*schema.Column{sessionsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "session_learner_started", Columns: []*schema.Column{sessionsColumns[1], sessionsColumns[4]}},
		},
	}

	reviewsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "session_id", Type: field.TypeString},
		{Name: "learner_id", Type: field.TypeString},
		{Name: "objective_id", Type: field.TypeString},
		{Name: "rating", Type: field.TypeString},
		{Name: "duration_ms", Type: field.TypeInt64, Default: 0},
		{Name: "expected_ms", Type: field.TypeInt64, Default: 0},
		{Name: "validator_score", Type: field.TypeFloat64, Nullable: true},
		{Name: "reviewed_at", Type: field.TypeTime},
	}
	reviewsTable = &schema.Table{
		Name:       tableReviews,
		Columns:    reviewsColumns,
		PrimaryKey: []*schema.Column{reviewsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "review_session", Columns: []*schema.Column{reviewsColumns[1]}},
			{Name: "review_learner_objective", Columns: []*schema.Column{reviewsColumns[2], reviewsColumns[3]}},
		},
	}

	behaviorColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "learner_id", Type: field.TypeString},
		{Name: "topic", Type: field.TypeString},
		{Name: "samples", Type: field.TypeInt, Default: 0},
		{Name: "struggle_rate", Type: field.TypeFloat64, Default: 0},
		{Name: "updated_at", Type: field.TypeTime},
	}
	behaviorTable = &schema.Table{
		Name:       tableBehavior,
		Columns:    behaviorColumns,
		PrimaryKey: []*schema.Column{behaviorColumns[0]},
		Indexes: []*schema.Index{
			{Name: "behavior_learner_topic", Unique: true, Columns: []*schema.Column{behaviorColumns[1], behaviorColumns[2]}},
		},
	}

	planItemsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "learner_id", Type: field.TypeString},
		{Name: "objective_id", Type: field.TypeString},
		{Name: "kind", Type: field.TypeString},
		{Name: "scheduled_for", Type: field.TypeTime},
		{Name: "duration_minutes", Type: field.TypeInt, Default: 0},
		{Name: "break_every_minutes", Type: field.TypeInt, Default: 0},
		{Name: "intervention_id", Type: field.TypeString, Default: ""},
		{Name: "before_item_id", Type: field.TypeString, Default: ""},
		{Name: "status", Type: field.TypeString},
		{Name: "completed_at", Type: field.TypeTime, Nullable: true},
		{Name: "struggled", Type: field.TypeBool, Nullable: true},
	}
	planItemsTable = &schema.Table{
		Name:       tablePlanItems,
		Columns:    planItemsColumns,
		PrimaryKey: []*schema.Column{planItemsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "plan_item_learner_time", Columns: []*schema.Column{planItemsColumns[1], planItemsColumns[4]}},
		},
	}

	predictionsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "learner_id", Type: field.TypeString},
		{Name: "objective_id", Type: field.TypeString},
		{Name: "topic", Type: field.TypeString, Default: ""},
		{Name: "as_of", Type: field.TypeString},
		{Name: "due_date", Type: field.TypeTime, Nullable: true},
		{Name: "probability", Type: field.TypeFloat64},
		{Name: "confidence", Type: field.TypeFloat64},
		{Name: "status", Type: field.TypeString},
		{Name: "actual_outcome", Type: field.TypeBool, Nullable: true},
		{Name: "features", Type: field.TypeString},
		{Name: "factors", Type: field.TypeString, Default: "[]"},
		{Name: "model", Type: field.TypeString},
		{Name: "model_version", Type: field.TypeString},
		{Name: "source", Type: field.TypeString},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
		{Name: "resolved_at", Type: field.TypeTime, Nullable: true},
	}
	predictionsTable = &schema.Table{
		Name:       tablePredictions,
		Columns:    predictionsColumns,
		PrimaryKey: []*schema.Column{predictionsColumns[0]},
		Indexes: []*schema.Index{
			// One prediction per (learner, objective, as-of date).
			{Name: "prediction_unit", Unique: true, Columns: []*schema.Column{predictionsColumns[1], predictionsColumns[2], predictionsColumns[4]}},
			{Name: "prediction_status", Columns: []*schema.Column{predictionsColumns[8]}},
			{Name: "prediction_resolved", Columns: []*schema.Column{predictionsColumns[17]}},
		},
	}

	indicatorsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "prediction_id", Type: field.TypeString},
		{Name: "learner_id", Type: field.TypeString},
		{Name: "objective_id", Type: field.TypeString},
		{Name: "session_id", Type: field.TypeString, Default: ""},
		{Name: "type", Type: field.TypeString},
		{Name: "severity", Type: field.TypeString},
		{Name: "feature", Type: field.TypeString, Default: ""},
		{Name: "value", Type: field.TypeFloat64},
		{Name: "description", Type: field.TypeString},
		{Name: "related", Type: field.TypeString, Default: "[]"},
		{Name: "created_at", Type: field.TypeTime},
	}
	indicatorsTable = &schema.Table{
		Name:       tableIndicators,
		Columns:    indicatorsColumns,
		PrimaryKey: []*schema.Column{indicatorsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{Symbol: "indicators_prediction", Columns: []*schema.Column{indicatorsColumns[1]}, RefColumns: []*schema.Column{predictionsColumns[0]}, OnDelete: schema.Cascade},
		},
		Indexes: []*schema.Index{
			{Name: "indicator_prediction", Columns: []*schema.Column{indicatorsColumns[1]}},
		},
	}

	interventionsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "prediction_id", Type: field.TypeString},
		{Name: "learner_id", Type: field.TypeString},
		{Name: "objective_id", Type: field.TypeString},
		{Name: "type", Type: field.TypeString},
		{Name: "indicator_type", Type: field.TypeString},
		{Name: "severity", Type: field.TypeString},
		{Name: "priority", Type: field.TypeInt},
		{Name: "status", Type: field.TypeString},
		{Name: "rationale", Type: field.TypeString},
		{Name: "target_objective_id", Type: field.TypeString, Default: ""},
		{Name: "scheduled_for", Type: field.TypeTime, Nullable: true},
		{Name: "duration_factor", Type: field.TypeFloat64, Default: 0},
		{Name: "review_offsets", Type: field.TypeString, Default: "[]"},
		{Name: "break_every_minutes", Type: field.TypeInt, Default: 0},
		{Name: "plan_item_id", Type: field.TypeString, Default: ""},
		{Name: "effectiveness", Type: field.TypeFloat64, Nullable: true},
		{Name: "applied_at", Type: field.TypeTime, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	interventionsTable = &schema.Table{
		Name:       tableInterventions,
		Columns:    interventionsColumns,
		PrimaryKey: []*schema.Column{interventionsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{Symbol: "interventions_prediction", Columns: []*schema.Column{interventionsColumns[1]}, RefColumns: []*schema.Column{predictionsColumns[0]}, OnDelete: schema.Cascade},
		},
		Indexes: []*schema.Index{
			{Name: "intervention_prediction", Columns: []*schema.Column{interventionsColumns[1]}},
			{Name: "intervention_learner_status", Columns: []*schema.Column{interventionsColumns[2], interventionsColumns[8]}},
		},
	}

	feedbackColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "prediction_id", Type: field.TypeString},
		{Name: "intervention_id", Type: field.TypeString, Default: ""},
		{Name: "learner_id", Type: field.TypeString},
		{Name: "kind", Type: field.TypeString},
		{Name: "rating", Type: field.TypeInt, Nullable: true},
		{Name: "comment", Type: field.TypeString, Default: ""},
		{Name: "actual_struggle", Type: field.TypeBool, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
	}
	feedbackTable = &schema.Table{
		Name:       tableFeedback,
		Columns:    feedbackColumns,
		PrimaryKey: []*schema.Column{feedbackColumns[0]},
		Indexes: []*schema.Index{
			{Name: "feedback_prediction", Columns: []*schema.Column{feedbackColumns[1]}},
		},
	}

	outcomesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "learner_id", Type: field.TypeString},
		{Name: "objective_id", Type: field.TypeString},
		{Name: "topic", Type: field.TypeString, Default: ""},
		{Name: "prediction_id", Type: field.TypeString, Default: ""},
		{Name: "probability", Type: field.TypeFloat64},
		{Name: "predicted", Type: field.TypeBool},
		{Name: "actual", Type: field.TypeBool},
		{Name: "features", Type: field.TypeString},
		{Name: "model", Type: field.TypeString, Default: ""},
		{Name: "intervened", Type: field.TypeBool, Default: false},
		{Name: "recorded_at", Type: field.TypeTime},
	}
	outcomesTable = &schema.Table{
		Name:       tableOutcomes,
		Columns:    outcomesColumns,
		PrimaryKey: []*schema.Column{outcomesColumns[0]},
		Indexes: []*schema.Index{
			{Name: "outcome_recorded", Columns: []*schema.Column{outcomesColumns[11]}},
			{Name: "outcome_learner_recorded", Columns: []*schema.Column{outcomesColumns[1], outcomesColumns[11]}},
		},
	}

	trainingRunsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "trained_at", Type: field.TypeTime},
		{Name: "train_examples", Type: field.TypeInt},
		{Name: "test_examples", Type: field.TypeInt},
		{Name: "candidate_f1", Type: field.TypeFloat64},
		{Name: "candidate_recall", Type: field.TypeFloat64},
		{Name: "candidate_log_loss", Type: field.TypeFloat64},
		{Name: "incumbent_f1", Type: field.TypeFloat64, Nullable: true},
		{Name: "incumbent_log_loss", Type: field.TypeFloat64, Nullable: true},
		{Name: "deployed", Type: field.TypeBool},
		{Name: "reason", Type: field.TypeString, Default: ""},
		{Name: "artifact", Type: field.TypeString},
	}
	trainingRunsTable = &schema.Table{
		Name:       tableTrainingRuns,
		Columns:    trainingRunsColumns,
		PrimaryKey: []*schema.Column{trainingRunsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "training_run_time", Columns: []*schema.Column{trainingRunsColumns[1]}},
		},
	}

	usageColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "learner_id", Type: field.TypeString},
		{Name: "day", Type: field.TypeString},
		{Name: "runs", Type: field.TypeInt},
	}
	usageTable = &schema.Table{
		Name:       tableUsage,
		Columns:    usageColumns,
		PrimaryKey: []*schema.Column{usageColumns[0]},
		Indexes: []*schema.Index{
			{Name: "usage_learner_day", Unique: true, Columns: []*schema.Column{usageColumns[1], usageColumns[2]}},
		},
	}

	alertsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "learner_id", Type: field.TypeString},
		{Name: "prediction_id", Type: field.TypeString, Default: ""},
		{Name: "objective_id", Type: field.TypeString, Default: ""},
		{Name: "session_id", Type: field.TypeString, Default: ""},
		{Name: "source", Type: field.TypeString},
		{Name: "severity", Type: field.TypeString},
		{Name: "urgency", Type: field.TypeFloat64},
		{Name: "message", Type: field.TypeString},
		{Name: "notified", Type: field.TypeBool},
		{Name: "created_at", Type: field.TypeTime},
	}
	alertsTable = &schema.Table{
		Name:       tableAlerts,
		Columns:    alertsColumns,
		PrimaryKey: []*schema.Column{alertsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "alert_learner_time", Columns: []*schema.Column{alertsColumns[1], alertsColumns[10]}},
		},
	}

	// tables lists every table in creation order.
	tables = []*schema.Table{
		learnersTable,
		objectivesTable,
		edgesTable,
		masteryTable,
		retentionTable,
		assessmentsTable,
		sessionsTable,
		reviewsTable,
		behaviorTable,
		planItemsTable,
		predictionsTable,
		indicatorsTable,
		interventionsTable,
		feedbackTable,
		outcomesTable,
		trainingRunsTable,
		usageTable,
		alertsTable,
	}
)

func init() {
	edgesTable.ForeignKeys[0].RefTable = objectivesTable
	edgesTable.ForeignKeys[1].RefTable = objectivesTable
	masteryTable.ForeignKeys[0].RefTable = learnersTable
	indicatorsTable.ForeignKeys[0].RefTable = predictionsTable
	interventionsTable.ForeignKeys[0].RefTable = predictionsTable
}
