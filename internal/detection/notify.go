package detection

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/abhisek/foresight/internal/struggle"
)

// Notifier delivers an alert to the learner.
type Notifier interface {
	Notify(ctx context.Context, a struggle.Alert) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, a struggle.Alert) error

func (f NotifierFunc) Notify(ctx context.Context, a struggle.Alert) error { return f(ctx, a) }

// LogNotifier writes alerts to the log. It is the default when no delivery
// channel is configured.
type LogNotifier struct {
	Log logrus.FieldLogger
}

func (n LogNotifier) Notify(_ context.Context, a struggle.Alert) error {
	entry := n.Log.WithFields(logrus.Fields{
		"alert_id":     a.ID,
		"learner_id":   a.LearnerID,
		"objective_id": a.ObjectiveID,
		"source":       a.Source,
		"severity":     a.Severity,
		"urgency":      a.Urgency,
	})
	if a.Severity == struggle.SeverityHigh {
		entry.Warn(a.Message)
		return nil
	}
	entry.Info(a.Message)
	return nil
}
