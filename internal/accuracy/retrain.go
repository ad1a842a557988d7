package accuracy

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/abhisek/foresight/internal/metrics"
	"github.com/abhisek/foresight/internal/model"
	"github.com/abhisek/foresight/internal/store"
)

// Retrain fits a new classifier on every labeled outcome and deploys it
// when it does not regress against the serving classifier on the same
// held-out set, or against the rule-based scorer when no classifier has
// been deployed yet. Every attempt that reaches training is recorded as a run.
// With fewer labeled outcomes than required it returns
// *model.InsufficientTrainingDataError and the registry keeps serving rules.
func (t *Tracker) Retrain(ctx context.Context) (*store.TrainingRun, error) {
	t.retrainMu.Lock()
	defer t.retrainMu.Unlock()

	outcomes, err := t.d.Outcomes.List(ctx, store.OutcomeFilter{})
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	need := t.cfg.Train.MinExamples
	if len(outcomes) < need {
		metrics.Retrains.WithLabelValues("skipped").Inc()
		t.log.WithFields(logrus.Fields{"have": len(outcomes), "need": need}).
			Info("not enough labeled outcomes to train, serving rule-based model")
		return nil, &model.InsufficientTrainingDataError{Have: len(outcomes), Need: need}
	}

	examples := make([]model.Example, len(outcomes))
	for i, o := range outcomes {
		examples[i] = model.Example{Vector: o.Features, Struggled: o.Actual}
	}
	train, test := model.Split(examples, t.cfg.Train.TestFraction, t.cfg.Train.Seed)

	now := t.now().UTC()
	candidate, err := model.TrainLogistic(train, t.cfg.Train, now)
	if err != nil {
		return nil, fmt.Errorf("train classifier: %w", err)
	}
	cand := Evaluate(candidate, test, t.cfg.Threshold)

	run := &store.TrainingRun{
		ID:               candidate.Version(),
		TrainedAt:        now,
		TrainExamples:    len(train),
		TestExamples:     len(test),
		CandidateF1:      cand.F1,
		CandidateRecall:  cand.Recall,
		CandidateLogLoss: cand.LogLoss,
	}

	// Until a classifier is deployed the rule-based scorer is what serves,
	// so it is the bar a first candidate has to clear.
	var incumbent model.Model = t.d.Registry.Rules()
	if c := t.d.Registry.Classifier(); c != nil {
		incumbent = c
	}
	inc := Evaluate(incumbent, test, t.cfg.Threshold)
	run.IncumbentF1 = &inc.F1
	run.IncumbentLogLoss = &inc.LogLoss
	run.Deployed = NonRegressive(cand, inc)
	if run.Deployed {
		run.Reason = fmt.Sprintf("f1 %.3f vs %s %.3f, log loss %.3f vs %.3f", cand.F1, incumbent.Name(), inc.F1, cand.LogLoss, inc.LogLoss)
	} else {
		run.Reason = fmt.Sprintf("regressed against %s: f1 %.3f vs %.3f, log loss %.3f vs %.3f", incumbent.Name(), cand.F1, inc.F1, cand.LogLoss, inc.LogLoss)
	}

	if run.Deployed {
		run.Artifact, err = model.MarshalArtifact(candidate)
		if err != nil {
			return nil, fmt.Errorf("encode classifier: %w", err)
		}
	}
	if err := t.d.Models.SaveRun(ctx, run); err != nil {
		return nil, err
	}

	log := t.log.WithFields(logrus.Fields{
		"version":  candidate.Version(),
		"train":    len(train),
		"test":     len(test),
		"f1":       cand.F1,
		"log_loss": cand.LogLoss,
	})
	if run.Deployed {
		t.d.Registry.Deploy(candidate)
		metrics.Retrains.WithLabelValues("deployed").Inc()
		log.Info("classifier deployed")
	} else {
		metrics.Retrains.WithLabelValues("kept").Inc()
		log.WithField("reason", run.Reason).Info("candidate rejected, keeping the serving model")
	}
	t.d.Registry.UpdateDataSufficiency(len(outcomes))
	return run, nil
}

// MaybeRetrain retrains when the trigger fires. Too little data is not an
// error here: the rule-based model keeps serving.
func (t *Tracker) MaybeRetrain(ctx context.Context) (*store.TrainingRun, error) {
	fire, err := t.CheckRetrainTrigger(ctx)
	if err != nil || !fire {
		return nil, err
	}
	run, err := t.Retrain(ctx)
	if errors.Is(err, model.ErrInsufficientTrainingData) {
		return nil, nil
	}
	return run, err
}
