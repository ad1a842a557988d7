// Package accuracy measures how well struggle predictions match observed
// outcomes and decides when the classifier is retrained.
package accuracy

import (
	"math"

	"github.com/abhisek/foresight/internal/model"
	"github.com/abhisek/foresight/internal/struggle"
)

// Confusion is a binary confusion matrix.
type Confusion struct {
	TP int `json:"true_positives"`
	FP int `json:"false_positives"`
	FN int `json:"false_negatives"`
	TN int `json:"true_negatives"`
}

// Add counts one labeled observation.
func (c *Confusion) Add(predicted, actual bool) {
	switch {
	case predicted && actual:
		c.TP++
	case predicted && !actual:
		c.FP++
	case !predicted && actual:
		c.FN++
	default:
		c.TN++
	}
}

// Total is the number of observations.
func (c Confusion) Total() int { return c.TP + c.FP + c.FN + c.TN }

// Positives is the number of observed struggles.
func (c Confusion) Positives() int { return c.TP + c.FN }

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func (c Confusion) Accuracy() float64  { return ratio(c.TP+c.TN, c.Total()) }
func (c Confusion) Precision() float64 { return ratio(c.TP, c.TP+c.FP) }
func (c Confusion) Recall() float64    { return ratio(c.TP, c.TP+c.FN) }

// F1 is the harmonic mean of precision and recall.
func (c Confusion) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Bucket is one calibration bin.
type Bucket struct {
	Lower         float64 `json:"lower"`
	Upper         float64 `json:"upper"`
	Count         int     `json:"count"`
	MeanPredicted float64 `json:"mean_predicted"`
	ObservedRate  float64 `json:"observed_rate"`
}

// Calibrate bins outcomes by predicted probability into n equal-width
// buckets and returns them with the expected calibration error: the
// count-weighted mean gap between predicted and observed rates.
func Calibrate(outcomes []struggle.Outcome, n int) ([]Bucket, float64) {
	if n <= 0 {
		n = 10
	}
	buckets := make([]Bucket, n)
	sums := make([]float64, n)
	hits := make([]int, n)
	for i := range buckets {
		buckets[i].Lower = float64(i) / float64(n)
		buckets[i].Upper = float64(i+1) / float64(n)
	}
	for _, o := range outcomes {
		i := int(o.Probability * float64(n))
		if i >= n {
			i = n - 1
		}
		if i < 0 {
			i = 0
		}
		buckets[i].Count++
		sums[i] += o.Probability
		if o.Actual {
			hits[i]++
		}
	}

	var ece float64
	total := len(outcomes)
	for i := range buckets {
		if buckets[i].Count == 0 {
			continue
		}
		buckets[i].MeanPredicted = sums[i] / float64(buckets[i].Count)
		buckets[i].ObservedRate = float64(hits[i]) / float64(buckets[i].Count)
		ece += float64(buckets[i].Count) / float64(total) * math.Abs(buckets[i].MeanPredicted-buckets[i].ObservedRate)
	}
	return buckets, ece
}

// Evaluation is a model's score on a labeled test set.
type Evaluation struct {
	Confusion Confusion `json:"confusion"`
	F1        float64   `json:"f1"`
	Recall    float64   `json:"recall"`
	LogLoss   float64   `json:"log_loss"`
}

// Evaluate scores m on examples at the given decision threshold.
func Evaluate(m model.Model, examples []model.Example, threshold float64) Evaluation {
	var c Confusion
	for _, ex := range examples {
		c.Add(m.Predict(ex.Vector).Probability >= threshold, ex.Struggled)
	}
	return Evaluation{
		Confusion: c,
		F1:        c.F1(),
		Recall:    c.Recall(),
		LogLoss:   model.LogLoss(m, examples),
	}
}

// NonRegressive reports whether a candidate may replace the incumbent: its
// F1 is not lower, and on an F1 tie its log loss is not higher.
func NonRegressive(candidate, incumbent Evaluation) bool {
	const eps = 1e-9
	if candidate.F1 > incumbent.F1+eps {
		return true
	}
	if candidate.F1 < incumbent.F1-eps {
		return false
	}
	return candidate.LogLoss <= incumbent.LogLoss+eps
}

// ShouldRetrain is the retrain gate: true iff recall is below floor or at
// least minNew labeled examples arrived since the last training run.
func ShouldRetrain(recall float64, newLabeled int, floor float64, minNew int) bool {
	return recall < floor || newLabeled >= minNew
}
