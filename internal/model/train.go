package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/foresight/internal/features"
)

// ErrInsufficientTrainingData is the sentinel matched by errors.Is for every
// *InsufficientTrainingDataError.
var ErrInsufficientTrainingData = errors.New("insufficient training data")

// InsufficientTrainingDataError means a retrain was attempted with fewer
// labeled examples than required. Callers fall back to the rule-based model.
type InsufficientTrainingDataError struct {
	Have int
	Need int
}

func (e *InsufficientTrainingDataError) Error() string {
	return fmt.Sprintf("insufficient training data: have %d labeled examples, need %d", e.Have, e.Need)
}

func (e *InsufficientTrainingDataError) Is(target error) bool {
	return target == ErrInsufficientTrainingData
}

// Example is one labeled (vector, outcome) pair.
type Example struct {
	Vector    features.Vector
	Struggled bool
}

// TrainConfig holds classifier hyper-parameters.
type TrainConfig struct {
	MinExamples  int     `yaml:"min_examples" validate:"gte=1"`
	TestFraction float64 `yaml:"test_fraction" validate:"gt=0,lt=1"`
	Epochs       int     `yaml:"epochs" validate:"gte=1"`
	LearningRate float64 `yaml:"learning_rate" validate:"gt=0"`
	L2           float64 `yaml:"l2" validate:"gte=0"`
	Seed         uint64  `yaml:"seed"`
}

// DefaultTrainConfig returns the default hyper-parameters.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		MinExamples:  50,
		TestFraction: 0.2,
		Epochs:       400,
		LearningRate: 0.05,
		L2:           0.01,
		Seed:         42,
	}
}

// Split shuffles examples deterministically and splits them into train and
// test sets. The test set always has at least one example when there are
// two or more.
func Split(examples []Example, testFraction float64, seed uint64) (train, test []Example) {
	shuffled := make([]Example, len(examples))
	copy(shuffled, examples)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	nTest := int(math.Round(float64(len(shuffled)) * testFraction))
	if nTest == 0 && len(shuffled) > 1 {
		nTest = 1
	}
	return shuffled[nTest:], shuffled[:nTest]
}

// TrainLogistic fits a classifier with full-batch Adam on binary
// cross-entropy plus an L2 penalty on the weights (not the bias).
func TrainLogistic(train []Example, cfg TrainConfig, now time.Time) (*Logistic, error) {
	if len(train) == 0 {
		return nil, &InsufficientTrainingDataError{Have: 0, Need: cfg.MinExamples}
	}

	names := features.All()
	dim := len(names)
	xs := make([][]float64, len(train))
	ys := make([]float64, len(train))
	for i, ex := range train {
		xs[i] = ex.Vector.Slice()
		if ex.Struggled {
			ys[i] = 1
		}
	}

	// params[0..dim-1] are weights, params[dim] is the bias.
	params := make([]float64, dim+1)
	opt := newAdam(cfg.LearningRate, dim+1)
	grads := make([]float64, dim+1)
	n := float64(len(train))

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		for i := range grads {
			grads[i] = 0
		}
		for i, x := range xs {
			z := params[dim]
			for j := 0; j < dim; j++ {
				z += params[j] * x[j]
			}
			diff := sigmoid(z) - ys[i]
			for j := 0; j < dim; j++ {
				grads[j] += diff * x[j]
			}
			grads[dim] += diff
		}
		for j := 0; j < dim; j++ {
			grads[j] = grads[j]/n + cfg.L2*params[j]
		}
		grads[dim] /= n
		opt.update(params, grads)
	}

	weights := make(map[features.Name]float64, dim)
	for j, name := range names {
		weights[name] = params[j]
	}
	return NewLogistic(uuid.NewString(), weights, params[dim], cfg.L2, now, len(train)), nil
}

// LogLoss returns the mean binary cross-entropy of m on examples.
func LogLoss(m Model, examples []Example) float64 {
	if len(examples) == 0 {
		return 0
	}
	const clamp = 1e-7
	var total float64
	for _, ex := range examples {
		p := math.Max(clamp, math.Min(m.Predict(ex.Vector).Probability, 1-clamp))
		if ex.Struggled {
			total -= math.Log(p)
		} else {
			total -= math.Log(1 - p)
		}
	}
	return total / float64(len(examples))
}

// adam is the Adam optimizer with bias correction.
type adam struct {
	lr           float64
	beta1, beta2 float64
	eps          float64
	m, v         []float64
	step         int
}

func newAdam(lr float64, dim int) *adam {
	return &adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		m:     make([]float64, dim),
		v:     make([]float64, dim),
	}
}

func (a *adam) update(params, grads []float64) {
	a.step++
	c1 := 1 - math.Pow(a.beta1, float64(a.step))
	c2 := 1 - math.Pow(a.beta2, float64(a.step))
	for i, g := range grads {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g*g
		mHat := a.m[i] / c1
		vHat := a.v[i] / c2
		params[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
	}
}
