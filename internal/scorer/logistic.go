package scorer

import (
	"context"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Logistic is a logistic-regression Scorer trained by batch gradient
// descent. It is CPU-bound with no I/O, so Predict is safe on the decision
// hot path. Train and Predict are serialised by an RWMutex: a Predict in
// flight during a Train sees either the pre- or post-training weights,
// never a half-updated model.
type Logistic struct {
	mu sync.RWMutex

	// featureNames is the frozen feature ordering, established by the
	// first feature set passed to Train. Nil until the first successful
	// training call.
	featureNames []string
	weights      []float64
	bias         float64
	trained      bool

	epochs       int
	learningRate float64
	logger       *zap.Logger
}

// NewLogistic creates an untrained Logistic scorer.
func NewLogistic(logger *zap.Logger) *Logistic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logistic{
		epochs:       200,
		learningRate: 0.1,
		logger:       logger,
	}
}

// Train implements Scorer. The first call freezes the feature ordering
// from the first feature set's keys; later calls retrain in place against
// that same ordering.
func (l *Logistic) Train(_ context.Context, featureSets []Features, labels []int) bool {
	if len(featureSets) == 0 || len(labels) == 0 || len(featureSets) != len(labels) {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.featureNames == nil {
		l.featureNames = sortedKeys(featureSets[0])
	}
	if len(l.featureNames) == 0 {
		return false
	}

	rows := make([][]float64, len(featureSets))
	for i, fs := range featureSets {
		rows[i] = l.project(fs)
	}

	weights := make([]float64, len(l.featureNames))
	bias := 0.0
	n := float64(len(rows))

	for epoch := 0; epoch < l.epochs; epoch++ {
		gradW := make([]float64, len(weights))
		gradB := 0.0
		for i, x := range rows {
			pred := sigmoid(dot(weights, x) + bias)
			err := pred - float64(labels[i])
			for j := range gradW {
				gradW[j] += err * x[j]
			}
			gradB += err
		}
		for j := range weights {
			weights[j] -= l.learningRate * gradW[j] / n
		}
		bias -= l.learningRate * gradB / n
	}

	for _, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			l.logger.Error("training diverged, keeping previous model",
				zap.Int("samples", len(rows)),
			)
			return false
		}
	}

	l.weights = weights
	l.bias = bias
	l.trained = true
	return true
}

// Predict implements Scorer.
func (l *Logistic) Predict(_ context.Context, features Features) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.trained {
		return Neutral
	}

	p := sigmoid(dot(l.weights, l.project(features)) + l.bias)
	if math.IsNaN(p) {
		l.logger.Error("prediction produced NaN, returning neutral score")
		return Neutral
	}
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// FeatureNames returns the frozen feature ordering, nil before first train.
func (l *Logistic) FeatureNames() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.featureNames))
	copy(out, l.featureNames)
	return out
}

// project maps a feature dict onto the frozen ordering. Missing features
// default to 0; unknown features are ignored.
func (l *Logistic) project(fs Features) []float64 {
	x := make([]float64, len(l.featureNames))
	for j, name := range l.featureNames {
		x[j] = fs[name]
	}
	return x
}

// sortedKeys returns the map's keys in lexical order. Go map iteration is
// randomised, so sorting is what makes the frozen feature ordering
// deterministic across process restarts.
func sortedKeys(fs Features) []string {
	keys := make([]string, 0, len(fs))
	for k := range fs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}
