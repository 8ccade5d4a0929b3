// Package scorer provides the adaptive numeric predictor behind access
// decisions. A Scorer consumes a fixed-order feature vector and returns a
// probability-like score in [0,1].
//
// The feature-name ordering is frozen by the first training call and must
// not change for the lifetime of a Scorer instance; a reordering is a
// breaking change, not a transparent update. Prediction has a total
// contract: with no trained model, or on any internal fault, it returns
// the neutral score 0.5. The decision threshold (0.7) sits above neutral,
// so an untrained or faulting scorer always denies.
package scorer

import "context"

// Neutral is the score returned when no trained model exists or a fault
// occurs during prediction. It is an uninformative prior, deliberately
// below the decision threshold.
const Neutral = 0.5

// Features maps feature names to numeric values. Features absent from the
// map project to 0 at prediction time.
type Features map[string]float64

// Scorer is an adaptive predictor with a train/predict contract.
type Scorer interface {
	// Train fits the model against the given labeled feature sets. Labels
	// are 0 (deny) or 1 (allow). It returns false on empty input or any
	// training fault, leaving the previous model intact.
	Train(ctx context.Context, featureSets []Features, labels []int) bool

	// Predict returns the class-1 probability for the given features,
	// always in [0,1]. It never fails; see Neutral.
	Predict(ctx context.Context, features Features) float64
}
