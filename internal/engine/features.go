package engine

import (
	"hash/fnv"

	"github.com/tessera-sec/gatewise/internal/scorer"
)

// Feature names fed to the scorer. The set and its meaning are part of the
// trained model's contract: changing them invalidates existing models.
const (
	FeatureRiskScore    = "risk_score"
	FeatureDataType     = "data_type"
	FeatureActionType   = "action_type"
	FeatureContextScore = "context_score"
)

// AssembleFeatures encodes one access request as a feature vector:
// the context risk score, stable numeric buckets for the data type and
// action identifiers, and a context-richness measure.
func AssembleFeatures(riskScore float64, dataType, action string, attributeCount int) scorer.Features {
	return scorer.Features{
		FeatureRiskScore:    riskScore,
		FeatureDataType:     bucket(dataType),
		FeatureActionType:   bucket(action),
		FeatureContextScore: float64(attributeCount) / 10.0,
	}
}

// bucket maps a string identifier to a stable value in [0,100). FNV-1a is
// deterministic across processes, unlike the runtime's seeded map hash, so
// models survive restarts.
func bucket(s string) float64 {
	h := fnv.New32a()
	h.Write([]byte(s)) //nolint:errcheck
	return float64(h.Sum32() % 100)
}
