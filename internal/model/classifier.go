package model

import (
	"fmt"
	"math"
)

// Classifier is the frozen probability-of-default model.
type Classifier interface {
	// Predict returns 1 (default) or 0 (no default).
	Predict(x FeatureVector) int

	// PredictProbability returns the probability of class 1.
	PredictProbability(x FeatureVector) float64

	// Kind names the model family.
	Kind() string
}

// Classifier kinds accepted in a bundle.
const (
	KindLogistic         = "logistic"
	KindGradientBoosting = "gradient_boosting"
)

// decisionBoundary matches the fitted estimators: class 1 only when its
// probability is strictly greater than one half.
const decisionBoundary = 0.5

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	ez := math.Exp(z)
	return ez / (1 + ez)
}

func predictFromProbability(p float64) int {
	if p > decisionBoundary {
		return 1
	}
	return 0
}

// LogisticClassifier is a binary logistic regression.
type LogisticClassifier struct {
	coefficients FeatureVector
	intercept    float64
}

// NewLogisticClassifier validates fitted weights.
func NewLogisticClassifier(coefficients []float64, intercept float64) (*LogisticClassifier, error) {
	if len(coefficients) != FeatureCount {
		return nil, fmt.Errorf("logistic classifier expects %d coefficients, got %d", FeatureCount, len(coefficients))
	}
	c := &LogisticClassifier{intercept: intercept}
	for i, w := range coefficients {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("coefficient for %s is not finite", FeatureOrder[i])
		}
		c.coefficients[i] = w
	}
	if math.IsNaN(intercept) || math.IsInf(intercept, 0) {
		return nil, fmt.Errorf("intercept is not finite")
	}
	return c, nil
}

func (c *LogisticClassifier) decision(x FeatureVector) float64 {
	z := c.intercept
	for i, w := range c.coefficients {
		z += w * x[i]
	}
	return z
}

// PredictProbability implements Classifier.
func (c *LogisticClassifier) PredictProbability(x FeatureVector) float64 {
	return sigmoid(c.decision(x))
}

// Predict implements Classifier.
func (c *LogisticClassifier) Predict(x FeatureVector) int {
	return predictFromProbability(c.PredictProbability(x))
}

// Kind implements Classifier.
func (c *LogisticClassifier) Kind() string { return KindLogistic }

// TreeNode is one node of a regression tree. Leaves carry Value; split nodes
// send x[Feature] <= Threshold to Left and everything else to Right.
type TreeNode struct {
	Leaf      bool    `json:"leaf,omitempty" yaml:"leaf,omitempty" msgpack:"leaf,omitempty"`
	Value     float64 `json:"value,omitempty" yaml:"value,omitempty" msgpack:"value,omitempty"`
	Feature   int     `json:"feature,omitempty" yaml:"feature,omitempty" msgpack:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold,omitempty" msgpack:"threshold,omitempty"`
	Left      int     `json:"left,omitempty" yaml:"left,omitempty" msgpack:"left,omitempty"`
	Right     int     `json:"right,omitempty" yaml:"right,omitempty" msgpack:"right,omitempty"`
}

// Tree is a flattened regression tree rooted at index 0.
type Tree struct {
	Nodes []TreeNode `json:"nodes" yaml:"nodes" msgpack:"nodes"`
}

func (t Tree) validate(idx int) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("tree %d has no nodes", idx)
	}
	for i, n := range t.Nodes {
		if n.Leaf {
			if math.IsNaN(n.Value) || math.IsInf(n.Value, 0) {
				return fmt.Errorf("tree %d node %d: leaf value is not finite", idx, i)
			}
			continue
		}
		if n.Feature < 0 || n.Feature >= FeatureCount {
			return fmt.Errorf("tree %d node %d: feature %d out of range", idx, i, n.Feature)
		}
		// Children always follow their parent, so traversal terminates.
		if n.Left <= i || n.Left >= len(t.Nodes) || n.Right <= i || n.Right >= len(t.Nodes) {
			return fmt.Errorf("tree %d node %d: invalid children %d/%d", idx, i, n.Left, n.Right)
		}
	}
	return nil
}

func (t Tree) predict(x FeatureVector) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// GradientBoostingClassifier is a binary log-loss gradient boosted ensemble.
type GradientBoostingClassifier struct {
	initScore    float64
	learningRate float64
	trees        []Tree
}

// NewGradientBoostingClassifier validates the ensemble structure.
func NewGradientBoostingClassifier(initScore, learningRate float64, trees []Tree) (*GradientBoostingClassifier, error) {
	if len(trees) == 0 {
		return nil, fmt.Errorf("gradient boosting classifier has no trees")
	}
	if learningRate <= 0 || math.IsNaN(learningRate) || math.IsInf(learningRate, 0) {
		return nil, fmt.Errorf("learning rate must be positive, got %v", learningRate)
	}
	for i, t := range trees {
		if err := t.validate(i); err != nil {
			return nil, err
		}
	}
	return &GradientBoostingClassifier{
		initScore:    initScore,
		learningRate: learningRate,
		trees:        trees,
	}, nil
}

func (c *GradientBoostingClassifier) decision(x FeatureVector) float64 {
	raw := c.initScore
	for _, t := range c.trees {
		raw += c.learningRate * t.predict(x)
	}
	return raw
}

// PredictProbability implements Classifier.
func (c *GradientBoostingClassifier) PredictProbability(x FeatureVector) float64 {
	return sigmoid(c.decision(x))
}

// Predict implements Classifier.
func (c *GradientBoostingClassifier) Predict(x FeatureVector) int {
	return predictFromProbability(c.PredictProbability(x))
}

// Kind implements Classifier.
func (c *GradientBoostingClassifier) Kind() string { return KindGradientBoosting }
