package dcgan_go

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// BinaryCrossEntropyWithLogits Mean binary cross entropy of sigmoid(logits) against constant target in {0, 1}
func BinaryCrossEntropyWithLogits(logits []float64, target float64) float64 {
	if len(logits) == 0 {
		return 0
	}
	losses := make([]float64, len(logits))
	for i, x := range logits {
		// max(x,0) - x*t + log(1+exp(-|x|))
		losses[i] = math.Max(x, 0) - x*target + math.Log1p(math.Exp(-math.Abs(x)))
	}
	return floats.Sum(losses) / float64(len(losses))
}

// Accuracy Fraction of probabilities equal to target after rounding half to even (0.5 counts as 0)
func Accuracy(probs []float64, target float64) float64 {
	if len(probs) == 0 {
		return 0
	}
	hits := 0
	for _, p := range probs {
		if math.RoundToEven(p) == target {
			hits++
		}
	}
	return float64(hits) / float64(len(probs))
}

// Losses Scalars reported on every evaluation
type Losses struct {
	Generator         float64
	DiscriminatorFake float64
	DiscriminatorReal float64
	AccuracyReal      float64
	AccuracyFake      float64
}

// Discriminator Sum of real and fake parts
func (l Losses) Discriminator() float64 {
	return l.DiscriminatorReal + l.DiscriminatorFake
}

// ComputeLosses Evaluates every loss and accuracy from raw discriminator outputs
//
// realLogits, fakeLogits - discriminator logits for real and generated images
// realProbs, fakeProbs - sigmoid of those logits
//
func ComputeLosses(realLogits, fakeLogits, realProbs, fakeProbs []float64) Losses {
	return Losses{
		Generator:         BinaryCrossEntropyWithLogits(fakeLogits, 1),
		DiscriminatorFake: BinaryCrossEntropyWithLogits(fakeLogits, 0),
		DiscriminatorReal: BinaryCrossEntropyWithLogits(realLogits, 1),
		AccuracyReal:      Accuracy(realProbs, 1),
		AccuracyFake:      Accuracy(fakeProbs, 0),
	}
}

// Finite Whether every loss is a finite number
func (l Losses) Finite() bool {
	for _, v := range []float64{l.Generator, l.DiscriminatorFake, l.DiscriminatorReal, l.AccuracyReal, l.AccuracyFake} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// CSV Line for curve file: g, d_fake, d_real, acc_real, acc_fake (no trailing newline)
func (l Losses) CSV() string {
	fields := []float64{l.Generator, l.DiscriminatorFake, l.DiscriminatorReal, l.AccuracyReal, l.AccuracyFake}
	parts := make([]string, len(fields))
	for i, v := range fields {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (l Losses) String() string {
	return fmt.Sprintf("d_loss: %.8f, g_loss: %.8f, d_real: %.8f, d_fake: %.8f, acc_real: %.4f, acc_fake: %.4f",
		l.Discriminator(), l.Generator, l.DiscriminatorReal, l.DiscriminatorFake, l.AccuracyReal, l.AccuracyFake)
}
