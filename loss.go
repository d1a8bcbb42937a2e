package dcgan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

type LossReduction uint16

const (
	LossReductionSum = LossReduction(iota)
	LossReductionMean
)

// SigmoidCrossEntropyWithLogits Binary cross entropy of sigmoid(logits) against constant target (0 or 1).
// Computed as softplus(-x) for target 1 and softplus(x) for target 0, so large logits never produce log(0).
// Default reduction is 'mean'
func SigmoidCrossEntropyWithLogits(logits *gorgonia.Node, target float64, reduction ...LossReduction) (*gorgonia.Node, error) {
	var x *gorgonia.Node
	var err error
	switch target {
	case 1:
		x, err = gorgonia.Neg(logits)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do -1*x")
		}
	case 0:
		x = logits
	default:
		return nil, fmt.Errorf("Target %f is not supported, only 0 and 1 are", target)
	}
	sp, err := gorgonia.Softplus(x)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do log(1+exp(x))")
	}
	reductionDefault := LossReductionMean
	if len(reduction) != 0 {
		reductionDefault = reduction[0]
	}
	switch reductionDefault {
	case LossReductionSum:
		return gorgonia.Sum(sp)
	case LossReductionMean:
		return gorgonia.Mean(sp)
	default:
		return nil, fmt.Errorf("Reduction type %d is not supported", reductionDefault)
	}
}

// DiscriminatorLoss Returns real part, fake part and their plain sum (terms are not averaged)
func DiscriminatorLoss(realLogits, fakeLogits *gorgonia.Node) (realLoss, fakeLoss, total *gorgonia.Node, err error) {
	realLoss, err = SigmoidCrossEntropyWithLogits(realLogits, 1)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "Can't define discriminator loss on real images")
	}
	gorgonia.WithName("d_loss_real")(realLoss)
	fakeLoss, err = SigmoidCrossEntropyWithLogits(fakeLogits, 0)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "Can't define discriminator loss on generated images")
	}
	gorgonia.WithName("d_loss_fake")(fakeLoss)
	total, err = gorgonia.Add(realLoss, fakeLoss)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "Can't do (real+fake)")
	}
	gorgonia.WithName("d_loss")(total)
	return realLoss, fakeLoss, total, nil
}

// GeneratorLoss Generator is rewarded when discriminator calls generated images real
func GeneratorLoss(fakeLogits *gorgonia.Node) (*gorgonia.Node, error) {
	loss, err := SigmoidCrossEntropyWithLogits(fakeLogits, 1)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define generator loss")
	}
	gorgonia.WithName("g_loss")(loss)
	return loss, nil
}
