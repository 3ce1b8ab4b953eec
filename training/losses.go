package training

import (
	"github.com/pkg/errors"

	"github.com/scenewise/refinery/models"
	"github.com/scenewise/refinery/tensor"
)

const (
	labelFake = 0
	labelReal = 1
)

func constLabels(n, v int) []int {
	labels := make([]int, n)
	for i := range labels {
		labels[i] = v
	}
	return labels
}

// perceptualLoss averages the squared feature differences over the three
// perceptual layers.
func perceptualLoss(pred, gt *models.Features) (*tensor.Tensor, error) {
	pl := pred.Layers()
	gl := gt.Layers()
	var sum *tensor.Tensor
	for i := range pl {
		mse, err := tensor.MeanSquaredDiff(pl[i], gl[i])
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = mse
			continue
		}
		if sum, err = tensor.Add(sum, mse); err != nil {
			return nil, err
		}
	}
	return tensor.Affine(sum, 1/float32(len(pl)), 0)
}

// GeneratorLoss scores a refined prediction against the ground truth:
// weighted pixel L1, perceptual feature distance and the adversarial term
// (cross entropy against the "real" label on the discriminator's judgement
// of the prediction).
func GeneratorLoss(pred, gt, refineInput *tensor.Tensor, disc *models.Discriminator, perc *models.PerceptualExtractor, w LossWeights) (*tensor.Tensor, error) {
	pix, err := tensor.MeanAbsDiff(pred, gt)
	if err != nil {
		return nil, errors.Wrap(err, "pixel loss")
	}

	predFeats, err := perc.Extract(pred)
	if err != nil {
		return nil, errors.Wrap(err, "prediction features")
	}
	gtFeats, err := perc.Extract(gt)
	if err != nil {
		return nil, errors.Wrap(err, "ground-truth features")
	}
	per, err := perceptualLoss(predFeats, gtFeats)
	if err != nil {
		return nil, errors.Wrap(err, "perceptual loss")
	}

	logits, err := disc.Predict(refineInput, pred, predFeats)
	if err != nil {
		return nil, errors.Wrap(err, "adversarial judgement")
	}
	adv, err := tensor.SoftmaxCrossEntropy(logits, constLabels(pred.Shape[0], labelReal))
	if err != nil {
		return nil, errors.Wrap(err, "adversarial loss")
	}

	return weightedSum(
		[]*tensor.Tensor{pix, per, adv},
		[]float32{w.Pixel, w.Perceptual, w.Adversarial},
	)
}

// DiscriminatorLoss scores the discriminator on one generated/real pair:
// cross entropy with the generated image labelled fake and the ground truth
// labelled real, plus the classification accuracy over both.
func DiscriminatorLoss(refineInput, fake, real *tensor.Tensor, disc *models.Discriminator, perc *models.PerceptualExtractor) (*tensor.Tensor, float64, error) {
	n := fake.Shape[0]

	fakeFeats, err := perc.Extract(fake)
	if err != nil {
		return nil, 0, errors.Wrap(err, "generated features")
	}
	realFeats, err := perc.Extract(real)
	if err != nil {
		return nil, 0, errors.Wrap(err, "real features")
	}

	fakeLogits, err := disc.Predict(refineInput, fake, fakeFeats)
	if err != nil {
		return nil, 0, errors.Wrap(err, "judging generated")
	}
	realLogits, err := disc.Predict(refineInput, real, realFeats)
	if err != nil {
		return nil, 0, errors.Wrap(err, "judging real")
	}

	fakeLoss, err := tensor.SoftmaxCrossEntropy(fakeLogits, constLabels(n, labelFake))
	if err != nil {
		return nil, 0, err
	}
	realLoss, err := tensor.SoftmaxCrossEntropy(realLogits, constLabels(n, labelReal))
	if err != nil {
		return nil, 0, err
	}
	loss, err := weightedSum([]*tensor.Tensor{fakeLoss, realLoss}, []float32{0.5, 0.5})
	if err != nil {
		return nil, 0, err
	}

	fakeAcc, err := tensor.Accuracy(fakeLogits, constLabels(n, labelFake))
	if err != nil {
		return nil, 0, err
	}
	realAcc, err := tensor.Accuracy(realLogits, constLabels(n, labelReal))
	if err != nil {
		return nil, 0, err
	}
	return loss, (fakeAcc + realAcc) / 2, nil
}

func weightedSum(terms []*tensor.Tensor, weights []float32) (*tensor.Tensor, error) {
	var total *tensor.Tensor
	for i, term := range terms {
		scaled, err := tensor.Affine(term, weights[i], 0)
		if err != nil {
			return nil, err
		}
		if total == nil {
			total = scaled
			continue
		}
		if total, err = tensor.Add(total, scaled); err != nil {
			return nil, err
		}
	}
	return total, nil
}
