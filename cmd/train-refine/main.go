// Command train-refine trains the refinement stage of the cascade
// adversarially against a discriminator, resuming from the newest
// checkpoints in the experiment directory.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/scenewise/refinery/checkpoints"
	"github.com/scenewise/refinery/dataset"
	"github.com/scenewise/refinery/logutil"
	"github.com/scenewise/refinery/models"
	"github.com/scenewise/refinery/optimizer"
	"github.com/scenewise/refinery/projection"
	"github.com/scenewise/refinery/training"
)

type options struct {
	inputAttr string
	trnAnns   string
	valAnns   string
	dataRoot  string

	vnetModel  string
	cnetModel  string
	vgg16Model string

	batchSize int
	cropSize  int
	scaleSize int
	pctMin    float64
	pctMax    float64

	pixWeight  float64
	perWeight  float64
	advWeight  float64
	discThresh float64

	maxIter   int
	logFreq   int
	chkptFreq int
	saveFreq  int
	keepLast  int
	valFreq   int
	valIter   int

	adamLR  float64
	adamMom float64
	adamEps float64

	seed    int64
	logFile string
	expDir  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "train-refine",
		Short:         "adversarial training of the image-refinement stage",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(&opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.inputAttr, "input-attr", "depth_sift", "point attributes fed to the cascade (depth, depth_sift, depth_rgb, depth_sift_rgb)")
	f.StringVar(&opts.trnAnns, "trn-anns", "", "training annotation file (required)")
	f.StringVar(&opts.valAnns, "val-anns", "", "validation annotation file (empty disables validation)")
	f.StringVar(&opts.dataRoot, "data-root", ".", "root the annotation paths are relative to")
	f.StringVar(&opts.vnetModel, "vnet-model", "", "pretrained visibility weights (default wts/vnet_<input-attr>.json)")
	f.StringVar(&opts.cnetModel, "cnet-model", "", "pretrained coarse weights (default wts/cnet_<input-attr>.json)")
	f.StringVar(&opts.vgg16Model, "vgg16-model", filepath.Join("wts", "vgg16.json"), "pretrained perceptual feature weights")
	f.IntVar(&opts.batchSize, "batch-size", 4, "samples per batch")
	f.IntVar(&opts.cropSize, "crop-size", 256, "training crop size")
	f.IntVar(&opts.scaleSize, "scale-size", 296, "projection grid size crops are taken from")
	f.Float64Var(&opts.pctMin, "pct-3d-points-min", 5, "minimum percentage of points kept by dropout augmentation")
	f.Float64Var(&opts.pctMax, "pct-3d-points-max", 100, "maximum percentage of points kept by dropout augmentation")
	f.Float64Var(&opts.pixWeight, "pix-loss-weight", 1, "pixel L1 loss weight")
	f.Float64Var(&opts.perWeight, "per-loss-weight", 1, "perceptual loss weight")
	f.Float64Var(&opts.advWeight, "adv-loss-weight", 1, "adversarial loss weight")
	f.Float64Var(&opts.discThresh, "disc-loss-thresh", 0.5, "discriminator loss below which only the generator trains")
	f.IntVar(&opts.maxIter, "max-iter", 250000, "iteration to stop at")
	f.IntVar(&opts.logFreq, "log-freq", 1000, "iterations between log lines")
	f.IntVar(&opts.chkptFreq, "chkpt-freq", 10000, "iterations between checkpoint saves")
	f.IntVar(&opts.saveFreq, "save-freq", 50000, "iteration multiple kept permanently by retention")
	f.IntVar(&opts.keepLast, "keep-last", 1, "recent checkpoints kept besides permanent ones")
	f.IntVar(&opts.valFreq, "val-freq", 10000, "iterations between validation passes")
	f.IntVar(&opts.valIter, "val-iter", 64, "batches per validation pass")
	f.Float64Var(&opts.adamLR, "adam-lr", 1e-4, "Adam learning rate")
	f.Float64Var(&opts.adamMom, "adam-mom", 0.9, "Adam first-moment decay")
	f.Float64Var(&opts.adamEps, "adam-eps", 1e-8, "Adam epsilon")
	f.Int64Var(&opts.seed, "seed", 1234, "batch shuffle seed")
	f.StringVar(&opts.logFile, "log-file", "", "redirect logs to this file")
	f.StringVar(&opts.expDir, "exp-dir", "wts", "experiment directory for checkpoints")

	cobra.CheckErr(cmd.MarkFlagRequired("trn-anns"))
	return cmd
}

func run(opts *options) error {
	training.ApplyThreadLimit()

	log, err := logutil.New(opts.logFile)
	if err != nil {
		return err
	}
	defer log.Sync()

	spec, err := projection.ParseInputSpec(opts.inputAttr)
	if err != nil {
		return err
	}
	if opts.scaleSize < opts.cropSize {
		return errors.Errorf("scale-size %d is smaller than crop-size %d", opts.scaleSize, opts.cropSize)
	}
	if opts.vnetModel == "" {
		opts.vnetModel = filepath.Join("wts", fmt.Sprintf("vnet_%s.json", spec))
	}
	if opts.cnetModel == "" {
		opts.cnetModel = filepath.Join("wts", fmt.Sprintf("cnet_%s.json", spec))
	}

	log.Infow("resolved arguments",
		"input_attr", spec.String(), "trn_anns", opts.trnAnns, "val_anns", opts.valAnns,
		"data_root", opts.dataRoot, "vnet_model", opts.vnetModel, "cnet_model", opts.cnetModel,
		"vgg16_model", opts.vgg16Model, "batch_size", opts.batchSize, "crop_size", opts.cropSize,
		"scale_size", opts.scaleSize, "pct_3d_points", fmt.Sprintf("[%g,%g]", opts.pctMin, opts.pctMax),
		"loss_weights", fmt.Sprintf("pix=%g per=%g adv=%g", opts.pixWeight, opts.perWeight, opts.advWeight),
		"disc_loss_thresh", opts.discThresh, "max_iter", opts.maxIter,
		"log_freq", opts.logFreq, "chkpt_freq", opts.chkptFreq, "save_freq", opts.saveFreq,
		"val_freq", opts.valFreq, "val_iter", opts.valIter,
		"adam", fmt.Sprintf("lr=%g mom=%g eps=%g", opts.adamLR, opts.adamMom, opts.adamEps),
		"seed", opts.seed, "exp_dir", opts.expDir,
	)

	rng := rand.New(rand.NewSource(opts.seed))
	cascade := &models.Cascade{
		Spec:   spec,
		Visib:  models.NewVisibNet(spec, rng),
		Coarse: models.NewCoarseNet(spec, rng),
		Refine: models.NewRefineNet(spec, rng),
	}
	// Pretrained front of the cascade stays frozen in eval mode.
	if err := cascade.Visib.Load(opts.vnetModel); err != nil {
		return err
	}
	if err := cascade.Coarse.Load(opts.cnetModel); err != nil {
		return err
	}
	cascade.Visib.SetMode(models.Eval)
	cascade.Coarse.SetMode(models.Eval)

	perceptual := models.NewPerceptualExtractor(rng)
	if err := perceptual.Load(opts.vgg16Model); err != nil {
		return err
	}
	disc := models.NewDiscriminator(spec, rng)

	adam := optimizer.AdamConfig{LR: opts.adamLR, Beta1: opts.adamMom, Beta2: 0.999, Epsilon: opts.adamEps}
	trainer := &training.Trainer{
		Cascade:    cascade,
		Disc:       disc,
		Perceptual: perceptual,
		GenOpt:     optimizer.NewAdam(cascade.Refine.NamedParameters(), adam),
		DiscOpt:    optimizer.NewAdam(disc.NamedParameters(), adam),
		Weights: training.LossWeights{
			Pixel:       float32(opts.pixWeight),
			Perceptual:  float32(opts.perWeight),
			Adversarial: float32(opts.advWeight),
		},
		DiscLossThresh: opts.discThresh,
	}

	rt, err := checkpoints.NewTracker(checkpoints.Glob(opts.expDir, checkpoints.KindRefine))
	if err != nil {
		return err
	}
	dt, err := checkpoints.NewTracker(checkpoints.Glob(opts.expDir, checkpoints.KindDiscriminator))
	if err != nil {
		return err
	}
	ot, err := checkpoints.NewTracker(checkpoints.Glob(opts.expDir, checkpoints.KindOptimizer))
	if err != nil {
		return err
	}

	cfg := training.Config{
		Spec:           spec,
		BatchSize:      opts.batchSize,
		CropSize:       opts.cropSize,
		DiscLossThresh: opts.discThresh,
		MaxIter:        opts.maxIter,
		LogFreq:        opts.logFreq,
		ChkptFreq:      opts.chkptFreq,
		SaveFreq:       opts.saveFreq,
		KeepLast:       opts.keepLast,
		ValFreq:        opts.valFreq,
		ValIter:        opts.valIter,
		Adam:           adam,
		ExpDir:         opts.expDir,
	}
	cfg.Weights = trainer.Weights

	loop := &training.Loop{
		Cfg:           cfg,
		Log:           log,
		Trainer:       trainer,
		RefineTracker: rt,
		DiscTracker:   dt,
		OptTracker:    ot,
	}
	start, err := loop.Resume()
	if err != nil {
		return err
	}
	if start > 0 {
		log.Infow("resuming from checkpoint", "iter", start)
	}

	loop.Loader = &projection.RawGridLoader{
		Root:     opts.dataRoot,
		GridSize: opts.scaleSize,
		CropSize: opts.cropSize,
		Augment: &projection.Augmentation{
			PctPointsMin: opts.pctMin,
			PctPointsMax: opts.pctMax,
			Rng:          rng,
		},
	}
	loop.TrainSource, err = dataset.NewBatchSource(opts.trnAnns, opts.batchSize, start, opts.seed)
	if err != nil {
		return err
	}
	if opts.valAnns != "" {
		loop.ValSource, err = dataset.NewBatchSource(opts.valAnns, opts.batchSize, 0, opts.seed+1)
		if err != nil {
			return err
		}
	}

	ctx := context.Background()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sigs
		log.Infow("signal received, finishing current iteration", "signal", s.String())
		loop.RequestStop()
	}()

	return loop.Run(ctx, start)
}
