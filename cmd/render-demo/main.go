// Command render-demo runs the pretrained cascade over an annotation file
// and writes per-sample visibility, coarse and refined images.
package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/scenewise/refinery/checkpoints"
	"github.com/scenewise/refinery/dataset"
	"github.com/scenewise/refinery/logutil"
	"github.com/scenewise/refinery/models"
	"github.com/scenewise/refinery/projection"
	"github.com/scenewise/refinery/tensor"
)

type options struct {
	inputAttr string
	anns      string
	dataRoot  string

	vnetModel string
	cnetModel string
	rnetModel string
	expDir    string

	cropSize int
	limit    int
	outDir   string
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
		Use:           "render-demo",
		Short:         "render cascade predictions for an annotation file",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(&opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.inputAttr, "input-attr", "depth_sift", "point attributes fed to the cascade")
	f.StringVar(&opts.anns, "anns", "", "annotation file to render (required)")
	f.StringVar(&opts.dataRoot, "data-root", ".", "root the annotation paths are relative to")
	f.StringVar(&opts.vnetModel, "vnet-model", "", "visibility weights (default wts/vnet_<input-attr>.json)")
	f.StringVar(&opts.cnetModel, "cnet-model", "", "coarse weights (default wts/cnet_<input-attr>.json)")
	f.StringVar(&opts.rnetModel, "rnet-model", "", "refiner weights (default: newest checkpoint in exp-dir)")
	f.StringVar(&opts.expDir, "exp-dir", "wts", "experiment directory searched for refiner checkpoints")
	f.IntVar(&opts.cropSize, "crop-size", 256, "projection grid size")
	f.IntVar(&opts.limit, "limit", 0, "stop after this many samples (0 renders all)")
	f.StringVar(&opts.outDir, "out-dir", "demo", "directory the images are written to")

	cobra.CheckErr(cmd.MarkFlagRequired("anns"))
	return cmd
}

func run(opts *options) error {
	log, err := logutil.New("")
	if err != nil {
		return err
	}
	defer log.Sync()

	spec, err := projection.ParseInputSpec(opts.inputAttr)
	if err != nil {
		return err
	}
	if opts.vnetModel == "" {
		opts.vnetModel = filepath.Join("wts", fmt.Sprintf("vnet_%s.json", spec))
	}
	if opts.cnetModel == "" {
		opts.cnetModel = filepath.Join("wts", fmt.Sprintf("cnet_%s.json", spec))
	}
	if opts.rnetModel == "" {
		rt, err := checkpoints.NewTracker(checkpoints.Glob(opts.expDir, checkpoints.KindRefine))
		if err != nil {
			return err
		}
		if rt.Latest() == "" {
			return errors.Errorf("no refiner checkpoint in %s; pass --rnet-model", opts.expDir)
		}
		opts.rnetModel = rt.Latest()
	}

	rng := rand.New(rand.NewSource(1))
	cascade := &models.Cascade{
		Spec:   spec,
		Visib:  models.NewVisibNet(spec, rng),
		Coarse: models.NewCoarseNet(spec, rng),
		Refine: models.NewRefineNet(spec, rng),
	}
	for _, load := range []struct {
		stage models.Stage
		path  string
	}{
		{cascade.Visib, opts.vnetModel},
		{cascade.Coarse, opts.cnetModel},
		{cascade.Refine, opts.rnetModel},
	} {
		if err := load.stage.Load(load.path); err != nil {
			return err
		}
		load.stage.SetMode(models.Eval)
	}

	samples, err := dataset.LoadAnnotations(opts.anns)
	if err != nil {
		return err
	}
	if opts.limit > 0 && len(samples) > opts.limit {
		samples = samples[:opts.limit]
	}
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating output directory %s", opts.outDir)
	}

	loader := &projection.RawGridLoader{Root: opts.dataRoot, CropSize: opts.cropSize}
	ctx := context.Background()
	rendered := 0
	for i, s := range samples {
		ts, err := loader.LoadBatch(ctx, []dataset.Sample{s})
		if projection.IsDegenerate(err) {
			log.Infow("skipping sample with no valid points", "index", i, "gt", s.GTImage)
			continue
		}
		if err != nil {
			return err
		}
		out, err := cascade.CoarsePass(ts)
		if err != nil {
			return err
		}
		refined, err := cascade.RefinePass(out.RefineInput)
		if err != nil {
			return err
		}

		prefix := filepath.Join(opts.outDir, fmt.Sprintf("sample_%04d", i))
		if err := writePNG(prefix+"_visib.png", grayImage(out.VisProb)); err != nil {
			return err
		}
		if err := writePNG(prefix+"_coarse.png", rgbImage(out.CoarseDisplay)); err != nil {
			return err
		}
		if err := writePNG(prefix+"_refine.png", rgbImage(refined)); err != nil {
			return err
		}
		rendered++
	}
	log.Infow("done", "rendered", rendered, "out_dir", opts.outDir)
	return nil
}

func clampByte(v float32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// rgbImage converts a [1,H,W,3] display-range tensor to an image.
func rgbImage(t *tensor.Tensor) image.Image {
	h, w := t.Shape[1], t.Shape[2]
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			base := (y*w + x) * 3
			img.SetRGBA(x, y, color.RGBA{
				R: clampByte(t.Data[base]),
				G: clampByte(t.Data[base+1]),
				B: clampByte(t.Data[base+2]),
				A: 255,
			})
		}
	}
	return img
}

// grayImage converts a [1,H,W,1] probability map to an image.
func grayImage(t *tensor.Tensor) image.Image {
	h, w := t.Shape[1], t.Shape[2]
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: clampByte(t.Data[y*w+x] * 255)})
		}
	}
	return img
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "encoding %s", path)
	}
	return f.Close()
}
