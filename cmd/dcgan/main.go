package main

import (
	"flag"
	"math"

	dcgan "github.com/LdDl/dcgan-go"
	"github.com/LdDl/dcgan-go/datasets"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	defaults     = dcgan.DefaultConfig()
	trainOptions = dcgan.DefaultTrainOptions()

	flagEpochs       = flag.Int("epoch", trainOptions.Epochs, "Epochs to train")
	flagLearningRate = flag.Float64("learning_rate", trainOptions.LearningRate, "Learning rate of Adam")
	flagBeta1        = flag.Float64("beta1", trainOptions.Beta1, "Momentum term of Adam")
	flagTrainSize    = flag.Int("train_size", math.MaxInt32, "Upper bound of examples used per epoch")
	flagBatchSize    = flag.Int("batch_size", defaults.BatchSize, "Batch size")
	flagSampleNum    = flag.Int("sample_num", defaults.SampleNum, "Preview samples per label value")
	flagImageSize    = flag.Int("input_height", defaults.ImageSize, "Side of square images")
	flagChannels     = flag.Int("c_dim", defaults.Channels, "Image channels: 1 or 3")
	flagDataset      = flag.String("dataset", defaults.Dataset, "Dataset name: mnist, pokemon/..., or folder under data_dir")
	flagPattern      = flag.String("input_fname_pattern", "*.jpg", "Glob pattern of image files")
	flagDataDir      = flag.String("data_dir", "./data", "Root directory of datasets")
	flagCheckpoint   = flag.String("checkpoint_dir", trainOptions.CheckpointDir, "Directory to save checkpoints")
	flagSampleDir    = flag.String("sample_dir", trainOptions.SampleDir, "Directory to save preview images and metrics")
	flagKeep         = flag.Int("keep", -1, "Number of checkpoints to keep, -1 keeps all")
	flagLabelDim     = flag.Int("y_dim", defaults.LabelDim, "Number of label classes, 0 disables conditioning")
	flagZDim         = flag.Int("z_dim", defaults.ZDim, "Latent vector size")
	flagModel        = flag.String("model", defaults.Model, "Architecture: fc, cond or dcgan-default")
	flagGFDim        = flag.Int("gf_dim", defaults.GFDim, "Generator filters in first conv layer")
	flagDFDim        = flag.Int("df_dim", defaults.DFDim, "Discriminator filters in first conv layer")
	flagGFCDim       = flag.Int("gfc_dim", defaults.GFCDim, "Generator fully connected units")
	flagDFCDim       = flag.Int("dfc_dim", defaults.DFCDim, "Discriminator fully connected units")
	flagSeed         = flag.Int64("seed", trainOptions.Seed, "Seed of latent vectors and batch sampling")
	flagEvalEvery    = flag.Int("eval_every", trainOptions.EvalEvery, "Evaluate and sample every N epochs")
	flagCkptEvery    = flag.Int("checkpoint_every", trainOptions.CheckpointEvery, "Save checkpoint every N epochs")
	flagProgress     = flag.Bool("progress", true, "Show progress bar")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	cfg := defaults
	cfg.Dataset = *flagDataset
	cfg.BatchSize = *flagBatchSize
	cfg.SampleNum = *flagSampleNum
	cfg.ImageSize = *flagImageSize
	cfg.Channels = *flagChannels
	cfg.ZDim = *flagZDim
	cfg.LabelDim = *flagLabelDim
	cfg.Model = *flagModel
	cfg.GFDim = *flagGFDim
	cfg.DFDim = *flagDFDim
	cfg.GFCDim = *flagGFCDim
	cfg.DFCDim = *flagDFCDim

	opts := trainOptions
	opts.Epochs = *flagEpochs
	opts.TrainSize = *flagTrainSize
	opts.LearningRate = *flagLearningRate
	opts.Beta1 = *flagBeta1
	opts.CheckpointDir = *flagCheckpoint
	opts.SampleDir = *flagSampleDir
	opts.EvalEvery = *flagEvalEvery
	opts.CheckpointEvery = *flagCkptEvery
	opts.Seed = *flagSeed
	opts.ShowProgress = *flagProgress

	data := must.M1(datasets.Open(cfg.Dataset, datasets.Options{
		DataDir:   *flagDataDir,
		Pattern:   *flagPattern,
		ImageSize: cfg.ImageSize,
		Channels:  cfg.Channels,
		LabelDim:  cfg.LabelDim,
	}))

	model := must.M1(dcgan.NewGAN(cfg))
	defer func() {
		if err := model.Close(); err != nil {
			klog.Errorf("Can't release model: %v", err)
		}
	}()

	trainer := must.M1(dcgan.NewTrainer(model, data, opts))
	trainer.Checkpoints().Keep(*flagKeep)
	klog.Infof("Training %s on '%s', checkpoints in %s", cfg.Variant(), data.Name(), trainer.Checkpoints())
	must.M(trainer.Train())
	klog.Infof("Done: %d steps", trainer.Counter()-1)
}
