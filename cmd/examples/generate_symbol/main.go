package main

import (
	"flag"
	"fmt"
	"math/rand"
	"strings"

	dcgan "github.com/LdDl/dcgan-go"
	"github.com/LdDl/dcgan-go/datasets"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	outputFolder  = "./output"
	symbolSide    = 16
	numSamples    = 96
	numEpoches    = 21
	evalEvery     = 5
	noiseFraction = 0.05
)

// symbols Three 8x8 glyphs which are upscaled to 16x16: 'H', 'X' and 'O'
var symbols = []string{
	"........" +
		".##..##." +
		".##..##." +
		".######." +
		".######." +
		".##..##." +
		".##..##." +
		"........",
	"........" +
		".#....#." +
		"..#..#.." +
		"...##..." +
		"...##..." +
		"..#..#.." +
		".#....#." +
		"........",
	"........" +
		"..####.." +
		".#....#." +
		".#....#." +
		".#....#." +
		".#....#." +
		"..####.." +
		"........",
}

// genSyntheticData Noisy copies of every symbol, label is index of symbol
func genSyntheticData(rng *rand.Rand, n int) (*datasets.ArrayDataset, error) {
	pixels := make([]uint8, 0, n*symbolSide*symbolSide)
	labels := make([]int, 0, n)
	for i := 0; i < n; i++ {
		label := i % len(symbols)
		glyph := symbols[label]
		for y := 0; y < symbolSide; y++ {
			for x := 0; x < symbolSide; x++ {
				on := glyph[(y/2)*8+x/2] == '#'
				if rng.Float64() < noiseFraction {
					on = !on
				}
				if on {
					pixels = append(pixels, 255)
				} else {
					pixels = append(pixels, 0)
				}
			}
		}
		labels = append(labels, label)
	}
	return datasets.NewArrayDataset("symbols", pixels, labels, symbolSide, symbolSide, 1, len(symbols), datasets.SamplingRandom)
}

func printSymbol(label int) {
	fmt.Printf("Reference symbol #%d:\n", label)
	glyph := symbols[label]
	for y := 0; y < 8; y++ {
		fmt.Printf("\t%s\n", strings.ReplaceAll(strings.ReplaceAll(glyph[y*8:(y+1)*8], ".", "0 "), "#", "1 "))
	}
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	// Initialize seed with constant value to reproduce results
	rng := rand.New(rand.NewSource(1337))
	for label := range symbols {
		printSymbol(label)
	}
	trainSet := must.M1(genSyntheticData(rng, numSamples))

	cfg := dcgan.DefaultConfig()
	cfg.Dataset = trainSet.Name()
	cfg.BatchSize = 8
	cfg.SampleNum = 4
	cfg.ImageSize = symbolSide
	cfg.Channels = 1
	cfg.ZDim = 16
	cfg.LabelDim = len(symbols)
	cfg.GFDim = 8
	cfg.DFDim = 8
	cfg.GFCDim = 64
	cfg.DFCDim = 64

	opts := dcgan.DefaultTrainOptions()
	opts.Epochs = numEpoches
	opts.EvalEvery = evalEvery
	opts.CheckpointEvery = evalEvery * 2
	opts.CheckpointDir = outputFolder + "/checkpoint"
	opts.SampleDir = outputFolder + "/samples"

	model := must.M1(dcgan.NewGAN(cfg))
	defer model.Close()

	trainer := must.M1(dcgan.NewTrainer(model, trainSet, opts))
	trainer.Checkpoints().Keep(2)
	must.M(trainer.Train())
	fmt.Printf("Finished after %d steps, previews are in %s\n", trainer.Counter()-1, opts.SampleDir)
}
