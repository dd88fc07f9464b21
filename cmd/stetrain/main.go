// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

// stetrain trains the straight-through MNIST classifier.
//
// Usage:
//
//	stetrain -quant multi -values 16 -epochs 5 -data ./data
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	nn "github.com/fumi-engineer/straight_through/go"
	"github.com/fumi-engineer/straight_through/go/datasets/mnist"
)

func main() {
	var (
		dataDir   = flag.String("data", "data", "directory for MNIST files (downloaded if missing)")
		quant     = flag.String("quant", "multi", "quantization mode: none, binary or multi")
		numValues = flag.Int("values", 16, "anchor count for multi quantization")
		hidden    = flag.Int("hidden", 256, "hidden layer width")
		epochs    = flag.Int("epochs", 5, "training epochs")
		batchSize = flag.Int("batch", 64, "batch size")
		lr        = flag.Float64("lr", 1e-3, "peak learning rate")
		seed      = flag.Int64("seed", 42, "random seed for shuffling")
	)
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if err := run(*dataDir, *quant, *numValues, *hidden, *epochs, *batchSize, float32(*lr), *seed); err != nil {
		fmt.Fprintf(os.Stderr, "stetrain: %v\n", err)
		os.Exit(1)
	}
}

func run(dataDir, quant string, numValues, hidden, epochs, batchSize int, lr float32, seed int64) error {
	mode, err := nn.ParseQuantization(quant)
	if err != nil {
		return err
	}

	train, err := mnist.Load(dataDir, true)
	if err != nil {
		return err
	}
	test, err := mnist.Load(dataDir, false)
	if err != nil {
		return err
	}

	cfg := nn.MNIST()
	cfg.HiddenDim = hidden
	cfg.Quantization = mode
	cfg.NumValues = numValues
	model := nn.NewClassifier(cfg)
	fmt.Printf("classifier: quant=%s hidden=%d params=%s\n",
		mode, hidden, humanize.Comma(int64(model.NumParams())))

	tcfg := nn.DefaultTrainConfig()
	tcfg.LearningRate = lr
	stepsPerEpoch := train.Len() / batchSize
	tcfg.MaxSteps = stepsPerEpoch * epochs
	trainer := nn.NewTrainer(model, tcfg)

	rng := rand.New(rand.NewSource(seed))
	for epoch := 1; epoch <= epochs; epoch++ {
		train.Shuffle(rng)
		bar := progressbar.Default(int64(stepsPerEpoch), fmt.Sprintf("epoch %d/%d", epoch, epochs))
		lossSum := float32(0)
		for step := 0; step < stepsPerEpoch; step++ {
			inputs, targets := train.Batch(step*batchSize, batchSize)
			lossSum += trainer.TrainStep(inputs, targets)
			bar.Add(1)
		}
		bar.Finish()

		acc := evaluate(model, test, batchSize)
		fmt.Printf("epoch %d: loss %.4f, test accuracy %.2f%%\n",
			epoch, lossSum/float32(stepsPerEpoch), acc*100)
	}
	return nil
}

// evaluate computes accuracy over the full test split in batches, so the
// tape never holds more than one batch of activations.
func evaluate(model *nn.Classifier, test *mnist.Dataset, batchSize int) float32 {
	correct, total := 0, 0
	for start := 0; start+batchSize <= test.Len(); start += batchSize {
		inputs, targets := test.Batch(start, batchSize)
		for i, p := range model.Predict(inputs) {
			if p == targets[i] {
				correct++
			}
			total++
		}
	}
	return float32(correct) / float32(total)
}
