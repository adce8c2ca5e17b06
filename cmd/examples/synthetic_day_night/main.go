package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	cwgan "github.com/LdDl/cwgan-go"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
)

var (
	seed          = int64(1337)
	numSamples    = 16
	imgChannels   = 3
	imgHeight     = 16
	imgWidth      = 16
	numEpoches    = 20
	batchSize     = 4
	saveDirectory = "output/synthetic_day_night"
)

// printImage Prints mean of channels as ASCII art: the brighter pixel, the denser char
func printImage(title string, t *tensor.Dense) {
	ramp := []string{" ", ".", ":", "o", "O", "#"}
	data := t.Materialize().Data().([]float64)
	plane := imgHeight * imgWidth
	fmt.Println(title)
	for y := 0; y < imgHeight; y++ {
		fmt.Printf("\t")
		for x := 0; x < imgWidth; x++ {
			v := 0.0
			for c := 0; c < imgChannels; c++ {
				v += data[c*plane+y*imgWidth+x]
			}
			v /= float64(imgChannels)
			idx := int(v * float64(len(ramp)))
			if idx >= len(ramp) {
				idx = len(ramp) - 1
			}
			if idx < 0 {
				idx = 0
			}
			fmt.Printf("%s ", ramp[idx])
		}
		fmt.Println()
	}
}

func main() {
	logger := logrus.New()
	rng := rand.New(rand.NewSource(seed))

	trainSet, err := cwgan.GenerateSyntheticTrainSet(rng, numSamples, imgChannels, imgHeight, imgWidth)
	if err != nil {
		panic(err)
	}

	cfg := cwgan.DefaultConfig()
	cfg.SaveDirectory = saveDirectory
	cfg.Seed = seed
	cfg.Epochs = numEpoches
	cfg.BatchSize = batchSize
	cfg.ImageFrequency = 20
	cfg.LogImageFrequency = 20
	cfg.LogFrequency = 10
	cfg.GeneratorFrequency = 2
	cfg.ImageScale = 8
	cfg.Architecture.Channels = imgChannels
	cfg.Architecture.Height = imgHeight
	cfg.Architecture.Width = imgWidth
	cfg.Architecture.GeneratorBase = 8
	cfg.Architecture.CriticBase = 8
	cfg.Architecture.CriticHidden = 64

	model, err := cwgan.NewCGAN(cfg, rng)
	if err != nil {
		panic(err)
	}
	defer model.Close()

	trainer, err := cwgan.NewTrainer(cfg, model, trainSet, rng, cwgan.WithLogger(logger))
	if err != nil {
		panic(err)
	}
	st := time.Now()
	stats, err := trainer.Fit(context.Background())
	if err != nil {
		panic(err)
	}
	fmt.Printf("Trained in %v: %d critic updates, %d generator updates\n", time.Since(st), stats.CriticUpdates, stats.GeneratorUpdates)

	sample, err := trainSet.At(0)
	if err != nil {
		panic(err)
	}
	first, err := cwgan.LoadBatch(trainSet, []int{0})
	if err != nil {
		panic(err)
	}
	night, err := model.Generate(first.Conditions, cwgan.ModeEval)
	if err != nil {
		panic(err)
	}
	printImage("Day (condition):", sample.Day)
	printImage("Night (target):", sample.Night)
	printImage("Night (generated):", night)
}
