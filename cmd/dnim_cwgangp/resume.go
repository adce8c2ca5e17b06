package main

import (
	cwgan "github.com/LdDl/cwgan-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// resumeModel Loads parameters of both networks from checkpoint file
func resumeModel(model *cwgan.CGAN, fname string, logger *logrus.Logger) error {
	ckpt, err := cwgan.LoadCheckpoint(fname)
	if err != nil {
		return err
	}
	if err := ckpt.Restore(model); err != nil {
		return errors.Wrap(err, "Can't restore checkpoint")
	}
	logger.WithFields(logrus.Fields{
		"checkpoint": fname,
		"epoch":      ckpt.Epoch,
		"iteration":  ckpt.Iteration,
	}).Info("Training resumed")
	return nil
}
