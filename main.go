package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"usageexport/internal/app"
)

func main() {
	if err := app.Execute(); err != nil {
		logrus.WithError(err).Error("usage-export failed")
		os.Exit(1)
	}
}
