package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/pezi/treedb/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logrus.WithError(err).Error("treedb failed")
		os.Exit(1)
	}
}
