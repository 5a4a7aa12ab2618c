package main

import (
	"context"
	"os"

	"github.com/dmitrijs2005/studyrent/internal/rentctl"
)

func main() {
	os.Exit(rentctl.Execute(context.Background(), rentctl.NewRootCmd(rentctl.OpenApp), os.Stderr))
}
