package main

import (
	"regtoh5/internal/cli"

	// Register the HDF5 transform archive format
	_ "regtoh5/pkg/transformio/h5"
)

func main() {
	cli.Execute()
}
