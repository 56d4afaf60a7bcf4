// Package main is the entry point for the ilpatch CLI.
package main

import "ilpatch.dev/pkg/ilpatch/cmd"

func main() {
	cmd.Execute()
}
