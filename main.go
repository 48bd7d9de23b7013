package main

import "github.com/qobs-build/ccbuild/cmd"

func main() {
	cmd.Execute()
}
