package main

import "github.com/tanq16/packdl/cmd"

func main() {
	cmd.Execute()
}
