package main

import "github.com/parlab/blockla/cmd"

func main() {
	cmd.Execute()
}
