package main

import "github.com/wormhole-demo/verifier/cmd"

func main() {
	cmd.Execute()
}
