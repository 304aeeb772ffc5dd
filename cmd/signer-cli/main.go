package main

import "signer-core/cmd/signer-cli/cmd"

func main() {
	cmd.Execute()
}
