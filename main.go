package main

import "token-tally/cmd"

func main() {
	cmd.Execute()
}
