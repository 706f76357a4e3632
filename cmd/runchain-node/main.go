package main

import "runchainnet/cmd"

func main() {
	cmd.Execute()
}
