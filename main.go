package main

import "github.com/simonyos/mcpchat/cmd"

func main() {
	cmd.Execute()
}
