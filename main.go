package main

import "github.com/edgefleet/otawatch/cmd"

func main() {
	cmd.Execute()
}
