package main

import "rtcall/cmd"

func main() {
	cmd.Execute()
}
