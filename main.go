package main

import "github.com/audiolibrelab/mixcapture/cmd"

func main() {
	cmd.Execute()
}
