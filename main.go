package main

import "github.com/andresmejia3/livecapture/cmd"

func main() {
	cmd.Execute()
}
