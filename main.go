package main

import "tasktracker/cmd"

func main() {
	cmd.Execute()
}
