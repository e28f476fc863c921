package main

import "github.com/Yates-Labs/newsagent/cmd"

func main() {
	cmd.Execute()
}
