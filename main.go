package main

import "github.com/encodeous/nyflow/cmd"

func main() {
	cmd.Execute()
}
