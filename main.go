package main

import "github.com/lanbeam/lanbeam/cmd"

func main() {
	cmd.Execute()
}
