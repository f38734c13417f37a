package main

import "github.com/jmoreau/hydrod/cmd"

func main() {
	cmd.Execute()
}
