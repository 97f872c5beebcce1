package main

import "github.com/KaramelBytes/bmpopt/cmd"

func main() {
	cmd.Execute()
}
