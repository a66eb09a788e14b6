package main

import "github.com/osahq/osa/cmd"

func main() {
	cmd.Execute()
}
