package main

import "github.com/oshokin/extbuild/cmd/extbuild/cmd"

func main() {
	cmd.Execute()
}
