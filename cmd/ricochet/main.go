package main

import "ricochet.sh/cmd/ricochet/cmd"

func main() {
	cmd.Execute()
}
