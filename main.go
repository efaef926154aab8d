package main

import "github.com/frahmantamala/purchase-core/cmd"

func main() {
	cmd.Execute()
}
