package main

import (
	"github.com/metal-toolbox/vmconsole/cmd"
)

func main() {
	cmd.Execute()
}
