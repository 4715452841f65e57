package main

import (
	"github.com/flowdesk/msggate/cmd"
)

func main() {
	cmd.Execute()
}
