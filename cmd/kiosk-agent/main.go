package main

import (
	"github.com/oshokin/kiosk-agent/cmd/kiosk-agent/cmd"
)

func main() {
	cmd.Execute()
}
