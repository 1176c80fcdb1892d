package main

import (
	"mcpconnect/cmd"
	"mcpconnect/internal/config"
)

// Version can be set during build with -ldflags
var version = "dev"

func main() {
	config.ClientVersion = version
	cmd.SetVersion(version)
	cmd.Execute()
}
