package main

import (
	"os"

	"github.com/prominence-eu/prominence/cmd/worker-handler/cmd"
	"github.com/prominence-eu/prominence/internal/common"
)

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
