package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/convergekit/converge/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
}
