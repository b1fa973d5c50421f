package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/lendbridge/contactsync/internal/devremote"
)

func main() {
	if err := devremote.Run(); err != nil {
		log.Error().Err(err).Msg("devremote exited with error")
		os.Exit(1)
	}
}
