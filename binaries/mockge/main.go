package main

// Mock Grid Engine control program. One binary serves all four verbs
// (qsub/qstat/qacct/qdel) plus init; InstallShims writes wrapper
// scripts so each verb can be invoked under its own name.

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/fls-bioinformatics-core/genomics-sub000/common/log/hooks"
	"github.com/fls-bioinformatics-core/genomics-sub000/mockge"
)

func main() {
	log.AddHook(hooks.NewContextHook())
	// Verb output on stdout is parsed by clients; keep the log quiet
	// unless something is actually wrong.
	log.SetLevel(log.WarnLevel)

	os.Exit(mockge.Run(os.Args[1:]))
}
