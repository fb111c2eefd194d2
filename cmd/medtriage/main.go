package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var cfgPath string
	var root = &cobra.Command{
		Use:          "medtriage",
		Short:        "Conversational medical triage assistant",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	root.AddCommand(
		serveCMD(&cfgPath),
		migrateCMD(&cfgPath),
		ingestCMD(&cfgPath),
		chatCMD(&cfgPath),
		alertsCMD(&cfgPath),
		tokenCMD(&cfgPath),
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
