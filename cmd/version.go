package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var (
	// Version 在构建时通过 -ldflags "-X html2epub/cmd.Version=..." 设置
	Version = "dev"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("version: ", Version)
		if info, ok := debug.ReadBuildInfo(); ok {
			fmt.Println("go: ", info.GoVersion)
		}
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
}
