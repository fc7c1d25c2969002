package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"html2epub/utils"
)

type packArgs struct {
	DirPath string
	Output  string
	FixZip  bool
}

var (
	pArgs packArgs
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "pack a epub file from directory",
	Long:  "pack a epub file from a working directory kept by build --keep-work-dir",
	RunE:  runPackage,
}

func init() {
	packCmd.Flags().StringVarP(&pArgs.DirPath, "dir-path", "d", "", "directory path")
	packCmd.Flags().StringVarP(&pArgs.Output, "output", "o", "", "epub file, defaults to <dir-path>.epub")
	packCmd.Flags().BoolVar(&pArgs.FixZip, "fix-zip", false, "write the archive without data descriptors")
	_ = packCmd.MarkFlagRequired("dir-path")
	RootCmd.AddCommand(packCmd)
}

func runPackage(cmd *cobra.Command, args []string) error {
	info, err := os.Stat(pArgs.DirPath)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("failed to open directory %s: %v", pArgs.DirPath, err)
	}
	if _, err := os.Stat(filepath.Join(pArgs.DirPath, "META-INF", "container.xml")); err != nil {
		return fmt.Errorf("%s is not an epub working directory: %v", pArgs.DirPath, err)
	}

	output := pArgs.Output
	if output == "" {
		output = strings.TrimSuffix(pArgs.DirPath, string(filepath.Separator)) + ".epub"
	}
	err = utils.PackEpub(pArgs.DirPath, output)
	if err != nil {
		return fmt.Errorf("failed to create epub: %v", err)
	}
	if pArgs.FixZip {
		fixed := output + ".fixed"
		if err := utils.RewriteWithoutDataDescriptors(output, fixed); err != nil {
			return fmt.Errorf("failed to rewrite epub: %v", err)
		}
		if err := os.Rename(fixed, output); err != nil {
			return fmt.Errorf("failed to rewrite epub: %v", err)
		}
	}
	logger.Info("Packed epub", zap.String("dir", pArgs.DirPath), zap.String("file", output))
	return nil
}
