package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"batchmint/pkg/parse"
	"batchmint/pkg/shard"
)

var (
	splitInput  string
	splitShards int
)

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split a metadata file into shard input files",
	Long: `Split a metadata file into contiguous, order-preserving blocks, one file
per shard. Each shard file is a complete input for an independent run in a
separate process; concatenating the shard files reproduces the original set.`,
	RunE: runSplit,
}

func init() {
	rootCmd.AddCommand(splitCmd)

	splitCmd.Flags().StringVar(&splitInput, "input", "", "metadata file to split (required)")
	splitCmd.Flags().IntVar(&splitShards, "shards", 2, "number of shard files to produce")
	splitCmd.MarkFlagRequired("input")
}

func runSplit(cmd *cobra.Command, args []string) error {
	outDir, err := GetOutputDir()
	if err != nil {
		return err
	}

	set, err := parse.Load(splitInput)
	if err != nil {
		return err
	}

	parts, err := shard.Split(set, splitShards)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(splitInput))
	base := strings.TrimSuffix(filepath.Base(splitInput), ext)

	for i, part := range parts {
		path := filepath.Join(outDir, fmt.Sprintf("%s-shard-%d%s", base, i, ext))
		if err := parse.Write(part, path); err != nil {
			return err
		}
		fmt.Printf("Shard %d: %d records -> %s\n", i, part.Len(), path)
	}
	return nil
}
