package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"batchmint/pkg/hardware"
)

var recommendFormat string

var shardsCmd = &cobra.Command{
	Use:   "shards",
	Short: "Shard planning helpers",
}

var shardsRecommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Suggest a shard count for this machine",
	Long: `Probe CPU and RAM and suggest how many parallel shards this machine can
drive. Each shard owns a full browser session; the suggestion also respects
the number of concurrent sessions one marketplace account tolerates.`,
	RunE: runShardsRecommend,
}

func init() {
	rootCmd.AddCommand(shardsCmd)
	shardsCmd.AddCommand(shardsRecommendCmd)

	shardsRecommendCmd.Flags().StringVar(&recommendFormat, "format", "text", "output format: text or json")
}

func runShardsRecommend(cmd *cobra.Command, args []string) error {
	info, err := hardware.Detect()
	if err != nil {
		return fmt.Errorf("failed to detect hardware: %w", err)
	}

	shards := hardware.RecommendShards(info)

	if recommendFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"hardware": info,
			"shards":   shards,
		})
	}

	fmt.Println("Hardware:")
	fmt.Printf("  CPU: %s (%d threads)\n", info.CPUModel, info.CPUThreads)
	fmt.Printf("  RAM: %s\n", hardware.FormatRAM(info.RAMBytes))
	fmt.Printf("  OS:  %s/%s\n", info.OS, info.Arch)
	fmt.Println()
	fmt.Printf("Recommended shard count: %d\n", shards)
	fmt.Println()
	fmt.Println("Example:")
	fmt.Printf("  batchmint split --input metadata.json --shards %d\n", shards)
	fmt.Printf("  batchmint run --input out/metadata-shard-0.json --driver-url http://localhost:9501 &\n")
	return nil
}
