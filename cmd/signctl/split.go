package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"signserver/internal/dataset"
)

var splitOpts struct {
	src   string
	dest  string
	train float64
	test  float64
	seed  uint64
}

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split a class-per-folder dataset into train/test/val",
	Long:  "Copies each class folder into train, test and val. Val receives whatever remains after train and test.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ratios := dataset.Ratios{Train: splitOpts.train, Test: splitOpts.test}
		if err := ratios.Validate(); err != nil {
			return err
		}

		total, err := dataset.CountFiles(splitOpts.src)
		if err != nil {
			return err
		}
		if total == 0 {
			fmt.Println("No images found to split")
			return nil
		}

		seed := splitOpts.seed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		bar := progressbar.NewOptions(total,
			progressbar.OptionSetDescription("📂 Splitting"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
		plan, err := dataset.Split(splitOpts.src, splitOpts.dest, ratios, rand.New(rand.NewPCG(seed, seed>>1)), func() { bar.Add(1) })
		bar.Finish()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}

		for _, c := range plan.Classes {
			fmt.Printf("%-24s train=%d test=%d val=%d\n", c.Class, c.Train, c.Test, c.Val)
		}
		fmt.Printf("✅ Dataset split complete: %d files in %d classes\n", plan.Files, len(plan.Classes))
		return nil
	},
}

func init() {
	splitCmd.Flags().StringVarP(&splitOpts.src, "src", "s", "", "Dataset folder with one subfolder per class")
	splitCmd.Flags().StringVarP(&splitOpts.dest, "dest", "o", "", "Output folder for train/test/val")
	splitCmd.Flags().Float64Var(&splitOpts.train, "train", dataset.DefaultRatios().Train, "Train ratio")
	splitCmd.Flags().Float64Var(&splitOpts.test, "test", dataset.DefaultRatios().Test, "Test ratio")
	splitCmd.Flags().Uint64Var(&splitOpts.seed, "seed", 0, "Shuffle seed (0 picks one from the clock)")

	splitCmd.MarkFlagRequired("src")
	splitCmd.MarkFlagRequired("dest")
	rootCmd.AddCommand(splitCmd)
}
