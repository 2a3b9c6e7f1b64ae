package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"remedy/internal/corpus"
)

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Inspect and validate a defect corpus",
}

var corpusValidateCmd = &cobra.Command{
	Use:   "validate [index.json]",
	Short: "Validate corpus records and, optionally, their patch bodies",
	Args:  cobra.ExactArgs(1),
	RunE:  corpusValidate,
}

var corpusStatsCmd = &cobra.Command{
	Use:   "stats [index.json]",
	Short: "Print corpus composition statistics",
	Args:  cobra.ExactArgs(1),
	RunE:  corpusStats,
}

var validatePatches string

func init() {
	corpusValidateCmd.Flags().StringVar(&validatePatches, "patches", "", "also validate patch bodies from this store")
	corpusCmd.AddCommand(corpusValidateCmd)
	corpusCmd.AddCommand(corpusStatsCmd)
}

func corpusValidate(cmd *cobra.Command, args []string) error {
	records, stats, err := corpus.LoadRecords(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("records: %d valid, %d rejected\n", stats.Accepted, stats.Rejected)

	if validatePatches != "" {
		bodies := corpus.OpenBodyStore(validatePatches)
		defer bodies.Close()

		var missing int
		for _, r := range records {
			if _, err := bodies.Get(context.Background(), r.PatchRef); err != nil {
				fmt.Printf("  %s: %v\n", r.ID, err)
				missing++
			}
		}
		fmt.Printf("patch bodies: %d/%d resolvable\n", len(records)-missing, len(records))
		if missing > 0 {
			exitCode = 1
		}
	}
	if stats.Rejected > 0 {
		exitCode = 1
	}
	return nil
}

func corpusStats(cmd *cobra.Command, args []string) error {
	records, _, err := corpus.LoadRecords(args[0])
	if err != nil {
		return err
	}

	byKind := make(map[string]int)
	byProject := make(map[string]int)
	for _, r := range records {
		byKind[r.ErrorKind]++
		byProject[r.Project]++
	}

	fmt.Printf("records: %d across %d projects\n\n", len(records), len(byProject))
	fmt.Println("by error kind:")
	for _, k := range sortedKeys(byKind) {
		fmt.Printf("  %-24s %d\n", k, byKind[k])
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
