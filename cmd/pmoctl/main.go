package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/raaihank/pmo-sentinel/internal/generator"
	"github.com/raaihank/pmo-sentinel/internal/memory"
	"github.com/raaihank/pmo-sentinel/internal/privacy"
	"github.com/raaihank/pmo-sentinel/internal/protected"
)

var version = "0.3.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pmoctl",
		Short: "Scrub and restore project documents offline",
		Long: `pmoctl applies the same substitutions as the sentinel server without a
database or a generator. Entries and memory are read from JSON files in the
format the server's API returns.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	codeCmd := &cobra.Command{
		Use:   "code <entry-type>",
		Short: "Print the next free code for an entry type",
		Args:  cobra.ExactArgs(1),
		RunE:  runCode,
	}
	codeCmd.Flags().String("entries", "", "JSON file with existing entries")

	scrubCmd := &cobra.Command{
		Use:   "scrub [file]",
		Short: "Replace sensitive values and memory names with codes",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runScrub,
	}
	scrubCmd.Flags().String("entries", "", "JSON file with anonymization entries")
	scrubCmd.Flags().String("memory", "", "JSON file with project memory")
	scrubCmd.Flags().String("blocks", "", "Write extracted protected blocks to this JSON file")
	scrubCmd.Flags().Bool("legend", false, "Print the memory legend to stderr")

	restoreCmd := &cobra.Command{
		Use:   "restore [file]",
		Short: "Put original values and protected blocks back into generated text",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRestore,
	}
	restoreCmd.Flags().String("entries", "", "JSON file with anonymization entries")
	restoreCmd.Flags().String("memory", "", "JSON file with project memory")
	restoreCmd.Flags().String("blocks", "", "JSON file with the protected blocks written by scrub")

	docTypesCmd := &cobra.Command{
		Use:   "doctypes",
		Short: "List the supported document types",
		Args:  cobra.NoArgs,
		RunE:  runDocTypes,
	}

	rootCmd.AddCommand(codeCmd, scrubCmd, restoreCmd, docTypesCmd)
	return rootCmd
}

func runCode(cmd *cobra.Command, args []string) error {
	entries, err := loadJSONFlag[privacy.Entry](cmd, "entries")
	if err != nil {
		return err
	}
	code, err := privacy.GenerateCode(privacy.EntryType(strings.ToLower(args[0])), privacy.Codes(entries))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), code)
	return nil
}

func runScrub(cmd *cobra.Command, args []string) error {
	input, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	entries, err := loadJSONFlag[privacy.Entry](cmd, "entries")
	if err != nil {
		return err
	}
	memEntries, err := loadJSONFlag[memory.Entry](cmd, "memory")
	if err != nil {
		return err
	}

	out := scrub(input, entries, memEntries)

	if path, _ := cmd.Flags().GetString("blocks"); path != "" {
		if err := writeJSON(path, out.Blocks); err != nil {
			return err
		}
	} else if len(out.Blocks) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d protected blocks extracted, use --blocks to keep them\n", len(out.Blocks))
	}
	if legend, _ := cmd.Flags().GetBool("legend"); legend && out.Legend != "" {
		fmt.Fprint(cmd.ErrOrStderr(), out.Legend)
	}

	fmt.Fprint(cmd.OutOrStdout(), out.Text)
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	input, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	entries, err := loadJSONFlag[privacy.Entry](cmd, "entries")
	if err != nil {
		return err
	}
	memEntries, err := loadJSONFlag[memory.Entry](cmd, "memory")
	if err != nil {
		return err
	}
	blocks, err := loadJSONFlag[protected.Block](cmd, "blocks")
	if err != nil {
		return err
	}

	if found := protected.Count(input, blocks); found < len(blocks) {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: only %d of %d protected placeholders found in the input\n", found, len(blocks))
	}
	fmt.Fprint(cmd.OutOrStdout(), restore(input, entries, memEntries, blocks))
	return nil
}

func runDocTypes(cmd *cobra.Command, _ []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSWEDISH")
	for _, dt := range generator.DocumentTypes() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", dt.ID, dt.Name, dt.NameSv)
	}
	return w.Flush()
}

type scrubbed struct {
	Text   string
	Legend string
	Blocks []protected.Block
}

// scrub mirrors the outbound half of the server pipeline
func scrub(input string, entries []privacy.Entry, memEntries []memory.Entry) scrubbed {
	engine := privacy.NewEngine(nil, nil)

	extracted := protected.Extract(input)
	text := engine.ApplyCodes(extracted.Text, entries)

	mapping := memory.Build(memEntries)
	text = memory.ReplaceNamesWithCodes(text, mapping.CodeMap)

	return scrubbed{
		Text:   text,
		Legend: engine.ApplyCodes(mapping.Text, entries),
		Blocks: extracted.Blocks,
	}
}

// restore mirrors the inbound half of the server pipeline
func restore(text string, entries []privacy.Entry, memEntries []memory.Entry, blocks []protected.Block) string {
	engine := privacy.NewEngine(nil, nil)

	mapping := memory.Build(memEntries)
	text = memory.ReplaceCodesWithInfo(text, mapping.CodeMap)
	text, _ = engine.Unwrap(text)
	text = engine.RestoreCodes(text, privacy.RestoreOrder(entries))
	return protected.Merge(text, blocks)
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}

// loadJSONFlag reads a JSON array from the file named by flag. An unset flag
// yields no items.
func loadJSONFlag[T any](cmd *cobra.Command, flag string) ([]T, error) {
	path, _ := cmd.Flags().GetString(flag)
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read --%s: %w", flag, err)
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse --%s %s: %w", flag, path, err)
	}
	return items, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
