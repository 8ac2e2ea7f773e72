package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/buildstatsoor/pkg/sheet"
)

var tablesCSV bool

var tablesCmd = &cobra.Command{
	Use:   "tables [name]",
	Short: "List report tables or print one of them",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTables,
}

func init() {
	rootCmd.AddCommand(tablesCmd)
	tablesCmd.Flags().BoolVar(&tablesCSV, "csv", false, "Print the table as CSV")
}

func runTables(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.ValidateStore(); err != nil {
		return fmt.Errorf("validating store config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := sheet.NewStore(log, &cfg.Store)
	if err != nil {
		return fmt.Errorf("creating table store: %w", err)
	}

	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting table store: %w", err)
	}

	defer func() { _ = store.Stop() }()

	if len(args) == 0 {
		names, err := store.List(ctx)
		if err != nil {
			return fmt.Errorf("listing tables: %w", err)
		}

		for _, name := range names {
			fmt.Println(name)
		}

		return nil
	}

	t, err := store.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("opening table %q: %w", args[0], err)
	}

	snap, err := sheet.TakeSnapshot(ctx, t)
	if err != nil {
		return err
	}

	if tablesCSV {
		return snap.WriteCSV(os.Stdout)
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.SetTitle(snap.Name)

	header := table.Row{sheet.DateHeader}
	for _, key := range snap.Header {
		header = append(header, key)
	}

	tw.AppendHeader(header)

	for _, r := range snap.Rows {
		row := table.Row{r.Label}

		for _, key := range snap.Header {
			row = append(row, r.Values[key].String())
		}

		tw.AppendRow(row)
	}

	fmt.Println(tw.Render())

	return nil
}
