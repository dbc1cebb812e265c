package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/abridge-db/abridge/internal/configfile"
	"github.com/abridge-db/abridge/internal/database"
	"github.com/abridge-db/abridge/internal/extractor"
	"github.com/abridge-db/abridge/internal/generator"
	"github.com/abridge-db/abridge/internal/model"
	"github.com/abridge-db/abridge/internal/sink"
)

func runAbridge(cmd *cobra.Command, args []string) error {
	setupLogging()
	if err := validateFlags(); err != nil {
		return err
	}

	configPath, srcURL := args[0], args[1]
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	log.Info().Str("url", srcURL).Msg("Connecting to source database")
	src, err := database.Connect(ctx, srcURL)
	if err != nil {
		return err
	}
	defer src.Close()

	srcSchema, err := src.Schema(ctx)
	if err != nil {
		return err
	}

	configData, err := configfile.Load(configPath)
	if err != nil {
		return err
	}
	extractionModel, err := model.Load(srcSchema, configData)
	if err != nil {
		return err
	}

	log.Info().Int("subjects", len(extractionModel.Subjects)).Msg("Querying")
	ex := extractor.New(src, extractionModel, extractor.Options{
		Explain:       explain,
		ExplainWriter: os.Stdout,
	})
	if err := ex.Launch(ctx); err != nil {
		return err
	}

	if explain {
		return nil
	}

	gen, err := generator.New(srcSchema, ex)
	if err != nil {
		return err
	}

	if dstFile != "" {
		return writeScript(ctx, src, gen, ex)
	}
	return writeDatabase(ctx, src, gen, ex)
}

// writeScript renders the statement stream as SQL text. The source
// connection stays open until the script is written since its dialect
// supplies the literal escaping.
func writeScript(ctx context.Context, src *database.DB, gen *generator.Generator, ex *extractor.Extractor) error {
	out := os.Stdout
	if dstFile != "-" {
		f, err := os.Create(dstFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	buffered := bufio.NewWriter(out)
	s, err := sink.NewScriptSink(src, buffered)
	if err != nil {
		return err
	}
	if err := writeStatements(ctx, s, gen); err != nil {
		return err
	}
	if err := buffered.Flush(); err != nil {
		return err
	}

	printStats(ex, gen)
	return nil
}

// writeDatabase executes the statement stream against a live
// destination. The source connection is released before writes begin.
func writeDatabase(ctx context.Context, src *database.DB, gen *generator.Generator, ex *extractor.Extractor) error {
	src.Close()

	log.Info().Str("url", dstURL).Msg("Connecting to destination database")
	dst, err := database.Connect(ctx, dstURL)
	if err != nil {
		return err
	}
	defer dst.Close()

	s, err := sink.NewDBSink(src, dst)
	if err != nil {
		return err
	}
	if err := writeStatements(ctx, s, gen); err != nil {
		return err
	}

	printStats(ex, gen)
	return nil
}

// writeStatements drives a sink through the full statement stream, with
// a guaranteed rollback on any failure.
func writeStatements(ctx context.Context, s sink.Sink, gen *generator.Generator) (err error) {
	if err := s.Begin(ctx); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rollbackErr := s.Rollback(ctx); rollbackErr != nil {
				log.Warn().Err(rollbackErr).Msg("Rollback failed")
			}
		}
	}()

	tableInsertCounts := make(map[string]int)
	for i, stmt := range gen.Inserts {
		tableInsertCounts[stmt.Table.Name]++
		log.Debug().
			Int("n", i+1).
			Int("total", len(gen.Inserts)).
			Int("row", tableInsertCounts[stmt.Table.Name]).
			Str("table", stmt.Table.Name).
			Msg("Inserting row")
		if err = s.InsertRow(ctx, stmt); err != nil {
			return err
		}
	}

	tableUpdateCounts := make(map[string]int)
	for i, stmt := range gen.Updates {
		tableUpdateCounts[stmt.Table.Name]++
		log.Debug().
			Int("n", i+1).
			Int("total", len(gen.Updates)).
			Int("update", tableUpdateCounts[stmt.Table.Name]).
			Str("table", stmt.Table.Name).
			Msg("Updating row")
		if err = s.UpdateRow(ctx, stmt); err != nil {
			return err
		}
	}

	if err = s.Commit(ctx); err != nil {
		return err
	}
	return s.Finish()
}

// printStats renders the per-table extraction statistics.
func printStats(ex *extractor.Extractor, gen *generator.Generator) {
	if quiet {
		return
	}

	inserts := make(map[string]int)
	for _, stmt := range gen.Inserts {
		inserts[stmt.Table.Name]++
	}
	updates := make(map[string]int)
	for _, stmt := range gen.Updates {
		updates[stmt.Table.Name]++
	}

	table := tablewriter.NewWriter(os.Stderr)
	table.SetHeader([]string{"Table", "Fetched", "Inserts", "Updates"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)

	for _, t := range ex.Results().Tables() {
		table.Append([]string{
			t.Name,
			strconv.Itoa(ex.FetchedRowsPerTable[t]),
			strconv.Itoa(inserts[t.Name]),
			strconv.Itoa(updates[t.Name]),
		})
	}
	table.Render()

	log.Info().
		Int("inserts", len(gen.Inserts)).
		Int("updates", len(gen.Updates)).
		Msg("Generation completed")
}
