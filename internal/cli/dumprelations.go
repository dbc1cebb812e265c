package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/abridge-db/abridge/internal/database"
	"github.com/abridge-db/abridge/internal/schema"
)

var dumpRelationsCmd = &cobra.Command{
	Use:   "abridger-dump-relations URL",
	Short: "Dump the foreign-key relations of a database as YAML",
	Long: `Dump the foreign-key relations discovered in a database as YAML,
usable as the seed of an extraction configuration file.`,
	Args:          usageArgs(1, "a database URL is required"),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDumpRelations,
}

func init() {
	dumpRelationsCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})
}

func runDumpRelations(cmd *cobra.Command, args []string) error {
	setupLogging()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := database.Connect(ctx, args[0])
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := db.Schema(ctx)
	if err != nil {
		return err
	}

	doc := struct {
		Relations []schema.RelationEntry `yaml:"relations"`
	}{Relations: s.Relations()}

	encoder := yaml.NewEncoder(os.Stdout)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(doc)
}

// ExecuteDumpRelations runs the relations-dump tool and returns the
// process exit code.
func ExecuteDumpRelations() int {
	if err := dumpRelationsCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Aborted")
		return exitCode(err)
	}
	return 0
}
