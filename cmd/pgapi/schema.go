package main

import (
	"encoding/json"
	"os"

	"github.com/edgeflare/pgapi/pkg/schema"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the resource model as JSON",
	Long:  `Builds the resource model the way serve does and prints its declaration, which can be pasted into the schema section of the config`,
	RunE:  runSchema,
}

func init() {
	f := schemaCmd.Flags()
	f.StringP("rest.pg.connString", "c", "", "PostgreSQL connection string")
	f.Bool("rest.schema.introspect", false, "Build the resource model from the database catalog")
}

func runSchema(cmd *cobra.Command, args []string) error {
	flagOverrides(cmd)
	ctx := cmd.Context()

	var decl schema.Declaration
	var err error
	if cfg.REST.Schema.Introspect {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		pools, pool, err := connect(ctx, logger)
		if err != nil {
			return err
		}
		defer pools.Close()
		decl, err = schema.Introspect(ctx, pool, cfg.REST.Schema.Schemas...)
		if err != nil {
			return err
		}
	} else if decl, err = cfg.Declaration(); err != nil {
		return err
	}

	// validate before printing
	if _, err := schema.Build(decl); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(decl)
}
