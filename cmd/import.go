package main

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-engine/internal/model"
)

var (
	importName       string
	importIdentifier string
	importEntityType string
	importFields     map[string]string
)

var importCmd = &cobra.Command{
	Use:   "import <csv-file>",
	Short: "Import a CSV file as an enrichable table",
	Long:  "Creates a table from a CSV: headers become columns, rows become rows. --identifier names the header holding the entity identifier; --field maps headers to enrichment fields.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrapf(err, "open %s", args[0])
		}
		defer f.Close()

		records, err := csv.NewReader(f).ReadAll()
		if err != nil {
			return eris.Wrap(err, "parse csv")
		}
		if len(records) < 2 {
			return eris.New("csv needs a header row and at least one data row")
		}

		headers := records[0]
		if importIdentifier != "" && !containsHeader(headers, importIdentifier) {
			return eris.Errorf("identifier column %q not in csv headers", importIdentifier)
		}

		name := importName
		if name == "" {
			name = args[0]
		}
		table := &model.Table{ID: uuid.New().String(), Name: name}
		if err := env.Store.CreateTable(ctx, table); err != nil {
			return err
		}

		for _, h := range headers {
			col := &model.Column{
				ID:           uuid.New().String(),
				TableID:      table.ID,
				Key:          h,
				Field:        importFields[h],
				IsIdentifier: h == importIdentifier,
				EntityType:   model.EntityType(importEntityType),
			}
			if err := env.Store.CreateColumn(ctx, col); err != nil {
				return err
			}
		}

		imported := 0
		for _, record := range records[1:] {
			data := make(map[string]any, len(headers))
			for i, h := range headers {
				if i < len(record) && record[i] != "" {
					data[h] = record[i]
				}
			}
			row := &model.Row{
				ID:      uuid.New().String(),
				TableID: table.ID,
				Data:    data,
				Status:  model.RowIdle,
			}
			if err := env.Store.UpsertRow(ctx, row); err != nil {
				return err
			}
			imported++
		}

		zap.L().Info("csv imported",
			zap.String("table_id", table.ID),
			zap.Int("columns", len(headers)),
			zap.Int("rows", imported),
		)
		fmt.Printf("table %s created with %d rows\n", table.ID, imported)
		return nil
	},
}

func containsHeader(headers []string, h string) bool {
	for _, v := range headers {
		if v == h {
			return true
		}
	}
	return false
}

func init() {
	importCmd.Flags().StringVar(&importName, "name", "", "table name (default file name)")
	importCmd.Flags().StringVar(&importIdentifier, "identifier", "", "header holding the entity identifier")
	importCmd.Flags().StringVar(&importEntityType, "entity-type", "", "declared entity type for the identifier column (company|person)")
	importCmd.Flags().StringToStringVar(&importFields, "field", nil, "header=field mappings for enrichable columns")
	rootCmd.AddCommand(importCmd)
}
