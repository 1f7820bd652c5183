package cache

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"edudesk/cmd/client/cmd/output"
	"edudesk/cmd/client/cmd/types"
)

// CacheCmd - родительская команда для работы с локальным кэшем
var CacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Локальный кэш ответов сервера",
}

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Записи кэша",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		entries, err := app.CacheEntries(cmd.Context())
		if err != nil {
			return err
		}

		type row struct {
			Key       string    `json:"key"`
			WrittenAt time.Time `json:"written_at"`
			Size      int       `json:"size"`
			Valid     bool      `json:"valid"`
		}
		rows := make([]row, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, row{Key: e.Key, WrittenAt: e.WrittenAt, Size: len(e.Payload), Valid: app.CacheValid(e)})
		}

		if output.JSON {
			return output.PrintJSON(rows)
		}
		if len(rows) == 0 {
			fmt.Println("Кэш пуст")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Ключ\tЗаписано\tРазмер\tСостояние\t\n")
		for _, r := range rows {
			state := "годна"
			if !r.Valid {
				state = "просрочена"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t\n", r.Key, r.WrittenAt.Format(time.DateTime), r.Size, state)
		}
		return w.Flush()
	},
}

var InvalidateCmd = &cobra.Command{
	Use:   "invalidate <key>",
	Short: "Удалить запись кэша",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		if err := app.InvalidateCache(cmd.Context(), args[0]); err != nil {
			return err
		}
		output.Success("Запись %s удалена", args[0])
		return nil
	},
}

var PurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Удалить все просроченные записи",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		n, err := app.PurgeCache(cmd.Context())
		if err != nil {
			return err
		}
		output.Success("Удалено просроченных записей: %d", n)
		return nil
	},
}
