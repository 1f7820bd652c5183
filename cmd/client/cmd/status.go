package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"edudesk/cmd/client/cmd/output"
	"edudesk/cmd/client/cmd/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Состояние связи, очереди и кэша",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		status, err := app.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка получения состояния: %w", err)
		}

		if output.JSON {
			return output.PrintJSON(status)
		}

		connection := "нет связи"
		if status.Online {
			connection = "есть связь"
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Сервер:\t%s\n", status.Server)
		fmt.Fprintf(w, "Связь:\t%s\n", connection)
		fmt.Fprintf(w, "Очередь:\t%s, ожидает %d, отклонено %d\n", status.State, status.Pending, status.Failed)
		fmt.Fprintf(w, "Кэш:\t%d записей, TTL %s\n", status.CacheEntries, status.CacheTTL)
		fmt.Fprintf(w, "Токен:\t%t\n", status.Token)
		if !status.Replay.LastDrainedAt.IsZero() {
			fmt.Fprintf(w, "Очередь опустела:\t%s\n", status.Replay.LastDrainedAt.Format(time.DateTime))
		}
		return w.Flush()
	},
}
