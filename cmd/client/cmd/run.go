package cmd

import (
	"github.com/spf13/cobra"

	"edudesk/cmd/client/cmd/output"
	"edudesk/cmd/client/cmd/types"
	"edudesk/internal/app/client/queue"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Следить за связью и отправлять очередь в фоне",
	Long: `Команда run работает до Ctrl+C: периодически проверяет доступность
сервера и, как только связь появляется, отправляет отложенные изменения.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		app.OnReplayEvent(func(ev queue.Event) {
			switch ev.Type {
			case queue.EventActionReplayed:
				output.Success("Отправлено: %s %s", ev.Action.Method, ev.Action.Path)
			case queue.EventActionFailed:
				output.Warn("Отклонено: %s %s (%s)", ev.Action.Method, ev.Action.Path, ev.Reason)
			case queue.EventQueueDrained:
				output.Info("Очередь пуста")
			}
		})

		return app.Run(cmd.Context())
	},
}
