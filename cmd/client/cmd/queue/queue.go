package queue

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"edudesk/cmd/client/cmd/output"
	"edudesk/cmd/client/cmd/types"
	"edudesk/internal/domain/action"
)

var force bool

// QueueCmd - родительская команда для работы с очередью отложенных изменений
var QueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Очередь изменений, сделанных без сети",
}

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Ожидающие отправки изменения",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		pending, err := app.Pending(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка чтения очереди: %w", err)
		}

		if output.JSON {
			return output.PrintJSON(pending)
		}
		if len(pending) == 0 {
			fmt.Println("Очередь пуста")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ID\tМетод\tПуть\tПоставлено\tПопыток\tСледующая\tОшибка\t\n")
		for _, a := range pending {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t\n",
				a.ID,
				a.Method.HTTP(),
				a.Path,
				a.EnqueuedAt.Format(time.DateTime),
				a.Attempts,
				formatTime(a.NextAttemptAt),
				a.LastError,
			)
		}
		return w.Flush()
	},
}

var FailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "Изменения, отклоненные сервером или исчерпавшие попытки",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		failed, err := app.Failed(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка чтения отклоненных изменений: %w", err)
		}

		if output.JSON {
			return output.PrintJSON(failed)
		}
		if len(failed) == 0 {
			fmt.Println("Отклоненных изменений нет")
			return nil
		}

		printFailed(failed)
		return nil
	},
}

var ReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Отправить очередь на сервер",
	Long: `Отправляет отложенные изменения в порядке постановки.

Без --force изменения, ожидающие повторной попытки, не отправляются
раньше срока.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		if !app.Online() {
			output.Warn("Нет связи с сервером, очередь не отправлена")
			return output.ErrReported
		}

		replay := app.ReplayAll
		if force {
			replay = app.ReplayNow
		}
		report := replay(cmd.Context())

		if output.JSON {
			return output.PrintJSON(report)
		}

		output.Success("Отправлено: %d, отклонено: %d, осталось: %d", report.Replayed, report.Failed, report.Remaining)
		if report.Halted && report.Remaining > 0 {
			output.Warn("Отправка остановлена на %s, повторите позже или используйте --force", report.HaltedOn)
		}
		if report.Err != nil {
			return report.Err
		}
		return nil
	},
}

func printFailed(failed []*action.FailedAction) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tМетод\tПуть\tПричина\tПопыток\tСнято\tОшибка\t\n")
	for _, f := range failed {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t\n",
			f.ID,
			f.Method.HTTP(),
			f.Path,
			f.Reason,
			f.Attempts,
			f.FailedAt.Format(time.DateTime),
			f.LastError,
		)
	}
	_ = w.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.DateTime)
}

func init() {
	ReplayCmd.Flags().BoolVar(&force, "force", false, "не ждать backoff")
}
