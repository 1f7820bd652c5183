package lms

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"edudesk/cmd/client/cmd/output"
	"edudesk/cmd/client/cmd/types"
	"edudesk/internal/domain/envelope"
)

var (
	courseID string
	days     int
	to       string
	content  string
)

var CoursesCmd = &cobra.Command{
	Use:   "courses [id]",
	Short: "Список курсов или один курс",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		if len(args) == 1 {
			course, res := app.GetCourse(cmd.Context(), args[0])
			return show(res, course, func(w *tabwriter.Writer) {
				fmt.Fprintf(w, "ID:\t%s\n", course.ID)
				fmt.Fprintf(w, "Название:\t%s\n", course.Title)
				fmt.Fprintf(w, "Преподаватель:\t%s\n", course.Teacher)
				fmt.Fprintf(w, "Описание:\t%s\n", course.Description)
			})
		}

		courses, res := app.ListCourses(cmd.Context())
		return show(res, courses, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "ID\tНазвание\tПреподаватель\t\n")
			for _, c := range courses {
				fmt.Fprintf(w, "%s\t%s\t%s\t\n", c.ID, c.Title, c.Teacher)
			}
		})
	},
}

var AssignmentsCmd = &cobra.Command{
	Use:   "assignments",
	Short: "Задания",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		assignments, res := app.ListAssignments(cmd.Context(), courseID)
		return show(res, assignments, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "ID\tКурс\tНазвание\tСрок\tСтатус\t\n")
			for _, a := range assignments {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n", a.ID, a.CourseID, a.Title, formatTime(a.DueAt), a.Status)
			}
		})
	},
}

var SubmitCmd = &cobra.Command{
	Use:   "submit <assignment-id>",
	Short: "Сдать задание",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		res := app.SubmitAssignment(cmd.Context(), args[0], content)
		return mutation(res, "Задание сдано")
	},
}

var CalendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "События и сроки заданий",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		var from, until time.Time
		if days > 0 {
			from = time.Now().Truncate(24 * time.Hour)
			until = from.Add(time.Duration(days) * 24 * time.Hour)
		}

		items, res := app.ListEvents(cmd.Context(), from, until)
		return show(res, items, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "Начало\tВид\tНазвание\tКурс\t\n")
			for _, it := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", formatTime(it.Start), it.Kind, it.Title, it.CourseID)
			}
		})
	},
}

var MessagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Сообщения",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		messages, res := app.ListMessages(cmd.Context())
		return show(res, messages, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "ID\tОт\tКому\tОтправлено\tТекст\t\n")
			for _, m := range messages {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n", m.ID, m.From, m.To, formatTime(m.SentAt), firstLine(m.Content))
			}
		})
	},
}

var SendCmd = &cobra.Command{
	Use:   "send",
	Short: "Отправить сообщение",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		res := app.SendMessage(cmd.Context(), to, content)
		return mutation(res, "Сообщение отправлено")
	},
}

var DeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Удалить сообщение",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		res := app.DeleteMessage(cmd.Context(), args[0])
		return mutation(res, "Сообщение удалено")
	},
}

// show выводит данные таблицей или JSON вместе с признаками результата
func show(res envelope.Result, data any, table func(w *tabwriter.Writer)) error {
	if output.JSON {
		if !res.Success {
			return output.Result(res)
		}
		return output.PrintJSON(struct {
			Data      any    `json:"data"`
			FromCache bool   `json:"fromCache,omitempty"`
			Stale     bool   `json:"stale,omitempty"`
			Message   string `json:"message,omitempty"`
		}{data, res.FromCache, res.Stale, res.Message})
	}

	if err := output.Meta(res); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	table(w)
	return w.Flush()
}

func mutation(res envelope.Result, done string) error {
	if output.JSON {
		return output.Result(res)
	}
	if err := output.Meta(res); err != nil {
		return err
	}
	if !res.Queued {
		output.Success("%s", done)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	if len([]rune(line)) > 60 {
		return string([]rune(line)[:57]) + "..."
	}
	return line
}

func init() {
	AssignmentsCmd.Flags().StringVar(&courseID, "course", "", "только задания курса")
	CalendarCmd.Flags().IntVar(&days, "days", 0, "окно в днях начиная с сегодня, 0 - без ограничения")

	SubmitCmd.Flags().StringVar(&content, "content", "", "текст ответа")
	_ = SubmitCmd.MarkFlagRequired("content")

	SendCmd.Flags().StringVar(&to, "to", "", "получатель")
	SendCmd.Flags().StringVar(&content, "content", "", "текст сообщения")
	_ = SendCmd.MarkFlagRequired("to")
	_ = SendCmd.MarkFlagRequired("content")
}
