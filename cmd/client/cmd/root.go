package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"edudesk/cmd/client/cmd/auth"
	"edudesk/cmd/client/cmd/cache"
	"edudesk/cmd/client/cmd/lms"
	"edudesk/cmd/client/cmd/output"
	"edudesk/cmd/client/cmd/queue"
	"edudesk/cmd/client/cmd/request"
	"edudesk/cmd/client/cmd/types"
	"edudesk/internal/app/client"
	"edudesk/internal/app/client/config"
	"edudesk/internal/utils/logger"
)

var (
	cfgFile   string
	cfg       *config.Config
	log       *slog.Logger
	app       *client.App
	debug     bool
	offline   bool
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "edudesk",
	Short: "EduDesk - клиент учебной платформы с работой без сети",
	Long: `EduDesk - клиент учебной платформы: курсы, задания, календарь и сообщения.

Ответы сервера сохраняются в локальный кэш и показываются, когда сети нет.
Изменения, сделанные без сети, ставятся в очередь и отправляются
на сервер после восстановления связи.`,
	PersistentPreRunE: setupApp,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	err := rootCmd.Execute()
	shutdownApp()
	if err != nil {
		if !errors.Is(err, output.ErrReported) {
			fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		}
		os.Exit(1)
	}
}

func setupApp(cmd *cobra.Command, _ []string) error {
	// Загружаем конфигурацию
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	// Переопределяем настройки из флагов командной строки
	if serverURL != "" {
		cfg.ServerAddress = serverURL
	}
	if offline {
		cfg.StartOffline = true
	}

	// Разовые команды не засоряют вывод логами
	level := "warn"
	switch {
	case debug:
		level = "debug"
	case cmd == runCmd:
		level = cfg.LogLevel
	}
	log = logger.New(cfg.Env, logger.WithOutput(os.Stderr), logger.WithLevel(level))

	// Создаем приложение
	app, err = client.New(cfg, log)
	if err != nil {
		return fmt.Errorf("ошибка инициализации приложения: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if !offline {
		app.Probe(ctx)
	}

	cmd.SetContext(types.WithApp(ctx, app))
	return nil
}

func shutdownApp() {
	if app != nil {
		app.Shutdown()
	}
}

func init() {
	// Глобальные флаги
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "конфигурационный файл")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "включить отладочный режим")
	rootCmd.PersistentFlags().BoolVar(&output.JSON, "json", false, "вывод в формате JSON")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "адрес сервера API")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "работать без сети: чтение из кэша, изменения в очередь")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)

	rootCmd.AddCommand(request.Commands()...)

	rootCmd.AddCommand(queue.QueueCmd)
	queue.QueueCmd.AddCommand(queue.ListCmd)
	queue.QueueCmd.AddCommand(queue.FailedCmd)
	queue.QueueCmd.AddCommand(queue.ReplayCmd)

	rootCmd.AddCommand(cache.CacheCmd)
	cache.CacheCmd.AddCommand(cache.ListCmd)
	cache.CacheCmd.AddCommand(cache.InvalidateCmd)
	cache.CacheCmd.AddCommand(cache.PurgeCmd)

	rootCmd.AddCommand(auth.AuthCmd)
	auth.AuthCmd.AddCommand(auth.TokenCmd)
	auth.AuthCmd.AddCommand(auth.LogoutCmd)

	rootCmd.AddCommand(lms.CoursesCmd)
	rootCmd.AddCommand(lms.AssignmentsCmd)
	lms.AssignmentsCmd.AddCommand(lms.SubmitCmd)
	rootCmd.AddCommand(lms.CalendarCmd)
	rootCmd.AddCommand(lms.MessagesCmd)
	lms.MessagesCmd.AddCommand(lms.SendCmd)
	lms.MessagesCmd.AddCommand(lms.DeleteCmd)
}
