package auth

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"edudesk/cmd/client/cmd/output"
	"edudesk/cmd/client/cmd/types"
)

// AuthCmd - родительская команда для работы с токеном доступа
var AuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "Токен доступа к API",
}

var TokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Сохранить токен доступа",
	Long: `Сохраняет токен доступа локально для последующих запросов.

Токен вводится без отображения на экране; при перенаправлении
ввода читается первая строка stdin.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		token, err := readToken()
		if err != nil {
			return err
		}

		if err := app.SaveToken(token); err != nil {
			return err
		}
		output.Success("Токен сохранен")
		return nil
	},
}

var LogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Удалить сохраненный токен",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		if err := app.ClearToken(); err != nil {
			return err
		}
		output.Success("Токен удален")
		return nil
	},
}

func readToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Print("Токен: ")
		token, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("ошибка чтения токена: %w", err)
		}
		return strings.TrimSpace(string(token)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("ошибка чтения токена: %w", err)
	}
	return strings.TrimSpace(line), nil
}
