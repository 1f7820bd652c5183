package request

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"edudesk/cmd/client/cmd/output"
	"edudesk/cmd/client/cmd/types"
	"edudesk/internal/app/client/gateway"
)

var (
	cacheKey string
	noCache  bool
	noAuth   bool
	data     string
)

// Commands возвращает команды get, post, put, patch и delete
func Commands() []*cobra.Command {
	get := &cobra.Command{
		Use:   "get <path>",
		Short: "GET запрос к API с кэшированием",
		Long: `Выполняет GET запрос к API.

С --cache-key ответ сохраняется в кэш, а без сети берется из него.`,
		Example: "  edudesk get courses --cache-key courses:list",
		Args:    cobra.ExactArgs(1),
		RunE:    run(http.MethodGet),
	}
	get.Flags().StringVar(&cacheKey, "cache-key", "", "ключ кэша для ответа")
	get.Flags().BoolVar(&noCache, "no-cache", false, "не читать и не писать кэш")
	get.Flags().BoolVar(&noAuth, "no-auth", false, "не отправлять токен")

	cmds := []*cobra.Command{get}
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		c := &cobra.Command{
			Use:   strings.ToLower(method) + " <path>",
			Short: method + " запрос к API; без сети ставится в очередь",
			Args:  cobra.ExactArgs(1),
			RunE:  run(method),
		}
		c.Flags().StringVarP(&data, "data", "d", "", "тело запроса в JSON, @file или @- для stdin")
		c.Flags().StringVar(&cacheKey, "cache-key", "", "ключ кэша, который сбрасывается после успеха")
		c.Flags().BoolVar(&noAuth, "no-auth", false, "не отправлять токен")
		cmds = append(cmds, c)
	}
	return cmds
}

func run(method string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		opts := []gateway.Option{gateway.WithToken(!noAuth)}
		if cacheKey != "" {
			opts = append(opts, gateway.WithCacheKey(cacheKey))
		}
		if noCache {
			opts = append(opts, gateway.WithCache(false))
		}

		var body any
		if method != http.MethodGet {
			raw, err := readBody(data)
			if err != nil {
				return err
			}
			if raw != nil {
				body = raw
			}
		}

		res := app.Request(cmd.Context(), method, args[0], body, opts...)
		return output.Result(res)
	}
}

// readBody принимает JSON строкой, из файла (@path) или из stdin (@-)
func readBody(s string) (json.RawMessage, error) {
	if s == "" {
		return nil, nil
	}

	raw := []byte(s)
	if strings.HasPrefix(s, "@") {
		var err error
		if s == "@-" {
			raw, err = io.ReadAll(os.Stdin)
		} else {
			raw, err = os.ReadFile(strings.TrimPrefix(s, "@"))
		}
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения тела запроса: %w", err)
		}
	}

	if !json.Valid(raw) {
		return nil, fmt.Errorf("тело запроса не является корректным JSON")
	}
	return json.RawMessage(raw), nil
}
