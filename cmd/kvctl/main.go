// Команда kvctl - консольный клиент сервера kvkeeper.
//
//	kvctl [-server URL] put KEY JSON | get KEY | list | delete KEY | backup | health
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maynagashev/kvkeeper/internal/client"
)

const (
	envServerURL     = "KVKEEPER_SERVER"
	defaultServerURL = "http://localhost:8000"
	defaultTimeout   = 15 * time.Minute // backup ждёт окончания загрузки
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		logrus.WithError(err).Error("Ошибка выполнения команды")
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("kvctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	serverURL := fs.String("server", envOr(envServerURL, defaultServerURL),
		fmt.Sprintf("Адрес сервера (env: %s)", envServerURL))
	timeout := fs.Duration("timeout", defaultTimeout, "Таймаут запроса")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Использование: kvctl [флаги] put KEY JSON | get KEY | list | delete KEY | backup | health")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	c := client.NewHTTPClientWith(*serverURL, &http.Client{Timeout: *timeout})
	return dispatch(ctx, c, fs.Args(), stdout)
}

func dispatch(ctx context.Context, c client.Client, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return ErrUsage
	}
	cmd, rest := args[0], args[1:]

	switch {
	case cmd == "put" && len(rest) == 2:
		if !json.Valid([]byte(rest[1])) {
			return fmt.Errorf("%w: значение не является JSON", ErrUsage)
		}
		resp, err := c.Put(ctx, rest[0], json.RawMessage(rest[1]))
		if err != nil {
			return err
		}
		return printJSON(stdout, resp)
	case cmd == "get" && len(rest) == 1:
		rec, err := c.Get(ctx, rest[0])
		if err != nil {
			return err
		}
		return printJSON(stdout, rec)
	case cmd == "list" && len(rest) == 0:
		resp, err := c.List(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, resp)
	case cmd == "delete" && len(rest) == 1:
		if err := c.Delete(ctx, rest[0]); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Ключ %q удалён\n", rest[0])
		return nil
	case cmd == "backup" && len(rest) == 0:
		resp, err := c.TriggerBackup(ctx)
		if err != nil {
			var backupErr *client.BackupError
			if errors.As(err, &backupErr) && backupErr.StdoutTail != "" {
				fmt.Fprintln(stdout, backupErr.StdoutTail)
			}
			return err
		}
		return printJSON(stdout, resp)
	case cmd == "health" && len(rest) == 0:
		if err := c.Health(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "ok")
		return nil
	default:
		return fmt.Errorf("%w: %q с %d аргументами", ErrUsage, cmd, len(rest))
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// ErrUsage - неизвестная команда или неверное число аргументов.
var ErrUsage = errors.New("неверная команда")
