// Command bookie is a terminal client for the Bookie API: sign in, browse
// book channels, chat in them live and talk to the reading assistant.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"bookie/internal/util"
	"bookie/pkg/bookieclient"
	"bookie/pkg/session"
)

const defaultAPIURL = "http://localhost:8080"

// env bundles what every command needs.
type env struct {
	api     *bookieclient.Client
	session *session.Session
	logger  *slog.Logger
	out     io.Writer
	in      io.Reader
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, e *env, args []string) error
}

var commands = []command{
	{"signup", "crea una cuenta", runSignup},
	{"login", "inicia sesión", runLogin},
	{"logout", "cierra la sesión", runLogout},
	{"me", "muestra tu perfil", runMe},
	{"search", "busca libros por título", runSearch},
	{"library", "lista tu biblioteca", runLibrary},
	{"events", "lista los eventos", runEvents},
	{"channels", "lista los canales públicos", runChannels},
	{"mine", "lista tus canales", runMyChannels},
	{"open", "entra al canal de un libro y chatea", runOpen},
	{"join", "entra a un canal por id y chatea", runJoin},
	{"leave", "abandona un canal", runLeave},
	{"delete", "elimina un canal que creaste", runDelete},
	{"ask", "conversa con el asistente de lectura", runAsk},
	{"surprise", "recomienda un libro al azar", runSurprise},
}

func main() {
	logger := util.InitLogger(envOr("BOOKIE_LOG_LEVEL", "warn"))
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := lookup(os.Args[1])
	if !ok {
		fmt.Fprintf(os.Stderr, "comando desconocido %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEnv(logger)
	if err != nil {
		util.Fatal(logger, "failed to init client", "err", err)
	}
	if err := cmd.run(ctx, e, os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		os.Exit(1)
	}
}

func newEnv(logger *slog.Logger) (*env, error) {
	api := bookieclient.NewClient(envOr("BOOKIE_API_URL", defaultAPIURL))
	path, err := tokenPath()
	if err != nil {
		return nil, err
	}
	tokens, err := session.NewFileTokenStore(path)
	if err != nil {
		return nil, err
	}
	sess, err := session.New(tokens, api, session.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &env{api: api, session: sess, logger: logger, out: os.Stdout, in: os.Stdin}, nil
}

func tokenPath() (string, error) {
	if p := os.Getenv("BOOKIE_TOKEN_FILE"); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "bookie", "session.json"), nil
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func usage() {
	fmt.Fprintln(os.Stderr, "uso: bookie <comando> [opciones]")
	fmt.Fprintln(os.Stderr)
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "BOOKIE_API_URL apunta al servidor (por defecto "+defaultAPIURL+").")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// describe turns client errors into a line for the terminal.
func describe(err error) string {
	var apiErr *bookieclient.APIError
	switch {
	case errors.Is(err, bookieclient.ErrAuthenticationRequired):
		return "no has iniciado sesión (usa: bookie login)"
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return fmt.Sprintf("%s (HTTP %d)", apiErr.Message, apiErr.Status)
	default:
		return err.Error()
	}
}
