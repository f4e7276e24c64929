package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"bookie/pkg/bookieclient"
	"bookie/pkg/domain"
	"bookie/pkg/session"
)

func newFlags(name string) *flag.FlagSet {
	return flag.NewFlagSet("bookie "+name, flag.ContinueOnError)
}

func (e *env) signIn(resp bookieclient.AuthResponse) error {
	return e.session.SignIn(session.Tokens{
		AccessToken:  resp.Token,
		RefreshToken: resp.RefreshToken,
		UserID:       resp.User.ID,
		Username:     resp.User.Username,
		Avatar:       resp.User.ImageAvatar,
	})
}

func runSignup(ctx context.Context, e *env, args []string) error {
	fs := newFlags("signup")
	username := fs.String("username", "", "nombre de usuario")
	email := fs.String("email", "", "email")
	password := fs.String("password", "", "contraseña")
	if err := fs.Parse(args); err != nil {
		return err
	}
	resp, err := e.api.Signup(ctx, bookieclient.SignupRequest{Username: *username, Email: *email, Password: *password})
	if err != nil {
		return err
	}
	if err := e.signIn(resp); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Bienvenido, %s.\n", resp.User.Username)
	return nil
}

func runLogin(ctx context.Context, e *env, args []string) error {
	fs := newFlags("login")
	email := fs.String("email", "", "email")
	password := fs.String("password", "", "contraseña")
	if err := fs.Parse(args); err != nil {
		return err
	}
	resp, err := e.api.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	if err := e.signIn(resp); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Hola de nuevo, %s.\n", resp.User.Username)
	return nil
}

func runLogout(ctx context.Context, e *env, _ []string) error {
	tokens := e.session.Tokens()
	if tokens.AccessToken != "" {
		if err := e.api.Logout(ctx, tokens.AccessToken, tokens.RefreshToken); err != nil {
			e.logger.Warn("remote logout failed", "err", err)
		}
	}
	if err := e.session.SignOut(); err != nil {
		return err
	}
	fmt.Fprintln(e.out, "Sesión cerrada.")
	return nil
}

func runMe(ctx context.Context, e *env, _ []string) error {
	var me domain.User
	err := e.session.WithAuthRetry(ctx, func(ctx context.Context, token string) error {
		var err error
		me, err = e.api.Me(ctx, token)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%s <%s>\n", me.Username, me.Email)
	if me.AboutText != "" {
		fmt.Fprintln(e.out, me.AboutText)
	}
	if len(me.FavoriteGenres) > 0 {
		fmt.Fprintln(e.out, "Géneros:", strings.Join(me.FavoriteGenres, ", "))
	}
	return nil
}

func runSearch(ctx context.Context, e *env, args []string) error {
	fs := newFlags("search")
	title := fs.String("title", "", "título a buscar")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *title == "" && fs.NArg() > 0 {
		*title = strings.Join(fs.Args(), " ")
	}
	var res bookieclient.BookSearchResult
	err := e.session.WithAuthRetry(ctx, func(ctx context.Context, token string) error {
		var err error
		res, err = e.api.SearchBooks(ctx, token, *title)
		return err
	})
	if err != nil {
		return err
	}
	if len(res.Items) == 0 {
		fmt.Fprintln(e.out, "Sin resultados.")
		return nil
	}
	for _, item := range res.Items {
		fmt.Fprintf(e.out, "%-14s %s (%s)\n", item.ISBN, item.Title, authorsOf(item.Authors))
	}
	return nil
}

func runLibrary(ctx context.Context, e *env, _ []string) error {
	var entries []domain.LibraryEntry
	err := e.session.WithAuthRetry(ctx, func(ctx context.Context, token string) error {
		var err error
		entries, err = e.api.Library(ctx, token)
		return err
	})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(e.out, "Tu biblioteca está vacía.")
	}
	for _, entry := range entries {
		fmt.Fprintf(e.out, "%-14s %s (%s)\n", entry.Book.ISBN, entry.Book.Title, authorsOf(entry.Book.Authors))
	}
	return nil
}

func runEvents(ctx context.Context, e *env, _ []string) error {
	var events []domain.Event
	err := e.session.WithAuthRetry(ctx, func(ctx context.Context, token string) error {
		var err error
		events, err = e.api.Events(ctx, token)
		return err
	})
	if err != nil {
		return err
	}
	for _, ev := range events {
		fmt.Fprintf(e.out, "%s %s  %s @ %s [%s] %d asistentes\n", ev.Date, ev.Time, ev.Title, ev.Location, ev.Category, ev.Attendees)
	}
	return nil
}

func runSurprise(ctx context.Context, e *env, _ []string) error {
	var book domain.BookRecommendation
	err := e.session.WithAuthRetry(ctx, func(ctx context.Context, token string) error {
		var err error
		book, err = e.api.RandomBook(ctx, token)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, book.Title, "-", authorsOf(book.Authors))
	return nil
}

func authorsOf(authors []string) string {
	if len(authors) == 0 {
		return "Autor desconocido"
	}
	return strings.Join(authors, ", ")
}
