package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"bookie/pkg/aichat"
	"bookie/pkg/bookieclient"
	"bookie/pkg/channels"
	"bookie/pkg/domain"
	"bookie/pkg/realtime"
)

// connectLive opens the realtime session for the signed-in user and returns
// a channel directory bound to it. The caller must Disconnect the client.
func connectLive(ctx context.Context, e *env) (*realtime.Client, *channels.Directory, error) {
	tokens := e.session.Tokens()
	if tokens.UserID == "" {
		return nil, nil, bookieclient.ErrAuthenticationRequired
	}
	// Refreshes a stale access token before it is used for the handshake.
	err := e.session.WithAuthRetry(ctx, func(ctx context.Context, token string) error {
		_, err := e.api.Me(ctx, token)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	url, err := realtime.URLFromAPI(e.api.BaseURL())
	if err != nil {
		return nil, nil, fmt.Errorf("realtime url: %w", err)
	}
	rt := realtime.New(realtime.Config{URL: url, Logger: e.logger})
	token, err := e.session.AccessToken()
	if err != nil {
		return nil, nil, err
	}
	user := realtime.User{ID: tokens.UserID, Name: tokens.Username, Image: tokens.Avatar}
	if err := rt.Connect(ctx, user, token); err != nil {
		return nil, nil, err
	}
	dir := channels.NewDirectory(e.api, e.session, channels.NewLive(rt), channels.WithLogger(e.logger))
	dir.OnState(func(s channels.OpState) {
		if r, ok := s.(channels.Rejected); ok {
			e.logger.Debug("channel operation rejected", "op", string(r.Op), "channel_id", r.ChannelID, "err", r.Err)
		}
	})
	return rt, dir, nil
}

func runChannels(ctx context.Context, e *env, _ []string) error {
	var list []domain.ChannelSummary
	err := e.session.WithAuthRetry(ctx, func(ctx context.Context, token string) error {
		var err error
		list, err = e.api.PublicChannels(ctx, token)
		return err
	})
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(e.out, "Todavía no hay canales.")
	}
	for _, ch := range list {
		fmt.Fprintf(e.out, "%-32s %s (%d miembros)\n", ch.ID, ch.Name, ch.MemberCount)
	}
	return nil
}

func runMyChannels(ctx context.Context, e *env, _ []string) error {
	var list []domain.Channel
	err := e.session.WithAuthRetry(ctx, func(ctx context.Context, token string) error {
		var err error
		list, err = e.api.MyChannels(ctx, token)
		return err
	})
	if err != nil {
		return err
	}
	self := e.session.Tokens().UserID
	for _, ch := range list {
		mark := ""
		if ch.CreatedByID == self {
			mark = " *"
		}
		fmt.Fprintf(e.out, "%-32s %s%s\n", ch.ID, ch.Name, mark)
	}
	return nil
}

func runOpen(ctx context.Context, e *env, args []string) error {
	fs := newFlags("open")
	isbn := fs.String("isbn", "", "ISBN del libro")
	title := fs.String("title", "", "título del libro")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rt, dir, err := connectLive(ctx, e)
	if err != nil {
		return err
	}
	defer rt.Disconnect()

	var att channels.Attachment
	if *isbn != "" {
		att, err = dir.CreateOrJoinByISBN(ctx, channels.Book{ISBN: *isbn, Title: *title})
	} else {
		att, err = dir.CreateOrJoinByTitle(ctx, *title)
	}
	if err != nil {
		return err
	}
	if att.Created {
		fmt.Fprintln(e.out, "Canal creado.")
	}
	return chatRoom(ctx, e, rt, att)
}

func runJoin(ctx context.Context, e *env, args []string) error {
	fs := newFlags("join")
	id := fs.String("id", "", "id del canal")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rt, dir, err := connectLive(ctx, e)
	if err != nil {
		return err
	}
	defer rt.Disconnect()
	att, err := dir.JoinByID(ctx, *id)
	if err != nil {
		return err
	}
	return chatRoom(ctx, e, rt, att)
}

func runLeave(ctx context.Context, e *env, args []string) error {
	fs := newFlags("leave")
	id := fs.String("id", "", "id del canal")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rt, dir, err := connectLive(ctx, e)
	if err != nil {
		return err
	}
	defer rt.Disconnect()
	if err := dir.Leave(ctx, *id); err != nil {
		if errors.Is(err, channels.ErrNotMember) {
			return fmt.Errorf("no eres miembro de %s", *id)
		}
		return err
	}
	fmt.Fprintln(e.out, "Has salido del canal.")
	return nil
}

func runDelete(ctx context.Context, e *env, args []string) error {
	fs := newFlags("delete")
	id := fs.String("id", "", "id del canal")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rt, dir, err := connectLive(ctx, e)
	if err != nil {
		return err
	}
	defer rt.Disconnect()

	var detail domain.ChannelDetail
	err = e.session.WithAuthRetry(ctx, func(ctx context.Context, token string) error {
		var err error
		detail, err = e.api.GetChannel(ctx, token, *id)
		return err
	})
	if err != nil {
		return err
	}
	if err := dir.Delete(ctx, detail.Channel); err != nil {
		if errors.Is(err, channels.ErrNotCreator) {
			return errors.New("solo quien creó el canal puede eliminarlo")
		}
		return err
	}
	fmt.Fprintln(e.out, "Canal eliminado.")
	return nil
}

// chatRoom prints the channel live and posts every stdin line until the
// user types /salir, the channel is deleted or the connection drops.
func chatRoom(ctx context.Context, e *env, rt *realtime.Client, att channels.Attachment) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu    sync.Mutex
		names = map[string]string{}
	)
	for _, m := range att.State.Members {
		names[m.User.ID] = m.User.Username
	}
	nameOf := func(id string) string {
		mu.Lock()
		defer mu.Unlock()
		if n := names[id]; n != "" {
			return n
		}
		return id
	}
	printMessage := func(m domain.ChannelMessage) {
		fmt.Fprintf(e.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), nameOf(m.UserID), m.Text)
	}

	fmt.Fprintf(e.out, "== %s (%d miembros) ==\n", att.State.Channel.Name, channels.MemberCount(att.State))
	for _, m := range att.State.Messages {
		printMessage(m)
	}
	fmt.Fprintln(e.out, "Escribe un mensaje y pulsa Enter. /miembros lista los miembros, /salir termina.")

	ch := rt.Channel(domain.ChannelMessaging, att.ChannelID)
	var scope realtime.Scope
	defer scope.Close()
	scope.Add(ch.On(realtime.EventMessageNew, func(ev realtime.Event) {
		if ev.Message != nil {
			printMessage(*ev.Message)
		}
	}))
	scope.Add(ch.On(realtime.EventMemberAdded, func(ev realtime.Event) {
		if ev.Member == nil {
			return
		}
		mu.Lock()
		names[ev.Member.User.ID] = ev.Member.User.Username
		mu.Unlock()
		fmt.Fprintf(e.out, "-- %s se unió al canal\n", ev.Member.User.Username)
	}))
	scope.Add(ch.On(realtime.EventMemberRemoved, func(ev realtime.Event) {
		if ev.Member != nil {
			fmt.Fprintf(e.out, "-- %s salió del canal\n", nameOf(ev.Member.User.ID))
		}
	}))
	scope.Add(ch.On(realtime.EventChannelDeleted, func(realtime.Event) {
		fmt.Fprintln(e.out, "-- el canal fue eliminado")
		cancel()
	}))
	scope.Add(rt.On(realtime.EventConnectionChanged, func(ev realtime.Event) {
		if !ev.Connected {
			fmt.Fprintln(e.out, "-- conexión perdida")
			cancel()
		}
	}))

	lines := readLines(ctx, e)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch line {
			case "":
				continue
			case "/salir":
				return nil
			case "/miembros":
				for _, m := range ch.State().Members {
					fmt.Fprintln(e.out, " -", m.User.Username)
				}
				continue
			}
			if _, err := ch.SendMessage(ctx, line); err != nil {
				fmt.Fprintln(e.out, "!! no se pudo enviar:", describe(err))
			}
		}
	}
}

func readLines(ctx context.Context, e *env) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(e.in)
		for scanner.Scan() {
			select {
			case out <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func runAsk(ctx context.Context, e *env, args []string) error {
	if !e.session.Authenticated() {
		return bookieclient.ErrAuthenticationRequired
	}
	conv := aichat.New(e.api, e.session, aichat.WithLogger(e.logger))
	defer conv.Close()

	// Replies stream in as a growing last message; print only the new suffix.
	var (
		lastIdx = -1
		printed int
	)
	conv.OnChange(func(msgs []domain.Message) {
		idx := len(msgs) - 1
		if idx < 0 || msgs[idx].Role != domain.RoleAssistant {
			return
		}
		content := msgs[idx].Content
		if idx != lastIdx || len(content) < printed {
			lastIdx, printed = idx, 0
			fmt.Fprint(e.out, "\n📖 ")
		}
		fmt.Fprint(e.out, content[printed:])
		printed = len(content)
	})

	if len(args) > 0 {
		err := conv.Send(ctx, strings.Join(args, " "))
		fmt.Fprintln(e.out)
		return err
	}

	fmt.Fprintln(e.out, "📖 "+aichat.Greeting)
	fmt.Fprintln(e.out, "/sorpresa pide una recomendación al azar, /salir termina.")
	for line := range readLines(ctx, e) {
		switch line {
		case "":
			continue
		case "/salir":
			return nil
		case "/sorpresa":
			_, _ = conv.SurpriseMe(ctx)
		default:
			_ = conv.Send(ctx, line)
		}
		fmt.Fprint(e.out, "\n> ")
	}
	return nil
}
