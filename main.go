package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"coursechat/internal/api"
	"coursechat/internal/auth"
	"coursechat/internal/commands"
	"coursechat/internal/config"
	"coursechat/internal/filestore"
	"coursechat/internal/session"
	"coursechat/internal/storage"
	"coursechat/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("coursechat", flag.ContinueOnError)
	envFile := flags.String("env", ".env", "File with environment overrides")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	files, err := filestore.NewLocalFileStore(cfg.PreviewsPath)
	if err != nil {
		return err
	}
	previews := filestore.NewPreviews(files, db)
	if n := previews.Sweep(); n > 0 {
		log.Printf("Removed %d stale previews", n)
	}

	var authSession *auth.Session
	client := api.New(api.Config{
		BaseURL: cfg.APIURL,
		Timeout: cfg.RequestTimeout,
		Token: func() string {
			if authSession == nil {
				return ""
			}
			return authSession.Token()
		},
		OnAuthFailure: func(reason api.AuthFailure) {
			if authSession != nil {
				authSession.ForceLogout(reason)
			}
		},
	})
	authSession, err = auth.New(auth.Config{API: client, Store: db})
	if err != nil {
		return err
	}

	env := &commands.Env{API: client, Auth: authSession, In: os.Stdin, Out: os.Stdout}
	if flags.NArg() > 0 {
		root := commands.NewRootCommand(env)
		root.SetArgs(flags.Args())
		return root.ExecuteContext(ctx)
	}

	user, ok := authSession.User()
	if !ok {
		return commands.ErrSignedOut
	}
	log.Printf("Signed in as %s", user.Name)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := session.New(ctx, session.Config{
		API:            client,
		Identity:       authSession,
		Previews:       previews,
		Preferences:    db,
		SearchDebounce: cfg.SearchDebounce,
		EchoWindow:     cfg.EchoWindow,
	})
	defer func() {
		if err := sess.Close(); err != nil {
			log.Printf("Failed to release previews: %v", err)
		}
	}()

	hub := ws.NewHub(sess)
	events := hub.Join("printer")
	subscriber := ws.NewSubscriber(ctx, ws.Config{
		URL:            cfg.WSURL,
		Handler:        hub,
		ReconnectDelay: cfg.ReconnectDelay,
		StateCallback: func(connected bool) {
			if !connected {
				log.Println("Live updates disconnected, reconnecting...")
			}
		},
	})
	authSession.OnTokenChange(func(token string) {
		subscriber.SetToken(token)
		if token == "" {
			log.Printf("Session ended: %s", authSession.LastFailure())
			cancel()
		}
	})
	subscriber.SetToken(authSession.Token())

	if err := sess.LoadCourses(ctx); err != nil {
		log.Printf("Server unavailable, showing sample courses: %v", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return commands.NewChat(sess, os.Stdout).Run(gCtx, os.Stdin)
	})

	g.Go(func() error {
		return commands.PrintEvents(gCtx, os.Stdout, sess.CurrentUserID, events)
	})

	// Disconnect once the chat ends or a signal arrives
	g.Go(func() error {
		<-gCtx.Done()
		subscriber.Close()
		hub.Leave("printer")
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
