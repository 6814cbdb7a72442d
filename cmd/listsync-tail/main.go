// Command listsync-tail connects to a listsync server as one user, keeps the
// connection alive and prints room events and unread counts as they change.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-listsync/internal/config"
	"github.com/npezzotti/go-listsync/internal/server"
	"github.com/npezzotti/go-listsync/internal/syncagent"
	"github.com/npezzotti/go-listsync/internal/types"
	"github.com/rs/zerolog"
)

var (
	baseURL  string
	token    string
	userId   int
	listId   int
	logLevel string

	retryDelay time.Duration
	maxRetries int
)

type printer struct {
	log zerolog.Logger
}

func (p printer) HandleEvent(ev server.Event) {
	p.log.Info().Str("room", ev.Room).Str("event", ev.Name).RawJSON("payload", ev.Payload).Send()
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("load .env")
	}

	flag.StringVar(&baseURL, "url", config.Env("LISTSYNC_URL", "http://localhost:8000"), "server base URL")
	flag.StringVar(&token, "token", config.Env("LISTSYNC_TOKEN", ""), "bearer token")
	flag.IntVar(&userId, "user", config.EnvInt("LISTSYNC_USER", 0), "id of the user the token belongs to")
	flag.IntVar(&listId, "list", 0, "list to open after connecting")
	flag.StringVar(&logLevel, "log-level", "info", "log level")
	flag.DurationVar(&retryDelay, "retry-delay", syncagent.DefaultRetryDelay, "delay between reconnect attempts")
	flag.IntVar(&maxRetries, "max-retries", syncagent.DefaultMaxRetryAttempts, "reconnect attempts before giving up")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()
	if lvl, err := zerolog.ParseLevel(logLevel); err == nil {
		logger = logger.Level(lvl)
	}

	if token == "" || userId <= 0 {
		logger.Fatal().Msg("-token and -user are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens := syncagent.StaticToken(token)
	rest := syncagent.NewRESTClient(baseURL, tokens, &http.Client{Timeout: 10 * time.Second})

	state := syncagent.NewState(logger, userId)
	unread := syncagent.NewUnreadTracker(logger, userId)

	agent := syncagent.New(logger, syncagent.NewWSDialer(baseURL, tokens), rest,
		syncagent.WithHandlers(state, unread, printer{log: logger}),
		syncagent.WithRetryer(syncagent.FixedDelay{Delay: retryDelay, MaxAttempts: maxRetries}),
	)

	if listId > 0 {
		sub := unread.Subscribe(types.ListScope(listId), func(count int) {
			logger.Info().Int("list", listId).Int("unread", count).Msg("unread changed")
		})
		defer sub.Unsubscribe()
		agent.OpenList(listId)
	}

	go agent.Run(ctx)
	agent.Connect()

	for {
		select {
		case <-ctx.Done():
			agent.Close()
			return
		case n := <-agent.Notices():
			logger.Info().Stringer("status", agent.Status().State).Msg(n.String())
			switch n {
			case syncagent.NoticeConnected:
				// the agent started the tracker's journal before joining, so
				// events that race this pull are replayed over it
				ids, err := rest.UnreadIds(ctx)
				if err != nil {
					logger.Warn().Err(err).Msg("unread baseline")
					continue
				}
				unread.Reset(ids)
			case syncagent.NoticeAuthFailed:
				return
			}
		}
	}
}
