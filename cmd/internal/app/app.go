// Package app wires the gateway runtime: config, logging, the session core, the
// membership capability, the Telegram bot and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"botgate/cmd/internal/clock"
	"botgate/cmd/internal/httpapi"
	"botgate/cmd/internal/ledger"
	"botgate/cmd/internal/membership"
	"botgate/cmd/internal/metrics"
	"botgate/cmd/internal/reaper"
	"botgate/cmd/internal/session"
	"botgate/cmd/internal/telegram"
	"botgate/cmd/internal/token"
	"botgate/cmd/internal/verify"
	"botgate/cmd/security/adminkey"
)

// App owns every long-lived component of the process.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	roster *membership.PostgresChecker

	sessions *session.Store
	ledger   *ledger.Ledger
	engine   *verify.Engine
	reaper   *reaper.Reaper
	metrics  *metrics.Metrics
	api      *httpapi.Handler
	bot      *telegram.Bot
}

// New constructs a fully wired App from config and logger.
//
// The membership capability is chosen by configuration: BOT_TOKEN selects the
// Telegram Bot API, otherwise DATABASE_URL selects the Postgres roster, otherwise
// every check is unverifiable.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	verifyCfg, err := verify.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	tokenCfg, err := token.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}
	clk := clock.Real{}

	a.sessions, err = session.NewStore(sessCfg, session.WithClock(clk), session.WithLogger(log))
	if err != nil {
		return nil, err
	}
	a.ledger = ledger.New(clk, log)
	a.metrics = metrics.New(a.sessions)

	if cfg.DatabaseURL != "" {
		a.dbPool, a.roster, err = openRoster(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
	}

	checker, botAPI, err := a.newChecker()
	if err != nil {
		a.close()
		return nil, err
	}

	a.engine, err = verify.NewEngine(verifyCfg, a.sessions, a.ledger, checker,
		verify.WithLogger(log),
		verify.WithRecorder(a.metrics),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	if verifyCfg.AllowUnverifiable {
		log.Warn("verify.allow_unverifiable", "groups", verifyCfg.Groups)
	}
	if len(verifyCfg.Groups) == 0 {
		log.Warn("verify.no_required_groups")
	}

	a.reaper, err = reaper.New(a.sessions, sessCfg.ReapInterval, sessCfg.TTL, clk, log, a.metrics)
	if err != nil {
		a.close()
		return nil, err
	}

	tokens, err := token.NewManager(tokenCfg)
	if err != nil {
		a.close()
		return nil, err
	}
	if tokens.Ephemeral() {
		log.Warn("token.key.ephemeral", "hint", "set TOKEN_SECRET_KEY_HEX to keep tokens valid across restarts")
	}

	apiOpts := []httpapi.Option{
		httpapi.WithLogger(log),
		httpapi.WithClock(clk),
		httpapi.WithTokens(tokens),
		httpapi.WithSessionCounter(a.metrics),
		httpapi.WithWebSocket(cfg.WSPollInterval, wsOriginPatterns(cfg.CORSAllowedOrigins)),
	}
	if cfg.LogsAdminKeyHash != "" {
		v, err := adminkey.NewVerifier(cfg.LogsAdminKeyHash)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("LOGS_ADMIN_KEY_HASH: %w", err)
		}
		apiOpts = append(apiOpts, httpapi.WithAdminKey(v))
	} else {
		log.Warn("http.logs.unprotected", "hint", "set LOGS_ADMIN_KEY_HASH to require X-Admin-Key")
	}

	if botAPI != nil {
		apiOpts = append(apiOpts, httpapi.WithBotUsername(botAPI.Self.UserName))
		a.bot = telegram.NewBot(botAPI, a.engine,
			telegram.WithLogger(log),
			telegram.WithStartObserver(a.metrics),
			telegram.WithProductName(cfg.ProductName),
			telegram.WithPollTimeout(cfg.BotPollTimeout),
		)
	}

	a.api, err = httpapi.NewHandler(a.sessions, a.ledger, a.engine, apiOpts...)
	if err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

func (a *App) newChecker() (verify.MembershipChecker, *tgbotapi.BotAPI, error) {
	switch {
	case a.cfg.BotToken != "":
		api, err := tgbotapi.NewBotAPI(a.cfg.BotToken)
		if err != nil {
			return nil, nil, fmt.Errorf("telegram: %w", err)
		}
		a.log.Info("membership.telegram", "bot", api.Self.UserName)
		return telegram.NewChatMemberChecker(api), api, nil

	case a.roster != nil:
		a.log.Info("membership.postgres", "schema", a.cfg.MembershipSchema)
		return a.roster, nil, nil

	default:
		a.log.Warn("membership.unavailable", "hint", "set BOT_TOKEN or DATABASE_URL")
		return verify.Unavailable{}, nil, nil
	}
}

// Handler returns the full HTTP stack, middleware included.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a)

	var h http.Handler = mux
	h = WithSecurityHeaders(h)
	h = WithCORS(h, a.cfg, a.log)
	return WithRequestLogging(h, a.log)
}

// Run serves HTTP and runs the reaper and the bot until ctx is cancelled or one
// of them fails.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)
	srv := a.newServer(gctx)

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws/session",
		"db_enabled", a.dbPool != nil,
		"bot_enabled", a.bot != nil,
	)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error { return a.reaper.Run(gctx) })

	if a.bot != nil {
		g.Go(func() error { return a.bot.Run(gctx) })
	}

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
}

// newServer builds the HTTP server. Request contexts derive from ctx, so hijacked
// websocket loops end with it; Shutdown does not track them.
func (a *App) newServer(ctx context.Context) *http.Server {
	return &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}
}

func (a *App) close() {
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

// wsOriginPatterns derives websocket.Accept host patterns from the CORS allowlist.
func wsOriginPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		switch {
		case o == "*":
			return []string{"*"}
		case strings.HasSuffix(o, ":*"):
			if u, err := url.Parse(strings.TrimSuffix(o, ":*")); err == nil && u.Host != "" {
				out = append(out, u.Host+":*")
			}
		default:
			if u, err := url.Parse(o); err == nil && u.Host != "" {
				out = append(out, u.Host)
			}
		}
	}
	return out
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
