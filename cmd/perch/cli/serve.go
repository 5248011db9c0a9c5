package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/purrrlove/perch/internal/audit"
	"github.com/purrrlove/perch/internal/ratelimit"
	"github.com/purrrlove/perch/internal/server"
	"github.com/purrrlove/perch/internal/service"
	"github.com/purrrlove/perch/internal/telemetry"
)

const banner = `
 ___ ___ ___  ___ _  _
| _ \ __| _ \/ __| || |
|  _/ _||   / (__| __ |
|_| |___|_|_\\___|_||_|
`

func newServeCmd() *cobra.Command {
	var (
		port   int
		host   string
		dev    bool
		daemon bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Perch gateway server",
		Long:  "Start the HTTP gateway that authenticates, rate limits, and routes API traffic.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemon {
				return runDaemonize()
			}
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging, error details, CORS *)")
	cmd.Flags().BoolVarP(&daemon, "daemon", "d", false, "Run in the background")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

// runDaemonize re-executes the current command in a detached session with
// output redirected to the log file.
func runDaemonize() error {
	if pid, err := readPID(); err == nil && isProcessRunning(pid) {
		return fmt.Errorf("server already running (PID %d)", pid)
	}

	args := []string{"serve"}
	for _, a := range os.Args[2:] {
		if a != "--daemon" && a != "-d" {
			args = append(args, a)
		}
	}

	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return err
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(os.Args[0], args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setSysProcAttr(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start background server: %w", err)
	}
	if err := writePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	fmt.Printf("Server started in background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	fmt.Printf("  Stop: perch stop\n")
	return nil
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	var handler slog.Handler
	if viper.GetString("log.format") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)

	ctx := context.Background()

	// 1. Credential store
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("store initialized", "driver", st.Driver())

	// 2. Rate-limit counters: Redis when configured, in-process otherwise
	var counters ratelimit.CounterStore
	redisAddr := viper.GetString("redis.addr")
	if redisAddr != "" {
		rc, err := ratelimit.DialRedis(ctx, redisAddr, viper.GetString("redis.password"), viper.GetInt("redis.db"))
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rc.Close()
		counters = rc
		logger.Info("rate limiting via redis", "addr", redisAddr)
	} else {
		counters = ratelimit.NewMemoryCounters()
		logger.Warn("rate limiting in-process; limits are per instance, configure redis.addr for shared counters")
	}
	var tiers map[string]ratelimit.Tier
	if tiersPath := viper.GetString("ratelimit.tiers_file"); tiersPath != "" {
		tiers, err = ratelimit.LoadTiers(tiersPath)
		if err != nil {
			return fmt.Errorf("load tiers: %w", err)
		}
		logger.Info("tier overrides loaded", "path", tiersPath)
	}
	limiter := ratelimit.NewLimiter(counters, tiers)

	// 3. Audit sink: structured log plus the security_events table
	sink := audit.Multi{
		audit.NewLogger(logger),
		audit.NewStoreSink(st, logger),
	}

	// 4. Services
	jwtSecret := viper.GetString("auth.jwt_secret")
	if jwtSecret == "" {
		if !dev {
			return fmt.Errorf("auth.jwt_secret is not set; configure it or set PERCH_AUTH_JWT_SECRET")
		}
		jwtSecret = "perch-dev-secret-change-me"
		logger.Warn("using development JWT secret")
	}
	sessions := service.NewSessionService(st, jwtSecret, viper.GetDuration("auth.session_ttl"))
	authSvc := service.NewAuthService(st, sessions, sink, logger)
	keys := service.NewKeyService(st)
	oauth := service.NewOAuthService(st, sink)

	// 5. First-run check
	hasUser, err := st.HasAnyUser(ctx)
	if err != nil {
		logger.Warn("failed to check for users", "error", err)
	}
	if !hasUser {
		logger.Warn("no user accounts found - run: perch user create")
	}

	// 6. HTTP server
	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	srvCfg.DevMode = dev
	if origins := viper.GetStringSlice("server.cors.allowed_origins"); len(origins) > 0 {
		srvCfg.CORSOrigins = origins
	}
	if dev {
		srvCfg.CORSOrigins = []string{"*"}
	}
	if burst := viper.GetInt("server.burst_per_minute"); burst > 0 {
		srvCfg.BurstPerMinute = burst
	}

	srv := server.New(srvCfg, server.Deps{
		Store:    st,
		Limiter:  limiter,
		Auth:     authSvc,
		Sessions: sessions,
		Keys:     keys,
		OAuth:    oauth,
		Sink:     sink,
	}, logger)

	// 7. Telemetry
	tracker := telemetry.New(ctx, st, func() telemetry.Properties {
		users, _ := st.CountUsers(ctx)
		apiKeys, _ := st.CountAPIKeys(ctx)
		clients, _ := st.CountOAuthClients(ctx)
		return telemetry.Properties{
			Version:      versionString(),
			StoreDriver:  st.Driver(),
			RedisEnabled: redisAddr != "",
			Users:        users,
			APIKeys:      apiKeys,
			OAuthClients: clients,
		}
	})
	if tracker != nil {
		telemetry.PrintNotice()
		tracker.Start()
		defer tracker.Shutdown()
	}

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write pid file", "error", err)
	}
	defer removePID()

	fmt.Printf("→ Perch %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ OpenAPI:  http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("→ Health:   http://%s:%d/healthz\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}
