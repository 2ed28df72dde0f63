// Command homeserver is the bootstrap binary for the Matrix homeserver
// core: it reads the bootstrap config, opens the object store, seeds the
// server configuration on first boot, and runs the HTTP listeners and the
// background scheduler until a signal or an admin proc command stops it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/matrixkeep/homeserver/internal/auth"
	"github.com/matrixkeep/homeserver/internal/bootcfg"
	"github.com/matrixkeep/homeserver/internal/cron"
	"github.com/matrixkeep/homeserver/internal/handlers"
	"github.com/matrixkeep/homeserver/internal/metrics"
	"github.com/matrixkeep/homeserver/internal/mxconfig"
	"github.com/matrixkeep/homeserver/internal/objstore"
	"github.com/matrixkeep/homeserver/internal/obslog"
	"github.com/matrixkeep/homeserver/internal/ratelimit"
	"github.com/matrixkeep/homeserver/internal/server"
	"github.com/matrixkeep/homeserver/internal/token"
	"github.com/matrixkeep/homeserver/internal/uia"
	"github.com/matrixkeep/homeserver/internal/user"
)

const version = "0.1.0"

// cronPeriod is the scheduler tick; uiaCleanupInterval is how often the
// whole user_interactive collection is truncated, bounding how long a
// client may sit on a half-finished auth session.
const (
	cronPeriod         = time.Second
	uiaCleanupInterval = 30 * time.Minute
)

type cliConfig struct {
	configPath string
	storePath  string
	logLevel   string
	version    bool
	command    string
}

func parseFlags() *cliConfig {
	cfg := &cliConfig{}
	flag.StringVar(&cfg.configPath, "config", "", "Path to bootstrap configuration file")
	flag.StringVar(&cfg.storePath, "store", "", "Path to the object store directory (overrides config)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, notice, message, warning, error")
	flag.BoolVar(&cfg.version, "version", false, "Print version and exit")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		cfg.command = args[0]
	}
	return cfg
}

func main() {
	cli := parseFlags()

	if cli.version || cli.command == "version" {
		fmt.Printf("homeserver %s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH)
		return
	}

	switch cli.command {
	case "init":
		if err := runInit(cli); err != nil {
			fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
			os.Exit(1)
		}
		return
	case "validate":
		if err := runValidate(cli); err != nil {
			fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("configuration ok")
		return
	case "", "serve":
		// fall through to the serve loop
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (try: serve, init, validate, version)\n", cli.command)
		os.Exit(1)
	}

	// The serve loop re-runs on an admin-requested restart; any other exit
	// reason terminates the process.
	for {
		restart, err := serve(cli)
		if err != nil {
			fmt.Fprintf(os.Stderr, "homeserver: %v\n", err)
			os.Exit(1)
		}
		if !restart {
			return
		}
	}
}

// procCtl implements handlers.ProcController against the serve loop's
// shutdown channel.
type procCtl struct {
	startedAt time.Time
	stopCh    chan bool // value: restart requested
}

func (p *procCtl) signal(restart bool) error {
	select {
	case p.stopCh <- restart:
		return nil
	default:
		return fmt.Errorf("shutdown already in progress")
	}
}

func (p *procCtl) Restart() error  { return p.signal(true) }
func (p *procCtl) Shutdown() error { return p.signal(false) }

func (p *procCtl) Stats() map[string]any {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return map[string]any{
		"version":     version,
		"uptime_ms":   time.Since(p.startedAt).Milliseconds(),
		"goroutines":  runtime.NumGoroutine(),
		"heap_alloc":  m.HeapAlloc,
		"total_alloc": m.TotalAlloc,
		"num_gc":      m.NumGC,
	}
}

// serve runs one full server lifetime: open store, seed config, wire
// subsystems, listen, and block until a signal or proc command. Returns
// whether a restart was requested.
func serve(cli *cliConfig) (bool, error) {
	boot, err := bootcfg.Load(cli.configPath)
	if err != nil {
		return false, err
	}
	if cli.storePath != "" {
		boot.StorePath = cli.storePath
	}
	if cli.logLevel != "" {
		boot.LogLevel = cli.logLevel
	}

	store, err := objstore.Open(boot.StorePath)
	if err != nil {
		return false, err
	}

	facade := mxconfig.New(store)
	exists, err := facade.Exists()
	if err != nil {
		return false, err
	}
	if !exists {
		if _, err := facade.CreateDefault(); err != nil {
			return false, err
		}
	}

	h, err := facade.Lock()
	if err != nil {
		return false, err
	}
	if h.Err != "" {
		return false, fmt.Errorf("config document is invalid: %s", h.Err)
	}
	cfg := h.Config
	if err := facade.Unlock(h); err != nil {
		return false, err
	}
	store.SetMaxCache(cfg.MaxCache)

	logCfg := obslog.Config{Output: cfg.Log.Output, Level: cfg.Log.Level}
	if boot.LogLevel != "" {
		logCfg.Level = boot.LogLevel
	}
	if logCfg.Output == "file" {
		logCfg.Path = filepath.Join(boot.StorePath, "homeserver.log")
	}
	log, err := obslog.New(logCfg)
	if err != nil {
		return false, err
	}
	log = log.WithComponent("main")

	users := user.New(store)
	tokens := token.New(store)
	uiaEngine := uia.New(store, users, tokens)
	authn := auth.New(tokens, users)

	proc := &procCtl{startedAt: time.Now(), stopCh: make(chan bool, 1)}
	deps := &handlers.Deps{
		Store:  store,
		Config: facade,
		Users:  users,
		Tokens: tokens,
		UIA:    uiaEngine,
		Auth:   authn,
		Log:    log.WithComponent("handlers"),
		Proc:   proc,
	}

	limiter := ratelimit.New(10, 30, 5*time.Minute)
	srv := server.New(deps, cfg, limiter, log.WithComponent("server"))

	sched := cron.New(cronPeriod)
	sched.Every(uiaCleanupInterval, func() {
		if err := uiaEngine.Cleanup(); err != nil {
			log.Error("uia cleanup failed", "error", err)
			return
		}
		metrics.RecordCronRun("uia_cleanup")
	})
	sched.Start()

	srv.Start()
	for _, l := range cfg.Listen {
		scheme := "http"
		if l.TLS != nil {
			scheme = "https"
		}
		log.Info("listening", "scheme", scheme, "port", l.Port, "server_name", cfg.ServerName)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	restart := false
	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig.String())
	case restart = <-proc.stopCh:
		if restart {
			log.Info("restart requested via admin endpoint")
		} else {
			log.Info("shutdown requested via admin endpoint")
		}
	}
	signal.Stop(sigCh)

	sched.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.Warn("listener shutdown incomplete", "error", err)
	}
	log.Info("stopped")
	return restart, nil
}

// runValidate loads the bootstrap config and, if the store already has a
// config document, parses it, reporting the first problem found.
func runValidate(cli *cliConfig) error {
	boot, err := bootcfg.Load(cli.configPath)
	if err != nil {
		return err
	}
	if cli.storePath != "" {
		boot.StorePath = cli.storePath
	}

	store, err := objstore.Open(boot.StorePath)
	if err != nil {
		return err
	}
	facade := mxconfig.New(store)
	exists, err := facade.Exists()
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("no config document in store %s (run 'homeserver init' or start the server to seed defaults)", boot.StorePath)
	}
	h, err := facade.Lock()
	if err != nil {
		return err
	}
	defer func() { _ = facade.Unlock(h) }()
	if h.Err != "" {
		return fmt.Errorf("%s", h.Err)
	}
	return nil
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	pathStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// runInit is the interactive first-run wizard: it prompts for the handful
// of settings worth asking about, seeds the store's config document, and
// writes a bootstrap TOML pointing at the store.
func runInit(cli *cliConfig) error {
	fmt.Println(titleStyle.Render("homeserver setup"))
	fmt.Println()

	defaults := bootcfg.DefaultConfig()
	storePath := defaults.StorePath
	if cli.storePath != "" {
		storePath = cli.storePath
	}
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "localhost"
	}

	serverName := hostname
	portStr := "8008"
	registration := false

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Server name").
				Description("The DNS name clients will use in user IDs, e.g. @alice:example.org").
				Value(&serverName).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("server name must not be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Listen port").
				Value(&portStr).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 || n > 65535 {
						return fmt.Errorf("port must be 1-65535")
					}
					return nil
				}),
			huh.NewInput().
				Title("Object store directory").
				Value(&storePath),
			huh.NewConfirm().
				Title("Enable open registration?").
				Description("Anyone who can reach the server may create an account").
				Value(&registration),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	port, _ := strconv.Atoi(portStr)

	store, err := objstore.Open(storePath)
	if err != nil {
		return err
	}
	facade := mxconfig.New(store)
	if exists, err := facade.Exists(); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("store %s already has a config document", storePath)
	}

	cfg, err := facade.CreateDefault()
	if err != nil {
		return err
	}
	h, err := facade.Lock()
	if err != nil {
		return err
	}
	if h.Err != "" {
		return fmt.Errorf("seeded config failed to parse: %s", h.Err)
	}
	h.Config.ServerName = serverName
	h.Config.BaseURL = "https://" + serverName + "/"
	h.Config.Listen[0].Port = uint16(port)
	h.Config.Registration = registration
	if err := facade.Unlock(h); err != nil {
		return err
	}
	cfg = h.Config

	tomlPath := cli.configPath
	if tomlPath == "" {
		tomlPath = "./homeserver.toml"
	}
	tomlBody := fmt.Sprintf("store_path = %q\nlog_output = %q\nlog_level = %q\n",
		storePath, cfg.Log.Output, cfg.Log.Level)
	if err := os.WriteFile(tomlPath, []byte(tomlBody), 0o640); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(okStyle.Render("✓") + " config document seeded in " + pathStyle.Render(storePath))
	fmt.Println(okStyle.Render("✓") + " bootstrap config written to " + pathStyle.Render(tomlPath))
	fmt.Printf("\nStart the server with:\n\n  homeserver -config %s\n\n", tomlPath)
	return nil
}
