// Package main provides the board daemon: it runs the special-order reroll
// engine as the multiplayer host or as a peer of one.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/zyedidia/generic/mapset"
	"go.uber.org/zap"

	"github.com/cory-johannsen/specialorders/internal/calendar"
	"github.com/cory-johannsen/specialorders/internal/config"
	"github.com/cory-johannsen/specialorders/internal/daemon"
	"github.com/cory-johannsen/specialorders/internal/observability"
	"github.com/cory-johannsen/specialorders/internal/protocol"
	"github.com/cory-johannsen/specialorders/internal/quest"
	"github.com/cory-johannsen/specialorders/internal/reroll"
	"github.com/cory-johannsen/specialorders/internal/server"
	"github.com/cory-johannsen/specialorders/internal/settings"
	"github.com/cory-johannsen/specialorders/internal/transport"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/boardd.yaml", "path to configuration file")
	interactive := flag.Bool("console", true, "read operator commands from stdin")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	peerID := cfg.Role.PeerID
	if peerID == "" {
		peerID = uuid.NewString()
	}
	logger = observability.ForPeer(logger, cfg.Role, peerID)

	// Board settings
	store := settings.NewFileStore(cfg.Content.SettingsPath, logger)
	local, err := store.Load()
	if err != nil {
		logger.Fatal("loading board settings", zap.String("path", store.Path()), zap.Error(err))
	}
	if _, err := os.Stat(store.Path()); errors.Is(err, fs.ErrNotExist) {
		if err := store.Save(local); err != nil {
			logger.Warn("writing default board settings", zap.Error(err))
		}
	}

	// World and catalog
	startDate := quest.WorldDate{
		Year:   cfg.World.StartYear,
		Season: quest.Season(cfg.World.StartSeason),
		Day:    cfg.World.StartDay,
	}
	world := quest.NewWorld(cfg.World.GameID, startDate, nil)

	templates, err := quest.LoadTemplates(cfg.Content.CatalogDir)
	if err != nil {
		logger.Fatal("loading order templates", zap.Error(err))
	}
	lib, err := quest.NewLibrary(templates, world, cfg.Content.ScriptInstructionLimit, logger)
	if err != nil {
		logger.Fatal("building order catalog", zap.Error(err))
	}
	defer lib.Close()
	logger.Info("catalog loaded",
		zap.Int("orders", lib.Len()),
		zap.String("dir", cfg.Content.CatalogDir),
	)

	lc := server.NewLifecycle(logger)

	// Transport
	var (
		conn transport.Conn
		role *reroll.StaticRole
	)
	if cfg.Role.IsHost() {
		hub := transport.NewHub(protocol.PeerID(peerID), cfg.Transport, logger)
		mux := http.NewServeMux()
		mux.Handle(cfg.Transport.Path, hub)
		httpSrv := &http.Server{
			Addr:              cfg.Transport.Addr(),
			Handler:           mux,
			ReadHeaderTimeout: cfg.Transport.HandshakeTimeout,
		}
		lc.Add("websocket", &server.FuncService{
			StartFn: func() error {
				logger.Info("listening for peers", zap.String("addr", httpSrv.Addr), zap.String("path", cfg.Transport.Path))
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			},
			StopFn: func() {
				_ = hub.Close()
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				_ = httpSrv.Shutdown(shutdownCtx)
			},
		})
		conn = hub
		role = reroll.HostRole(protocol.PeerID(peerID))
	} else {
		dialCtx, done := context.WithTimeout(ctx, cfg.Transport.HandshakeTimeout+time.Second)
		client, err := transport.Dial(dialCtx, cfg.Role.HostURL, protocol.PeerID(peerID), cfg.Transport, logger)
		done()
		if err != nil {
			logger.Fatal("connecting to host", zap.String("url", cfg.Role.HostURL), zap.Error(err))
		}
		defer client.Close()
		conn = client
		role = reroll.PeerRole(client.HostID())
	}

	loaded := mapset.New[string]()
	for _, id := range cfg.Content.LoadedMods {
		loaded.Put(id)
	}

	mgr, err := reroll.NewManager(reroll.Deps{
		Role:         role,
		Transport:    conn,
		World:        world,
		Team:         world.Team(),
		Catalog:      lib,
		Materializer: lib,
		Logger:       logger,
		ModLoaded:    loaded.Has,
	}, local)
	if err != nil {
		logger.Warn("initial board sync failed", zap.Error(err))
	}
	// The first day never sees a DayStarted event; boards scheduled for it are
	// filled here and the rest stay empty until their refresh day.
	if role.IsHost() {
		if err := mgr.OnDayStarted(world.Today()); err != nil {
			logger.Error("populating boards for the first day", zap.Error(err))
		}
	}

	clock := calendar.NewDayClock(startDate, cfg.World.DayLength)
	loop := daemon.New(daemon.Options{
		Manager: mgr,
		World:   world,
		Conn:    conn,
		Role:    role,
		Store:   store,
		Clock:   clock,
		Out:     os.Stdout,
		OnQuit:  cancel,
		Logger:  logger,
	})
	clock.Subscribe(loop.Days())

	lc.Add("event-loop", &server.FuncService{
		StartFn: func() error { return loop.Run(ctx) },
		StopFn:  loop.Stop,
	})

	clockDone := make(chan struct{})
	lc.Add("calendar", &server.FuncService{
		StartFn: func() error {
			clock.Start()
			<-clockDone
			return nil
		},
		StopFn: func() {
			clock.Stop()
			close(clockDone)
		},
	})

	if *interactive {
		consoleDone := make(chan struct{})
		lc.Add("console", &server.FuncService{
			StartFn: func() error {
				go func() {
					scanner := bufio.NewScanner(os.Stdin)
					for scanner.Scan() {
						if !loop.Submit(scanner.Text()) {
							return
						}
					}
				}()
				<-consoleDone
				return nil
			},
			StopFn: func() { close(consoleDone) },
		})
	}

	logger.Info("board daemon ready",
		zap.String("role", cfg.Role.Mode),
		zap.Stringer("date", startDate),
		zap.Duration("startup", time.Since(start)),
	)

	if err := lc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("board daemon stopped with error", zap.Error(err))
		os.Exit(1)
	}
}
