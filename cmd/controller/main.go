// Command controller is the process entrypoint: it loads the persisted
// TOML configuration (§6), wires every manager in the dependency order
// the engine's packages require, starts the controller loop on its own
// goroutine, and serves the Manage/Client RPC boundary over HTTP until a
// shutdown signal (or a request_stop RPC) triggers the graceful-stop
// sequence documented in internal/controller.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/auth"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/config"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/controller"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/event"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/group"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/id"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/logging"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/metrics"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/node"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/plugin"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/rpc"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/screen"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/server"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/user"
)

func main() {
	configDir := getEnv("CONFIG_DIR", "./configs")
	logLevel := getEnv("LOG_LEVEL", "info")
	logPretty := getEnv("LOG_PRETTY", "false") == "true"
	natsURL := os.Getenv("NATS_URL")

	log.Println("Starting atomic-cloud controller...")

	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		log.Fatalf("Failed to load config.toml: %v", err)
	}

	zlog := logging.New(cfg.Identifier, logLevel, logPretty)
	zlog.Info().Str("config_dir", configDir).Msg("configuration loaded")

	wasmEngineCfg, err := config.LoadWasmEngine(configDir)
	if err != nil {
		log.Fatalf("Failed to load wasm-engine.toml: %v", err)
	}
	wasmPlugins, err := config.LoadWasmPlugins(configDir)
	if err != nil {
		log.Fatalf("Failed to load wasm-plugins.toml: %v", err)
	}

	storedNodes, err := config.LoadNodes(zlog, configDir+"/nodes")
	if err != nil {
		log.Fatalf("Failed to load nodes: %v", err)
	}
	storedGroups, err := config.LoadGroups(zlog, configDir+"/groups")
	if err != nil {
		log.Fatalf("Failed to load groups: %v", err)
	}
	storedUsers, err := config.LoadUsers(zlog, configDir+"/users")
	if err != nil {
		log.Fatalf("Failed to load users: %v", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	eventBus := event.NewBus(zlog)
	if natsURL != "" {
		bridge, err := event.NewNatsBridge(zlog, natsURL)
		if err != nil {
			zlog.Warn().Err(err).Msg("failed to connect NATS event bridge, continuing without it")
		} else {
			bridge.Attach(context.Background(), eventBus)
		}
	}

	screenMgr := screen.NewManager(zlog, id.DefaultRingCapacity)

	pluginHost := plugin.NewHost(zlog)
	registerPlugins(context.Background(), zlog, pluginHost, configDir, wasmEngineCfg, wasmPlugins)

	authRegistry := auth.NewRegistry()
	bootstrapUsers(zlog, authRegistry, storedUsers)

	nodeMgr := node.NewManager(zlog)
	nodeMgr.LoadAll(storedNodes, pluginHost)

	serverMgr := server.NewManager(zlog, server.Deps{
		Nodes:            nodeMgr,
		Tokens:           authRegistry,
		Screens:          screenMgr,
		Events:           eventBus,
		RestartTimeout:   cfg.RestartTimeout,
		StartupTimeout:   cfg.StartupTimeout,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
	})

	groupMgr := group.NewManager(zlog, serverMgr, cfg.EmptyServerTimeout)
	loadGroups(zlog, groupMgr, storedGroups)

	userMgr := user.NewManager(zlog, serverMgr, groupMgr, eventBus, cfg.TransferTimeout)
	serverMgr.SetUserPurger(userMgr)

	queue := controller.NewQueue(1024)
	svc := rpc.NewService(zlog, queue, authRegistry, nodeMgr, groupMgr, serverMgr, userMgr, screenMgr, eventBus)

	rootCtx, shutdown := context.WithCancel(context.Background())

	engine := controller.New(zlog, queue, controller.Components{
		Plugins: pluginHost,
		Nodes:   nodeMgr,
		Groups:  groupMgr,
		Servers: serverMgr,
		Users:   userMgr,
		Screens: screenMgr,
		Events:  eventBus,
	}, m, controller.Config{TickRate: cfg.TickRate})

	go engine.Run(rootCtx)

	router := rpc.NewRouter(svc, zlog, shutdown)
	ginEngine := router.Build()
	ginEngine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           ginEngine,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		zlog.Info().Str("bind_address", cfg.BindAddr).Msg("RPC server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start RPC server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		zlog.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		shutdown()
	case <-rootCtx.Done():
		// request_stop RPC already cancelled the context.
	}

	shutdownTimeout := time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_SECS", 30)) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn().Err(err).Msg("RPC server forced to shutdown")
	}

	<-engine.Done()
	zlog.Info().Msg("controller stopped")
}

// registerPlugins loads every plugin named in configs/wasm-plugins.toml as
// a sandboxed WASM module from "<configDir>/plugins/<name>.wasm", plus an
// always-available in-process loopback driver used by tests and by any
// deployment that has no real driver configured yet. A missing or
// unreadable .wasm file for a configured plugin is logged and skipped —
// the node manager will simply report that node unusable, matching the
// "per-entry skip" policy applied to the rest of the boot-time config.
func registerPlugins(ctx context.Context, log zerolog.Logger, host *plugin.Host, configDir string, engineCfg *config.WasmEngineConfig, perms map[string]config.PluginPermissions) {
	if _, err := host.Register(ctx, "loopback", plugin.NewLoopbackDriver(log), nil); err != nil {
		log.Warn().Err(err).Msg("failed to register loopback driver")
	}

	for name, p := range perms {
		path := fmt.Sprintf("%s/plugins/%s.wasm", configDir, name)
		bytes, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Str("plugin", name).Str("path", path).Err(err).Msg("wasm module not found, plugin will not be usable")
			continue
		}
		grants := plugin.Grants{
			HTTPEgress:      p.HTTPEgress,
			FilesystemMount: p.FilesystemMount,
			ProcessSpawn:    p.ProcessSpawn,
			DirectoryRemove: p.DirectoryRemove,
		}
		wh, err := plugin.NewWasmHost(ctx, log, name, bytes, grants, engineCfg.EpochInterval())
		if err != nil {
			log.Warn().Str("plugin", name).Err(err).Msg("failed to instantiate wasm plugin")
			continue
		}
		if _, err := host.Register(ctx, name, wh, wh.Close); err != nil {
			log.Warn().Str("plugin", name).Err(err).Msg("failed to init wasm plugin")
		}
	}
}

// bootstrapUsers registers every configured user token, or — if no user
// files exist at all — mints a fresh admin token with every permission bit
// and logs it once, matching the original controller's "empty users
// directory" bootstrap behavior.
func bootstrapUsers(log zerolog.Logger, reg *auth.Registry, stored map[string]config.StoredUser) {
	if len(stored) == 0 {
		token, err := auth.CreateUser()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to mint bootstrap admin token")
		}
		reg.AddUser("admin", token, auth.PermAll)
		log.Info().Str("token", token).Msg("no users configured, created bootstrap admin with full permissions (save this token, it will not be shown again)")
		return
	}
	for name, u := range stored {
		reg.AddUser(name, u.Token, auth.Permissions(u.Permissions))
	}
}

// loadGroups constructs a group.Group from each decoded configs/groups/*.toml
// entry and registers it with the manager. A duplicate name (shouldn't
// happen from a directory walk, but config files can be hand-edited) is
// logged and skipped rather than aborting startup.
func loadGroups(log zerolog.Logger, mgr *group.Manager, stored map[string]config.StoredGroup) {
	for name, sg := range stored {
		g := group.New(name)
		g.Active = sg.Status != "inactive"
		g.Nodes = append([]string(nil), sg.Nodes...)
		g.Constraints = group.Constraints{Min: sg.Constraints.Min, Max: sg.Constraints.Max, Priority: sg.Constraints.Priority}
		g.Scaling = group.ScalingPolicy{
			Enabled:         sg.Scaling.Enabled,
			StartThreshold:  sg.Scaling.StartThreshold,
			StopEmptyServer: sg.Scaling.StopEmptyServer,
		}
		g.Resources = server.Resources{
			MemoryMB: sg.Resources.MemoryMB,
			SwapMB:   sg.Resources.SwapMB,
			CPU:      sg.Resources.CPU,
			DiskMB:   sg.Resources.DiskMB,
			IO:       sg.Resources.IO,
		}
		g.PortCount = sg.Resources.Ports
		g.Spec = server.Spec{Image: sg.Spec.Image, Env: sg.Spec.Env, Settings: sg.Spec.Settings}
		g.MaxPlayers = sg.Spec.MaxPlayers
		g.FallbackEnabled = sg.Spec.FallbackEnable
		g.FallbackPriority = sg.Spec.FallbackPrio
		if sg.Spec.DiskRetention == "permanent" {
			g.Retention = server.Permanent
		} else {
			g.Retention = server.Temporary
		}

		if err := mgr.Create(g); err != nil {
			log.Warn().Str("group", name).Err(err).Msg("failed to register group from config, skipping")
		}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
