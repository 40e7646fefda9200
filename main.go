package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/Rjbeckwith55/app/internal/cache"
	"github.com/Rjbeckwith55/app/internal/config"
	"github.com/Rjbeckwith55/app/internal/gatekeeper"
	"github.com/Rjbeckwith55/app/internal/logging"
	"github.com/Rjbeckwith55/app/internal/manifest"
	"github.com/Rjbeckwith55/app/internal/network"
	"github.com/Rjbeckwith55/app/internal/proxy"
	"github.com/Rjbeckwith55/app/internal/server"
	"github.com/Rjbeckwith55/app/internal/server/routes"
	"github.com/Rjbeckwith55/app/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	resources, err := manifest.LoadOrDefault(cfg.Cache.ResourceTable)
	if err != nil {
		fmt.Fprintf(stdErr, "加载资源表失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["cache"] = cfg.Cache.Summary()
		fields["origin"] = cfg.Origin.URL
		fields["resources"] = resources.Len()
		fields["digest"] = resources.Digest()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 资源表 → 缓存存储 → 网关 → activate → Fiber server，
	// 保证 activate 完成前不对外提供服务。
	gk, storage, err := buildGatekeeper(cfg, resources, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存网关失败: %v\n", err)
		return 1
	}
	defer storage.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["cache"] = cfg.Cache.Summary()
	fields["origin"] = cfg.Origin.URL
	fields["credentials"] = cfg.Origin.Credentials
	fields["listen_port"] = cfg.Global.ListenPort
	fields["resources"] = resources.Len()
	fields["activate_endpoint"] = cfg.Diagnostics.ActivateEnabled()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if cfg.Cache.ActivateOnStart {
		if err := gk.Activate(context.Background()); err != nil {
			fmt.Fprintf(stdErr, "缓存激活失败: %v\n", err)
			return 1
		}
	}

	if err := startHTTPServer(cfg, gk, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("app-cache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 APP_CACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("APP_CACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// buildGatekeeper 组装缓存存储、回源客户端与网关；调用方负责关闭返回的 Storage。
func buildGatekeeper(cfg *config.Config, resources *manifest.Table, logger *logrus.Logger) (*gatekeeper.Gatekeeper, cache.Storage, error) {
	storage, err := cache.NewStorage(cfg.Cache.Backend, cfg.Global.StoragePath)
	if err != nil {
		return nil, nil, err
	}

	client, err := network.NewClient(server.NewUpstreamClient(cfg), cfg.Origin.URL, cfg.Origin.Proxy)
	if err != nil {
		storage.Close()
		return nil, nil, err
	}

	credentials, err := network.ParseCredentialsMode(cfg.Origin.Credentials)
	if err != nil {
		storage.Close()
		return nil, nil, err
	}

	gk, err := gatekeeper.New(gatekeeper.Options{
		CacheName:           cfg.Cache.Name,
		Resources:           resources,
		Storage:             storage,
		Network:             client,
		Logger:              logger,
		Credentials:         credentials,
		PopulateConcurrency: cfg.Cache.PopulateConcurrency,
		PurgeForeign:        cfg.Cache.PurgeForeign,
	})
	if err != nil {
		storage.Close()
		return nil, nil, err
	}
	return gk, storage, nil
}

func startHTTPServer(cfg *config.Config, gk *gatekeeper.Gatekeeper, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      proxy.NewHandler(gk, logger, gk.CacheName()),
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticsRoutes(app, gk, logger, routes.DiagnosticsOptions{
		ActivateToken: cfg.Diagnostics.ActivateToken,
	})

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
