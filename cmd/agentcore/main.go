package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/hatcher/agentcore/agent/app"
	"github.com/hatcher/agentcore/agent/config"
	"github.com/hatcher/agentcore/agent/service"
	"github.com/hatcher/agentcore/pkg/hertzx"
	"github.com/hatcher/agentcore/pkg/logs"
)

func main() {
	configPath := flag.String("config", "agentcore.yaml", "配置文件路径")
	initConfig := flag.Bool("init", false, "写出默认配置后退出")
	flag.Parse()

	if *initConfig {
		if err := config.WriteDefault(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("default config written to %s\n", *configPath)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := logs.InitLogger(cfg.Log, "agentcore.log"); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		logs.Errorf("failed to start: %v", err)
		os.Exit(1)
	}

	h := hertzx.WebEngine(cfg.Web)
	service.NewService(a).Register(h.Engine)
	h.OnShutdown = append(h.OnShutdown, func(context.Context) {
		_ = a.Shutdown()
	})
	logs.Infof("agentcore listening on %s", cfg.Web.Addr())
	h.Spin()
}
