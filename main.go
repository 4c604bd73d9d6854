package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/proxypanel/proxypanel/api"
	"github.com/proxypanel/proxypanel/api/middleware"
	"github.com/proxypanel/proxypanel/model"
	"github.com/proxypanel/proxypanel/pkg/config"
	"github.com/proxypanel/proxypanel/pkg/logger"
	"github.com/proxypanel/proxypanel/service/cert"
	"github.com/proxypanel/proxypanel/service/htpasswd"
	"github.com/proxypanel/proxypanel/service/instance"
)

// Version 由构建时 ldflags 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var (
	port    = flag.Int("port", 8080, "HTTP 监听端口")
	dataDir = flag.String("data", "./data", "数据目录")
)

func main() {
	flag.Parse()

	// 初始化日志
	log := logger.Init()
	log.Infof("ProxyPanel %s 启动中...", Version)

	// 确保数据目录存在
	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		log.Fatalf("创建数据目录失败: %v", err)
	}

	// 初始化配置
	cfg := config.Init(*dataDir)
	cfg.Version = Version

	// 初始化数据库
	db, err := model.InitDB(*dataDir)
	if err != nil {
		log.Fatalf("数据库初始化失败: %v", err)
	}

	// 签名密钥优先用环境变量，否则用建库时生成的
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = model.GetConfigValue(db, "jwt_secret")
	}
	middleware.SetSecret(cfg.JWTSecret)

	// 初始化各服务管理器
	certMgr := cert.NewManager(log)
	htpasswdMgr := htpasswd.NewManager(log)
	instanceMgr := instance.NewManager(db, log, cfg, certMgr)

	// 盘点已落盘的实例
	instanceMgr.StartAll()

	// 证书巡检，每 12 小时一次
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 12h", instanceMgr.CheckCertificates); err != nil {
		log.Fatalf("注册证书巡检任务失败: %v", err)
	}
	scheduler.Start()

	// 设置 Gin 模式
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化路由
	router := api.NewRouter(api.RouterOptions{
		DB:          db,
		Log:         log,
		Config:      cfg,
		InstanceMgr: instanceMgr,
		HtpasswdMgr: htpasswdMgr,
	})

	addr := fmt.Sprintf(":%d", *port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// 优雅关闭
	go func() {
		log.Infof("ProxyPanel 已启动，监听 http://0.0.0.0%s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭 ProxyPanel...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	scheduler.Stop()
	instanceMgr.StopAll()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务关闭出错: %v", err)
	}

	log.Info("ProxyPanel 已关闭")
}
