package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/proxypanel/proxypanel/api/handlers"
	"github.com/proxypanel/proxypanel/api/middleware"
	"github.com/proxypanel/proxypanel/pkg/config"
	"github.com/proxypanel/proxypanel/service/htpasswd"
	"github.com/proxypanel/proxypanel/service/instance"
)

// RouterOptions 路由选项
type RouterOptions struct {
	DB          *gorm.DB
	Log         *logrus.Logger
	Config      *config.Config
	InstanceMgr *instance.Manager
	HtpasswdMgr *htpasswd.Manager
}

// NewRouter 创建路由
func NewRouter(opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())

	// API 路由组
	apiV1 := r.Group("/api/v1")

	// 公开路由（无需认证）
	authHandler := handlers.NewAuthHandler(opts.DB, opts.Log)
	apiV1.POST("/auth/login", authHandler.Login)
	apiV1.POST("/auth/logout", authHandler.Logout)

	// 需要认证的路由
	auth := apiV1.Group("")
	auth.Use(middleware.JWTAuth())

	// 系统信息
	sysHandler := handlers.NewSystemHandler(opts.DB, opts.Log, opts.Config)
	auth.GET("/system/info", sysHandler.GetInfo)
	auth.GET("/system/stats", sysHandler.GetStats)
	auth.GET("/system/logs", sysHandler.GetLogs)
	auth.GET("/system/config", sysHandler.GetConfig)
	auth.PUT("/system/config", sysHandler.UpdateConfig)
	auth.POST("/system/change-password", authHandler.ChangePassword)

	// 代理实例
	instHandler := handlers.NewInstanceHandler(opts.InstanceMgr, opts.Config, opts.Log)
	auth.GET("/instances", instHandler.List)
	auth.POST("/instances", instHandler.Create)
	auth.GET("/instances/:name", instHandler.Get)
	auth.PUT("/instances/:name", instHandler.Update)
	auth.DELETE("/instances/:name", instHandler.Delete)
	auth.POST("/instances/:name/start", instHandler.Start)
	auth.POST("/instances/:name/stop", instHandler.Stop)
	auth.POST("/instances/:name/restart", instHandler.Restart)
	auth.GET("/instances/:name/diagnose", instHandler.Diagnose)

	// 正向代理用户凭据
	credHandler := handlers.NewCredentialHandler(opts.InstanceMgr, opts.HtpasswdMgr, opts.Log)
	auth.GET("/instances/:name/users", credHandler.List)
	auth.POST("/instances/:name/users", credHandler.Add)
	auth.DELETE("/instances/:name/users/:user", credHandler.Remove)

	return r
}
