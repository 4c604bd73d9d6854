package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config 系统配置
type Config struct {
	DataDir     string
	Debug       bool
	Version     string
	InstanceDir string // 各代理实例目录的根目录
	LogDir      string // 面板自身日志目录
	SquidBin    string // squid 引擎二进制路径
	NginxBin    string // nginx 引擎二进制路径
	JWTSecret   string // API Token 签名密钥
	DNSUpstream string // 诊断解析使用的上游 DNS
}

// Init 初始化配置
func Init(dataDir string) *Config {
	cfg := &Config{
		DataDir:     dataDir,
		Debug:       getEnvBool("PROXYPANEL_DEBUG", false),
		Version:     "1.0.0",
		InstanceDir: filepath.Join(dataDir, "instances"),
		LogDir:      filepath.Join(dataDir, "logs"),
		SquidBin:    getEnvString("PROXYPANEL_SQUID_BIN", "/usr/sbin/squid"),
		NginxBin:    getEnvString("PROXYPANEL_NGINX_BIN", "/usr/sbin/nginx"),
		JWTSecret:   getEnvString("PROXYPANEL_JWT_SECRET", ""),
		DNSUpstream: getEnvString("PROXYPANEL_DNS_UPSTREAM", "8.8.8.8:53"),
	}

	// 创建必要目录
	dirs := []string{cfg.InstanceDir, cfg.LogDir}
	for _, dir := range dirs {
		os.MkdirAll(dir, 0755)
	}

	return cfg
}

func getEnvString(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
