package squid

import (
	"fmt"
	"strings"
)

// Params 正向代理配置参数
type Params struct {
	Name       string
	ListenPort int
	TLSEnabled bool
	CertFile   string // TLS 监听使用的服务器证书
	KeyFile    string
	PasswdFile string // htpasswd 凭据文件
	LogDir     string
	PidFile    string
	AuthHelper string // basic_ncsa_auth 路径
}

// DefaultAuthHelper 常见发行版的 ncsa 认证助手路径
const DefaultAuthHelper = "/usr/lib/squid/basic_ncsa_auth"

// Generate 渲染 squid 配置文本
//
// 纯函数：仅由参数决定输出。TLS 开启时监听指令携带实例自己的证书
// 对，且任何情况下都不得出现 ssl-bump / sslcrtd_program 之类的流量
// 拦截指令——面板不签发 CA 证书，带上这类指令引擎会拒绝启动。
func Generate(p Params) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# proxypanel 生成的配置，实例: %s\n", p.Name))

	// 监听指令：普通与 TLS 终止二选一
	if p.TLSEnabled {
		b.WriteString(fmt.Sprintf("https_port %d tls-cert=%s tls-key=%s\n",
			p.ListenPort, p.CertFile, p.KeyFile))
	} else {
		b.WriteString(fmt.Sprintf("http_port %d\n", p.ListenPort))
	}
	b.WriteString("\n")

	// 认证：实例独立的 htpasswd 文件
	helper := p.AuthHelper
	if helper == "" {
		helper = DefaultAuthHelper
	}
	b.WriteString(fmt.Sprintf("auth_param basic program %s %s\n", helper, p.PasswdFile))
	b.WriteString("auth_param basic realm proxy\n")
	b.WriteString("acl authenticated proxy_auth REQUIRED\n")
	b.WriteString("http_access allow authenticated\n")
	b.WriteString("http_access deny all\n")
	b.WriteString("\n")

	// 匿名化：去掉会暴露客户端的请求头
	b.WriteString("forwarded_for delete\n")
	b.WriteString("via off\n")
	b.WriteString("request_header_access X-Forwarded-For deny all\n")
	b.WriteString("request_header_access Forwarded deny all\n")
	b.WriteString("request_header_access Via deny all\n")
	b.WriteString("\n")

	// 不落盘缓存任何响应
	b.WriteString("cache deny all\n")
	b.WriteString("cache_dir null /tmp\n")
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("access_log %s/access.log\n", p.LogDir))
	b.WriteString(fmt.Sprintf("cache_log %s/cache.log\n", p.LogDir))
	b.WriteString(fmt.Sprintf("pid_filename %s\n", p.PidFile))

	return b.String()
}

// ParseListenPort 从已生成的配置文本中提取监听端口
//
// 旧版本实例目录没有元数据记录，列表时需要从配置反推端口。
func ParseListenPort(conf string) int {
	for _, line := range strings.Split(conf, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if fields[0] == "http_port" || fields[0] == "https_port" {
			var port int
			if _, err := fmt.Sscanf(fields[1], "%d", &port); err == nil {
				return port
			}
		}
	}
	return 0
}
