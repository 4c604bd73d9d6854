package tunnel

import (
	"fmt"
	"strings"
)

// Params TLS 隧道配置参数
type Params struct {
	Name           string
	ListenPort     int
	ForwardAddress string // 隧道后端 host:port
	CoverDomain    string // 伪装站点域名，可为空
	CoverSitePort  int    // 伪装站点回环端口
	CertFile       string // 伪装站点证书
	KeyFile        string
	WWWDir         string // 伪装站点静态内容目录
	LogDir         string
	PidFile        string
}

// CoverSitePort 推导伪装站点端口
//
// 约定为监听端口 +10000；超出端口上限时改用 -10000。两个分支对
// 1–65535 内的任意监听端口恰有一个落在合法区间，且结果必然不等于
// 监听端口本身。
func CoverSitePort(listenPort int) int {
	port := listenPort + 10000
	if port > 65535 {
		port = listenPort - 10000
	}
	return port
}

// SelectorIdent 由实例名推导 nginx 变量标识符
//
// nginx 变量名只接受字母数字和下划线，连字符、点号等一律替换。
func SelectorIdent(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Generate 渲染 nginx 配置文本（stream 分流 + 伪装站点）
//
// stream 段在不终止 TLS 的前提下预读 ClientHello 的 SNI：命中伪装
// 域名（或没有 SNI）的连接按原始字节转给回环上的伪装站点，其余连接
// 原样转给隧道后端，由后端自己完成 TLS 握手。
func Generate(p Params) string {
	ident := SelectorIdent(p.Name)
	coverAddr := fmt.Sprintf("127.0.0.1:%d", p.CoverSitePort)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("# proxypanel 生成的配置，实例: %s\n", p.Name))
	b.WriteString("daemon off;\n")
	b.WriteString("worker_processes 1;\n")
	b.WriteString(fmt.Sprintf("pid %s;\n", p.PidFile))
	b.WriteString(fmt.Sprintf("error_log %s/error.log;\n", p.LogDir))
	b.WriteString("\n")
	b.WriteString("events {\n    worker_connections 1024;\n}\n\n")

	// SNI 分流
	b.WriteString("stream {\n")
	b.WriteString(fmt.Sprintf("    map $ssl_preread_server_name $upstream_%s {\n", ident))
	if p.CoverDomain != "" {
		b.WriteString(fmt.Sprintf("        %s %s;\n", p.CoverDomain, coverAddr))
	}
	// 没有 SNI 的探测同样落到伪装站点
	b.WriteString(fmt.Sprintf("        \"\" %s;\n", coverAddr))
	b.WriteString(fmt.Sprintf("        default %s;\n", p.ForwardAddress))
	b.WriteString("    }\n\n")
	b.WriteString("    server {\n")
	b.WriteString(fmt.Sprintf("        listen %d;\n", p.ListenPort))
	b.WriteString("        ssl_preread on;\n")
	b.WriteString(fmt.Sprintf("        proxy_pass $upstream_%s;\n", ident))
	b.WriteString("    }\n")
	b.WriteString("}\n\n")

	// 伪装站点：仅回环可达的 TLS 静态站
	serverName := p.CoverDomain
	if serverName == "" {
		serverName = "_"
	}
	b.WriteString("http {\n")
	b.WriteString(fmt.Sprintf("    access_log %s/cover_access.log;\n\n", p.LogDir))
	b.WriteString("    server {\n")
	b.WriteString(fmt.Sprintf("        listen 127.0.0.1:%d ssl;\n", p.CoverSitePort))
	b.WriteString(fmt.Sprintf("        server_name %s;\n", serverName))
	b.WriteString(fmt.Sprintf("        ssl_certificate %s;\n", p.CertFile))
	b.WriteString(fmt.Sprintf("        ssl_certificate_key %s;\n", p.KeyFile))
	b.WriteString(fmt.Sprintf("        root %s;\n", p.WWWDir))
	b.WriteString("        index index.html;\n")
	b.WriteString("    }\n")
	b.WriteString("}\n")

	return b.String()
}

// DefaultIndexHTML 伪装站点的默认首页
//
// 只在站点目录为空时生成一次，之后内容归用户所有，重新生成配置
// 不会覆盖。
func DefaultIndexHTML(domain string) string {
	title := domain
	if title == "" {
		title = "Welcome"
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title></head>
<body>
<h1>%s</h1>
<p>This site is under construction.</p>
</body>
</html>
`, title, title)
}
