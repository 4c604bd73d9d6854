package instance

import "path/filepath"

// Kind 实例类型
type Kind string

const (
	ForwardProxy Kind = "forward_proxy" // squid 正向代理
	TLSTunnel    Kind = "tls_tunnel"    // nginx SNI 分流隧道
)

// 实例状态（运行时派生，不落盘）
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// Instance 代理实例元数据
//
// 持久化为实例目录下的 instance.json；Status 字段由内存中的进程句柄
// 表派生，序列化前会被清空。目录中没有 instance.json 的旧版本实例
// 在扫描时按正向代理处理。
type Instance struct {
	Name       string `json:"name"`
	Kind       Kind   `json:"kind"`
	ListenPort int    `json:"listen_port"`

	// 正向代理专用
	TLSEnabled bool `json:"tls_enabled,omitempty"`

	// TLS 隧道专用
	ForwardAddress string `json:"forward_address,omitempty"`
	CoverDomain    string `json:"cover_domain,omitempty"`
	CoverSitePort  int    `json:"cover_site_port,omitempty"`

	Status string `json:"status,omitempty"`
}

// paths 由实例名确定性推导的目录布局
type paths struct {
	dir      string // 实例根目录
	conf     string // 引擎配置
	certFile string
	keyFile  string
	passwd   string // htpasswd 凭据文件（正向代理）
	www      string // 伪装站点静态内容（隧道）
	logDir   string
	pidFile  string
}

func pathsFor(root, name string, kind Kind) paths {
	dir := filepath.Join(root, name)
	p := paths{
		dir:      dir,
		certFile: filepath.Join(dir, "server.crt"),
		keyFile:  filepath.Join(dir, "server.key"),
		passwd:   filepath.Join(dir, "passwd"),
		www:      filepath.Join(dir, "www"),
		logDir:   filepath.Join(dir, "logs"),
	}
	switch kind {
	case TLSTunnel:
		p.conf = filepath.Join(dir, "nginx.conf")
		p.pidFile = filepath.Join(dir, "nginx.pid")
	default:
		p.conf = filepath.Join(dir, "squid.conf")
		p.pidFile = filepath.Join(dir, "squid.pid")
	}
	return p
}

// PasswdFile 返回实例的凭据文件路径（仅正向代理有意义）
func (m *Manager) PasswdFile(name string) string {
	return pathsFor(m.cfg.InstanceDir, name, ForwardProxy).passwd
}
