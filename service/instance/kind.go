package instance

import (
	"syscall"

	"github.com/proxypanel/proxypanel/service/squid"
	"github.com/proxypanel/proxypanel/service/tunnel"
)

// kindSpec 按实例类型分派的能力集合
//
// 生命周期各操作只依赖这里的四个能力，不再散落 if kind 判断。
type kindSpec interface {
	// renderConfig 渲染引擎配置文本
	renderConfig(inst *Instance, p paths) string
	// engineArgs 引擎启动命令
	engineArgs(m *Manager, p paths) (bin string, args []string)
	// terminationSignal 停止实例时发给进程组的信号
	terminationSignal() syscall.Signal
	// requiredArtifacts 启动前必须存在的文件
	requiredArtifacts(inst *Instance, p paths) []string
	// needsCert 创建/更新时是否需要签发证书
	needsCert(inst *Instance) bool
	// certSubject 证书主体
	certSubject(inst *Instance) string
}

func specFor(kind Kind) (kindSpec, bool) {
	switch kind {
	case ForwardProxy:
		return forwardProxySpec{}, true
	case TLSTunnel:
		return tlsTunnelSpec{}, true
	default:
		return nil, false
	}
}

// ===== 正向代理（squid）=====

type forwardProxySpec struct{}

func (forwardProxySpec) renderConfig(inst *Instance, p paths) string {
	return squid.Generate(squid.Params{
		Name:       inst.Name,
		ListenPort: inst.ListenPort,
		TLSEnabled: inst.TLSEnabled,
		CertFile:   p.certFile,
		KeyFile:    p.keyFile,
		PasswdFile: p.passwd,
		LogDir:     p.logDir,
		PidFile:    p.pidFile,
	})
}

func (forwardProxySpec) engineArgs(m *Manager, p paths) (string, []string) {
	// -N 前台运行，面板持有进程句柄
	return m.cfg.SquidBin, []string{"-f", p.conf, "-N"}
}

func (forwardProxySpec) terminationSignal() syscall.Signal {
	return syscall.SIGTERM
}

func (forwardProxySpec) requiredArtifacts(inst *Instance, p paths) []string {
	files := []string{p.conf, p.passwd}
	if inst.TLSEnabled {
		files = append(files, p.certFile, p.keyFile)
	}
	return files
}

func (forwardProxySpec) needsCert(inst *Instance) bool { return inst.TLSEnabled }

func (forwardProxySpec) certSubject(inst *Instance) string { return inst.Name }

// ===== TLS 隧道（nginx SNI 分流）=====

type tlsTunnelSpec struct{}

func (tlsTunnelSpec) renderConfig(inst *Instance, p paths) string {
	return tunnel.Generate(tunnel.Params{
		Name:           inst.Name,
		ListenPort:     inst.ListenPort,
		ForwardAddress: inst.ForwardAddress,
		CoverDomain:    inst.CoverDomain,
		CoverSitePort:  inst.CoverSitePort,
		CertFile:       p.certFile,
		KeyFile:        p.keyFile,
		WWWDir:         p.www,
		LogDir:         p.logDir,
		PidFile:        p.pidFile,
	})
}

func (tlsTunnelSpec) engineArgs(m *Manager, p paths) (string, []string) {
	// daemon off 已写入配置
	return m.cfg.NginxBin, []string{"-c", p.conf}
}

// 隧道引擎收 SIGQUIT：先排空在途连接再退出，避免切断正在使用的隧道
func (tlsTunnelSpec) terminationSignal() syscall.Signal {
	return syscall.SIGQUIT
}

func (tlsTunnelSpec) requiredArtifacts(inst *Instance, p paths) []string {
	return []string{p.conf, p.certFile, p.keyFile}
}

func (tlsTunnelSpec) needsCert(inst *Instance) bool { return true }

func (tlsTunnelSpec) certSubject(inst *Instance) string {
	if inst.CoverDomain != "" {
		return inst.CoverDomain
	}
	return inst.Name
}
