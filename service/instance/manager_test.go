package instance

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/proxypanel/proxypanel/pkg/config"
	"github.com/proxypanel/proxypanel/service/cert"
	"github.com/sirupsen/logrus"
)

// newTestManager 用假引擎脚本替代 squid/nginx，脚本忽略参数常驻后台
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dataDir := t.TempDir()

	engine := filepath.Join(dataDir, "engine.sh")
	if err := os.WriteFile(engine, []byte("#!/bin/sh\nsleep 300\n"), 0755); err != nil {
		t.Fatalf("写入假引擎失败: %v", err)
	}

	cfg := &config.Config{
		DataDir:     dataDir,
		InstanceDir: filepath.Join(dataDir, "instances"),
		LogDir:      filepath.Join(dataDir, "logs"),
		SquidBin:    engine,
		NginxBin:    engine,
	}
	os.MkdirAll(cfg.InstanceDir, 0755)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	m := NewManager(nil, log, cfg, cert.NewManager(log))
	t.Cleanup(m.StopAll)
	return m
}

func kindOf(t *testing.T, err error) ErrKind {
	t.Helper()
	var ie *Error
	if !errors.As(err, &ie) {
		t.Fatalf("错误缺少类别: %v", err)
	}
	return ie.Kind
}

func TestCreateValidation(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"Bad name traversal", CreateRequest{Name: "../etc", Kind: ForwardProxy, ListenPort: 3128}},
		{"Bad name charset", CreateRequest{Name: "a b", Kind: ForwardProxy, ListenPort: 3128}},
		{"Bad port", CreateRequest{Name: "p1", Kind: ForwardProxy, ListenPort: 70000}},
		{"Zero port", CreateRequest{Name: "p1", Kind: ForwardProxy, ListenPort: 0}},
		{"Unknown kind", CreateRequest{Name: "p1", Kind: "socks5", ListenPort: 1080}},
		{"Tunnel no forward", CreateRequest{Name: "t1", Kind: TLSTunnel, ListenPort: 8443}},
		{"Tunnel bad forward", CreateRequest{Name: "t1", Kind: TLSTunnel, ListenPort: 8443, ForwardAddress: "host:abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Create(tt.req)
			if err == nil {
				t.Fatal("Create() 应失败")
			}
			if kindOf(t, err) != KindValidation {
				t.Errorf("错误类别 = %v, want KindValidation", kindOf(t, err))
			}
			// 校验失败不得留下任何副作用
			if m.store.exists(tt.req.Name) {
				t.Error("校验失败后实例目录仍被创建")
			}
		})
	}
}

func TestCreateForwardProxyLifecycle(t *testing.T) {
	m := newTestManager(t)

	inst, err := m.Create(CreateRequest{Name: "proxy1", Kind: ForwardProxy, ListenPort: 3128})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if inst.Status != StatusRunning {
		t.Errorf("新建实例状态 = %s, want running", inst.Status)
	}

	// 列表恰好一个运行中的实例
	insts, err := m.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(insts) != 1 || insts[0].Name != "proxy1" {
		t.Fatalf("List() = %v, want 仅 proxy1", insts)
	}
	if insts[0].Status != StatusRunning {
		t.Errorf("List 状态 = %s, want running", insts[0].Status)
	}

	// 端到端：配置包含监听指令
	conf, err := os.ReadFile(filepath.Join(m.cfg.InstanceDir, "proxy1", "squid.conf"))
	if err != nil {
		t.Fatalf("读取配置失败: %v", err)
	}
	if !strings.Contains(string(conf), "http_port 3128") {
		t.Error("配置缺少 http_port 3128")
	}

	// 凭据文件已初始化
	if _, err := os.Stat(m.PasswdFile("proxy1")); err != nil {
		t.Errorf("凭据文件未创建: %v", err)
	}

	if err := m.Stop("proxy1"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got, _ := m.Get("proxy1"); got.Status != StatusStopped {
		t.Errorf("停止后状态 = %s, want stopped", got.Status)
	}

	// 停止态再停一次是幂等的
	if err := m.Stop("proxy1"); err != nil {
		t.Errorf("重复 Stop() error = %v", err)
	}

	if err := m.Start("proxy1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got, _ := m.Get("proxy1"); got.Status != StatusRunning {
		t.Errorf("重启后状态 = %s, want running", got.Status)
	}
}

func TestCreateDuplicate(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Create(CreateRequest{Name: "proxy1", Kind: ForwardProxy, ListenPort: 3128}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, err := m.Create(CreateRequest{Name: "proxy1", Kind: ForwardProxy, ListenPort: 3129})
	if err == nil || kindOf(t, err) != KindConflict {
		t.Errorf("重复创建应返回冲突错误, got %v", err)
	}
}

func TestCreateTunnel(t *testing.T) {
	m := newTestManager(t)

	inst, err := m.Create(CreateRequest{
		Name:           "tunnel1",
		Kind:           TLSTunnel,
		ListenPort:     8443,
		ForwardAddress: "vpn.example.com:1194",
		CoverDomain:    "cover.example.com",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if inst.CoverSitePort != 18443 {
		t.Errorf("CoverSitePort = %d, want 18443", inst.CoverSitePort)
	}

	dir := filepath.Join(m.cfg.InstanceDir, "tunnel1")
	conf, err := os.ReadFile(filepath.Join(dir, "nginx.conf"))
	if err != nil {
		t.Fatalf("读取配置失败: %v", err)
	}
	// 选择器同时引用伪装域名与转发目标
	if !strings.Contains(string(conf), "cover.example.com") {
		t.Error("配置缺少伪装域名")
	}
	if !strings.Contains(string(conf), "vpn.example.com:1194") {
		t.Error("配置缺少转发目标")
	}

	// 证书对与默认首页已生成
	for _, f := range []string{"server.crt", "server.key", "www/index.html"} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Errorf("工件 %s 缺失: %v", f, err)
		}
	}
}

func TestUpdateForwardAddress(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Create(CreateRequest{
		Name:           "tunnel1",
		Kind:           TLSTunnel,
		ListenPort:     8443,
		ForwardAddress: "vpn.example.com:1194",
		CoverDomain:    "cover.example.com",
	}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// 用户内容不被重新生成覆盖
	index := filepath.Join(m.cfg.InstanceDir, "tunnel1", "www", "index.html")
	if err := os.WriteFile(index, []byte("user content"), 0644); err != nil {
		t.Fatal(err)
	}

	addr := "backup.example.net:1195"
	if err := m.Update("tunnel1", UpdateRequest{ForwardAddress: &addr}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	conf, _ := os.ReadFile(filepath.Join(m.cfg.InstanceDir, "tunnel1", "nginx.conf"))
	if !strings.Contains(string(conf), "backup.example.net:1195") {
		t.Error("更新后的配置缺少新转发地址")
	}
	if strings.Contains(string(conf), "vpn.example.com:1194") {
		t.Error("更新后的配置仍包含旧转发地址")
	}

	// 运行中的实例更新后仍在运行（已重启）
	if got, _ := m.Get("tunnel1"); got.Status != StatusRunning {
		t.Errorf("更新后状态 = %s, want running", got.Status)
	}

	data, _ := os.ReadFile(index)
	if string(data) != "user content" {
		t.Error("更新覆盖了用户的伪装站点内容")
	}
}

func TestUpdateValidation(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Create(CreateRequest{Name: "proxy1", Kind: ForwardProxy, ListenPort: 3128}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	badPort := 0
	if err := m.Update("proxy1", UpdateRequest{ListenPort: &badPort}); err == nil || kindOf(t, err) != KindValidation {
		t.Errorf("非法端口更新应返回校验错误, got %v", err)
	}

	addr := "x:1"
	if err := m.Update("proxy1", UpdateRequest{ForwardAddress: &addr}); err == nil || kindOf(t, err) != KindValidation {
		t.Errorf("正向代理不应接受转发地址, got %v", err)
	}

	if err := m.Update("ghost", UpdateRequest{}); err == nil || kindOf(t, err) != KindNotFound {
		t.Errorf("更新不存在实例应返回 NotFound, got %v", err)
	}
}

func TestStartBrokenInstance(t *testing.T) {
	m := newTestManager(t)

	// 模拟早年创建失败留下的半成品目录：有元数据没有配置
	inst := &Instance{Name: "broken", Kind: ForwardProxy, ListenPort: 3128}
	os.MkdirAll(filepath.Join(m.cfg.InstanceDir, "broken"), 0755)
	if err := m.store.save(inst); err != nil {
		t.Fatal(err)
	}

	err := m.Start("broken")
	if err == nil {
		t.Fatal("缺配置的实例 Start() 应失败")
	}
	if kindOf(t, err) != KindProcess {
		t.Errorf("错误类别 = %v, want KindProcess", kindOf(t, err))
	}
}

func TestRemoveIdempotent(t *testing.T) {
	m := newTestManager(t)

	removed, err := m.Remove("ghost")
	if err != nil {
		t.Fatalf("Remove(ghost) error = %v", err)
	}
	if removed {
		t.Error("删除不存在实例应返回 false")
	}

	if _, err := m.Create(CreateRequest{Name: "proxy1", Kind: ForwardProxy, ListenPort: 3128}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	removed, err = m.Remove("proxy1")
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if !removed {
		t.Error("删除已存在实例应返回 true")
	}
	if _, err := os.Stat(filepath.Join(m.cfg.InstanceDir, "proxy1")); !os.IsNotExist(err) {
		t.Error("实例目录未被删除")
	}

	// 连续两次删除安全
	removed, err = m.Remove("proxy1")
	if err != nil || removed {
		t.Errorf("二次 Remove() = (%v, %v), want (false, nil)", removed, err)
	}

	// 名字立即可复用
	if _, err := m.Create(CreateRequest{Name: "proxy1", Kind: ForwardProxy, ListenPort: 3128}); err != nil {
		t.Errorf("删除后重建失败: %v", err)
	}
}

func TestRemoveIncompleteDir(t *testing.T) {
	m := newTestManager(t)

	// 只有空目录的残骸也要能删
	os.MkdirAll(filepath.Join(m.cfg.InstanceDir, "husk"), 0755)
	removed, err := m.Remove("husk")
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if !removed {
		t.Error("残骸目录应被删除")
	}
}

func TestListLegacyInstance(t *testing.T) {
	m := newTestManager(t)

	// 旧版本实例：只有 squid.conf，没有 instance.json
	dir := filepath.Join(m.cfg.InstanceDir, "oldproxy")
	os.MkdirAll(dir, 0755)
	conf := "http_port 3199\ncache deny all\n"
	if err := os.WriteFile(filepath.Join(dir, "squid.conf"), []byte(conf), 0644); err != nil {
		t.Fatal(err)
	}

	insts, err := m.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(insts) != 1 {
		t.Fatalf("List() 数量 = %d, want 1", len(insts))
	}
	if insts[0].Kind != ForwardProxy {
		t.Errorf("旧版本实例类型 = %s, want forward_proxy", insts[0].Kind)
	}
	if insts[0].ListenPort != 3199 {
		t.Errorf("旧版本实例端口 = %d, want 3199", insts[0].ListenPort)
	}
	if insts[0].Status != StatusStopped {
		t.Errorf("旧版本实例状态 = %s, want stopped", insts[0].Status)
	}
}

func TestStopUnknown(t *testing.T) {
	m := newTestManager(t)
	err := m.Stop("ghost")
	if err == nil || kindOf(t, err) != KindNotFound {
		t.Errorf("停止不存在实例应返回 NotFound, got %v", err)
	}
}

func TestStaleArtifactRecovery(t *testing.T) {
	m := newTestManager(t)

	// 外部工具把配置路径占成了目录，创建时应清理后继续
	dir := filepath.Join(m.cfg.InstanceDir, "proxy1")
	os.MkdirAll(filepath.Join(dir, "squid.conf"), 0755)

	if _, err := m.Create(CreateRequest{Name: "proxy1", Kind: ForwardProxy, ListenPort: 3128}); err != nil {
		t.Fatalf("Create() 未能从残骸恢复: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "squid.conf"))
	if err != nil {
		t.Fatalf("配置文件缺失: %v", err)
	}
	if info.IsDir() {
		t.Error("配置路径仍是目录")
	}
}

func TestConcurrentDifferentNames(t *testing.T) {
	m := newTestManager(t)

	done := make(chan error, 2)
	go func() {
		_, err := m.Create(CreateRequest{Name: "p1", Kind: ForwardProxy, ListenPort: 3128})
		done <- err
	}()
	go func() {
		_, err := m.Create(CreateRequest{Name: "p2", Kind: ForwardProxy, ListenPort: 3129})
		done <- err
	}()
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("并发创建失败: %v", err)
			}
		case <-time.After(30 * time.Second):
			t.Fatal("并发创建超时")
		}
	}

	insts, _ := m.List()
	if len(insts) != 2 {
		t.Errorf("List() 数量 = %d, want 2", len(insts))
	}
}

func TestLifecycleNameValidation(t *testing.T) {
	m := newTestManager(t)

	// 实例根目录之外放一个哨兵文件，任何操作都不得波及
	sentinel := filepath.Join(m.cfg.DataDir, "sentinel.txt")
	if err := os.WriteFile(sentinel, []byte("keep"), 0644); err != nil {
		t.Fatal(err)
	}

	names := []string{"..", ".", "a/b", "a\\b", "", "../instances"}
	for _, name := range names {
		removed, err := m.Remove(name)
		if err == nil || kindOf(t, err) != KindValidation {
			t.Errorf("Remove(%q) = (%v, %v), want 校验错误", name, removed, err)
		}
		if removed {
			t.Errorf("Remove(%q) 不应报告删除成功", name)
		}
		if err := m.Start(name); err == nil || kindOf(t, err) != KindValidation {
			t.Errorf("Start(%q) = %v, want 校验错误", name, err)
		}
		if err := m.Stop(name); err == nil || kindOf(t, err) != KindValidation {
			t.Errorf("Stop(%q) = %v, want 校验错误", name, err)
		}
		if err := m.Update(name, UpdateRequest{}); err == nil || kindOf(t, err) != KindValidation {
			t.Errorf("Update(%q) = %v, want 校验错误", name, err)
		}
		if _, err := m.Get(name); err == nil || kindOf(t, err) != KindValidation {
			t.Errorf("Get(%q) = %v, want 校验错误", name, err)
		}
	}

	// 哨兵与实例根目录都完好
	if _, err := os.Stat(sentinel); err != nil {
		t.Fatalf("数据目录被越界操作破坏: %v", err)
	}
	if _, err := os.Stat(m.cfg.InstanceDir); err != nil {
		t.Fatalf("实例根目录被删除: %v", err)
	}
}

func TestRemoveKeepsNameLock(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Create(CreateRequest{Name: "proxy1", Kind: ForwardProxy, ListenPort: 3128}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	before, _ := m.locks.LoadOrStore("proxy1", &sync.Mutex{})
	if _, err := m.Remove("proxy1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	after, _ := m.locks.LoadOrStore("proxy1", &sync.Mutex{})

	// 同名操作必须始终拿到同一把锁，否则互斥失效
	if before != after {
		t.Fatal("Remove 后同名锁条目被更换")
	}
}

func TestConcurrentCreateRemoveSameName(t *testing.T) {
	m := newTestManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				m.Create(CreateRequest{Name: "p1", Kind: ForwardProxy, ListenPort: 3128})
				m.Remove("p1")
			}
		}()
	}
	wg.Wait()

	// 终态要么干净不存在，要么是一个完整可删的实例
	if m.store.exists("p1") {
		if _, err := m.store.load("p1"); err != nil {
			t.Fatalf("并发创建/删除留下损坏的实例目录: %v", err)
		}
		if _, err := m.Remove("p1"); err != nil {
			t.Fatalf("收尾删除失败: %v", err)
		}
	}
}
