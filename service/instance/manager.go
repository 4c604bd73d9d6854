package instance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/proxypanel/proxypanel/model"
	"github.com/proxypanel/proxypanel/pkg/config"
	"github.com/proxypanel/proxypanel/pkg/utils"
	"github.com/proxypanel/proxypanel/service/cert"
	"github.com/proxypanel/proxypanel/service/tunnel"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
)

// maxWorkers 同时执行阻塞操作（起停进程、签证书、写盘）的上限
const maxWorkers = 8

// Manager 实例管理器
//
// 同名操作串行（按名互斥锁），不同名操作并发互不影响；任何实例的
// 失败都不波及其他实例。进程句柄表仅存在于内存，面板重启后由目录
// 扫描恢复元数据，存活状态需重新启动实例后才恢复监管。
type Manager struct {
	db    *gorm.DB
	log   *logrus.Logger
	cfg   *config.Config
	certs *cert.Manager
	store *store
	procs sync.Map // map[string]*procEntry
	locks sync.Map // map[string]*sync.Mutex
	sem   *semaphore.Weighted
}

func NewManager(db *gorm.DB, log *logrus.Logger, cfg *config.Config, certs *cert.Manager) *Manager {
	return &Manager{
		db:    db,
		log:   log,
		cfg:   cfg,
		certs: certs,
		store: newStore(cfg.InstanceDir),
		sem:   semaphore.NewWeighted(maxWorkers),
	}
}

// lockName 获取实例名互斥锁，返回解锁函数
func (m *Manager) lockName(name string) func() {
	val, _ := m.locks.LoadOrStore(name, &sync.Mutex{})
	mu := val.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// acquire 占用一个工作配额，限制并发阻塞操作数量
func (m *Manager) acquire() func() {
	m.sem.Acquire(context.Background(), 1)
	return func() { m.sem.Release(1) }
}

// audit 记录生命周期操作审计
func (m *Manager) audit(name, action, detail string, success bool) {
	if m.db == nil {
		return
	}
	m.db.Create(&model.OperationLog{
		Instance: name,
		Action:   action,
		Detail:   detail,
		Success:  success,
	})
}

// CreateRequest 创建实例参数
type CreateRequest struct {
	Name           string `json:"name"`
	Kind           Kind   `json:"kind"`
	ListenPort     int    `json:"listen_port"`
	TLSEnabled     bool   `json:"tls_enabled"`
	ForwardAddress string `json:"forward_address"`
	CoverDomain    string `json:"cover_domain"`
}

// validate 创建前的完整校验；任何失败都不产生副作用
func (req *CreateRequest) validate() (*Instance, *Error) {
	if !utils.ValidateInstanceName(req.Name) {
		return nil, errValidation("非法实例名: %q", req.Name)
	}
	if !utils.ValidatePort(req.ListenPort) {
		return nil, errValidation("非法监听端口: %d", req.ListenPort)
	}
	if _, ok := specFor(req.Kind); !ok {
		return nil, errValidation("未知实例类型: %q", req.Kind)
	}

	inst := &Instance{
		Name:       req.Name,
		Kind:       req.Kind,
		ListenPort: req.ListenPort,
	}

	switch req.Kind {
	case ForwardProxy:
		inst.TLSEnabled = req.TLSEnabled
	case TLSTunnel:
		if !utils.ValidateHostPort(req.ForwardAddress) {
			return nil, errValidation("非法转发地址: %q", req.ForwardAddress)
		}
		inst.ForwardAddress = req.ForwardAddress
		if req.CoverDomain != "" {
			domain := utils.NormalizeDomain(req.CoverDomain)
			if domain == "" {
				return nil, errValidation("非法伪装域名: %q", req.CoverDomain)
			}
			inst.CoverDomain = domain
		}
		inst.CoverSitePort = tunnel.CoverSitePort(req.ListenPort)
	}
	return inst, nil
}

// Create 创建并启动实例
func (m *Manager) Create(req CreateRequest) (*Instance, error) {
	inst, verr := req.validate()
	if verr != nil {
		return nil, verr
	}

	unlock := m.lockName(req.Name)
	defer unlock()
	release := m.acquire()
	defer release()

	// 冲突以可解析的记录为准；被外部工具污染的同名目录走清理路径
	if _, err := m.store.load(req.Name); err == nil {
		return nil, errConflict("实例 [%s] 已存在", req.Name)
	}

	if err := m.materialize(inst); err != nil {
		m.audit(inst.Name, "create", err.Error(), false)
		return nil, err
	}

	sp, _ := specFor(inst.Kind)
	p := pathsFor(m.cfg.InstanceDir, inst.Name, inst.Kind)
	entry, err := m.spawn(inst.Name, sp, p)
	if err != nil {
		// 不回滚目录：留给 remove 清理，start 可在修复后重试
		m.audit(inst.Name, "create", err.Error(), false)
		return nil, errProcess("启动实例失败", err)
	}
	m.procs.Store(inst.Name, entry)
	inst.Status = StatusRunning

	m.audit(inst.Name, "create", fmt.Sprintf("kind=%s port=%d", inst.Kind, inst.ListenPort), true)
	m.log.Infof("[实例][%s] 已创建并启动，类型: %s，端口: %d，PID: %d",
		inst.Name, inst.Kind, inst.ListenPort, entry.pid)
	return inst, nil
}

// materialize 生成实例目录的全部工件并持久化元数据
func (m *Manager) materialize(inst *Instance) error {
	sp, _ := specFor(inst.Kind)
	p := pathsFor(m.cfg.InstanceDir, inst.Name, inst.Kind)

	for _, dir := range []string{p.dir, p.logDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errConfigWrite(err)
		}
	}

	if sp.needsCert(inst) {
		if _, _, err := m.certs.Generate(p.dir, sp.certSubject(inst)); err != nil {
			return errCertificate(err)
		}
	}

	switch inst.Kind {
	case ForwardProxy:
		// 凭据文件必须存在，否则引擎起不来
		if _, err := os.Stat(p.passwd); os.IsNotExist(err) {
			if err := os.WriteFile(p.passwd, nil, 0644); err != nil {
				return errConfigWrite(err)
			}
		}
	case TLSTunnel:
		if err := m.seedCoverSite(inst, p); err != nil {
			return err
		}
	}

	if err := m.writeConfig(p.conf, sp.renderConfig(inst, p)); err != nil {
		return err
	}

	if err := m.store.save(inst); err != nil {
		return errConfigWrite(err)
	}
	return nil
}

// writeConfig 写配置文件；路径被外部工具占成目录时先清掉再写
func (m *Manager) writeConfig(path, content string) error {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		// 外部挂载工具留下的残骸，清理后继续，不视为致命错误
		m.log.Warnf("[实例] 配置路径 %s 被目录占用，已清理", path)
		if err := os.RemoveAll(path); err != nil {
			return errConfigWrite(err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return errConfigWrite(err)
	}
	return nil
}

// seedCoverSite 生成伪装站点默认首页，内容归用户所有，只生成一次
func (m *Manager) seedCoverSite(inst *Instance, p paths) error {
	if err := os.MkdirAll(p.www, 0755); err != nil {
		return errConfigWrite(err)
	}
	index := filepath.Join(p.www, "index.html")
	if _, err := os.Stat(index); err == nil {
		return nil
	}
	if err := os.WriteFile(index, []byte(tunnel.DefaultIndexHTML(inst.CoverDomain)), 0644); err != nil {
		return errConfigWrite(err)
	}
	return nil
}

// Start 启动已停止的实例
func (m *Manager) Start(name string) error {
	if !utils.ValidateInstanceName(name) {
		return errValidation("非法实例名: %q", name)
	}
	unlock := m.lockName(name)
	defer unlock()
	release := m.acquire()
	defer release()

	inst, err := m.store.load(name)
	if err != nil {
		return errNotFound(name)
	}

	if val, ok := m.procs.Load(name); ok && val.(*procEntry).alive() {
		return errConflict("实例 [%s] 已在运行", name)
	}

	sp, ok := specFor(inst.Kind)
	if !ok {
		return errValidation("未知实例类型: %q", inst.Kind)
	}
	p := pathsFor(m.cfg.InstanceDir, name, inst.Kind)

	// 早先的半成品目录可能缺工件，明确报错而不是让引擎崩
	for _, f := range sp.requiredArtifacts(inst, p) {
		if _, err := os.Stat(f); err != nil {
			m.audit(name, "start", "工件缺失: "+f, false)
			return errProcess(fmt.Sprintf("实例 [%s] 缺少必要文件 %s，无法启动", name, filepath.Base(f)), nil)
		}
	}

	entry, err := m.spawn(name, sp, p)
	if err != nil {
		m.audit(name, "start", err.Error(), false)
		return errProcess("启动实例失败", err)
	}
	m.procs.Store(name, entry)

	m.audit(name, "start", "", true)
	m.log.Infof("[实例][%s] 已启动，PID: %d", name, entry.pid)
	return nil
}

// Stop 停止实例，按类型发送进程组信号
func (m *Manager) Stop(name string) error {
	if !utils.ValidateInstanceName(name) {
		return errValidation("非法实例名: %q", name)
	}
	unlock := m.lockName(name)
	defer unlock()
	return m.stopLocked(name)
}

func (m *Manager) stopLocked(name string) error {
	release := m.acquire()
	defer release()

	if !m.store.exists(name) {
		return errNotFound(name)
	}

	val, ok := m.procs.Load(name)
	if !ok {
		return nil // 已是停止状态
	}
	entry := val.(*procEntry)

	inst, err := m.store.load(name)
	if err != nil {
		return errNotFound(name)
	}
	sp, _ := specFor(inst.Kind)

	if err := m.terminate(name, entry, sp.terminationSignal()); err != nil {
		m.audit(name, "stop", err.Error(), false)
		return err
	}

	m.audit(name, "stop", "", true)
	m.log.Infof("[实例][%s] 已停止", name)
	return nil
}

// Restart 重启实例（停止 + 启动，非原子）
func (m *Manager) Restart(name string) error {
	if err := m.Stop(name); err != nil {
		return err
	}
	return m.Start(name)
}

// UpdateRequest 部分更新参数，nil 表示保持不变
type UpdateRequest struct {
	ListenPort     *int    `json:"listen_port"`
	TLSEnabled     *bool   `json:"tls_enabled"`
	ForwardAddress *string `json:"forward_address"`
	CoverDomain    *string `json:"cover_domain"`
}

// Update 更新实例配置；运行中的实例会重启以生效
//
// 引擎不支持热切监听端口和后端地址，改配置必须走重启。
func (m *Manager) Update(name string, req UpdateRequest) error {
	if !utils.ValidateInstanceName(name) {
		return errValidation("非法实例名: %q", name)
	}
	unlock := m.lockName(name)
	defer unlock()
	release := m.acquire()
	defer release()

	inst, err := m.store.load(name)
	if err != nil {
		return errNotFound(name)
	}

	rotateCert := false

	if req.ListenPort != nil {
		if !utils.ValidatePort(*req.ListenPort) {
			return errValidation("非法监听端口: %d", *req.ListenPort)
		}
		inst.ListenPort = *req.ListenPort
		if inst.Kind == TLSTunnel {
			inst.CoverSitePort = tunnel.CoverSitePort(inst.ListenPort)
		}
	}
	if req.TLSEnabled != nil && inst.Kind == ForwardProxy {
		if *req.TLSEnabled && !inst.TLSEnabled {
			rotateCert = true
		}
		inst.TLSEnabled = *req.TLSEnabled
	}
	if req.ForwardAddress != nil {
		if inst.Kind != TLSTunnel {
			return errValidation("实例 [%s] 不支持转发地址", name)
		}
		if !utils.ValidateHostPort(*req.ForwardAddress) {
			return errValidation("非法转发地址: %q", *req.ForwardAddress)
		}
		inst.ForwardAddress = *req.ForwardAddress
	}
	if req.CoverDomain != nil {
		if inst.Kind != TLSTunnel {
			return errValidation("实例 [%s] 不支持伪装域名", name)
		}
		domain := ""
		if *req.CoverDomain != "" {
			domain = utils.NormalizeDomain(*req.CoverDomain)
			if domain == "" {
				return errValidation("非法伪装域名: %q", *req.CoverDomain)
			}
		}
		if domain != inst.CoverDomain {
			rotateCert = true
		}
		inst.CoverDomain = domain
	}

	sp, _ := specFor(inst.Kind)
	p := pathsFor(m.cfg.InstanceDir, name, inst.Kind)

	if sp.needsCert(inst) {
		if _, err := os.Stat(p.certFile); os.IsNotExist(err) {
			rotateCert = true
		}
		if rotateCert {
			if _, _, err := m.certs.Generate(p.dir, sp.certSubject(inst)); err != nil {
				m.audit(name, "update", err.Error(), false)
				return errCertificate(err)
			}
		}
	}

	if err := m.writeConfig(p.conf, sp.renderConfig(inst, p)); err != nil {
		m.audit(name, "update", err.Error(), false)
		return err
	}
	if err := m.store.save(inst); err != nil {
		m.audit(name, "update", err.Error(), false)
		return errConfigWrite(err)
	}

	// 运行中则重启生效
	if val, ok := m.procs.Load(name); ok && val.(*procEntry).alive() {
		entry := val.(*procEntry)
		if err := m.terminate(name, entry, sp.terminationSignal()); err != nil {
			return err
		}
		newEntry, err := m.spawn(name, sp, p)
		if err != nil {
			m.audit(name, "update", err.Error(), false)
			return errProcess("更新后重启失败", err)
		}
		m.procs.Store(name, newEntry)
	}

	m.audit(name, "update", "", true)
	m.log.Infof("[实例][%s] 配置已更新", name)
	return nil
}

// Remove 删除实例；幂等，不存在返回 false
//
// 实例名先过字符集校验：store.remove 对非法名字做路径拼接会指到
// 实例根目录之外。
func (m *Manager) Remove(name string) (bool, error) {
	if !utils.ValidateInstanceName(name) {
		return false, errValidation("非法实例名: %q", name)
	}
	unlock := m.lockName(name)
	defer unlock()
	release := m.acquire()
	defer release()

	_, hasProc := m.procs.Load(name)
	if !m.store.exists(name) && !hasProc {
		return false, nil
	}

	if val, ok := m.procs.Load(name); ok {
		entry := val.(*procEntry)
		// 删除场景直接组信号 + 强杀兜底
		sig := syscall.SIGTERM
		if inst, err := m.store.load(name); err == nil {
			if sp, ok := specFor(inst.Kind); ok {
				sig = sp.terminationSignal()
			}
		}
		if err := m.terminate(name, entry, sig); err != nil {
			m.log.Warnf("[实例][%s] 删除时进程终止异常: %v", name, err)
		}
		m.procs.Delete(name)
	}

	if err := m.store.remove(name); err != nil {
		m.audit(name, "remove", err.Error(), false)
		return true, errConfigWrite(err)
	}
	// 锁条目不回收：同名并发操作必须始终拿到同一把锁

	m.audit(name, "remove", "", true)
	m.log.Infof("[实例][%s] 已删除", name)
	return true, nil
}

// Get 查询单个实例
func (m *Manager) Get(name string) (*Instance, error) {
	if !utils.ValidateInstanceName(name) {
		return nil, errValidation("非法实例名: %q", name)
	}
	inst, err := m.store.load(name)
	if err != nil {
		return nil, errNotFound(name)
	}
	inst.Status = m.status(name)
	return inst, nil
}

// List 扫描根目录列出全部实例，状态来自内存句柄表
func (m *Manager) List() ([]*Instance, error) {
	insts, err := m.store.scan()
	if err != nil {
		return nil, err
	}
	for _, inst := range insts {
		inst.Status = m.status(inst.Name)
	}
	return insts, nil
}

// status 由进程句柄表派生实例状态
func (m *Manager) status(name string) string {
	if val, ok := m.procs.Load(name); ok && val.(*procEntry).alive() {
		return StatusRunning
	}
	return StatusStopped
}

// StartAll 面板启动时盘点实例
//
// 上一个面板进程启动的引擎已脱离监管，这里只恢复元数据视图，
// 不自动拉起进程。
func (m *Manager) StartAll() {
	insts, err := m.store.scan()
	if err != nil {
		m.log.Errorf("实例盘点失败: %v", err)
		return
	}
	m.log.Infof("[实例] 共发现 %d 个实例", len(insts))
}

// StopAll 停止所有受监管的实例进程
func (m *Manager) StopAll() {
	m.procs.Range(func(key, value any) bool {
		name := key.(string)
		if err := m.Stop(name); err != nil {
			m.log.Errorf("[实例][%s] 停止失败: %v", name, err)
		}
		return true
	})
}

// CheckCertificates 证书巡检：缺失或临近到期则重签并重启实例
func (m *Manager) CheckCertificates() {
	insts, err := m.store.scan()
	if err != nil {
		m.log.Errorf("证书巡检扫描失败: %v", err)
		return
	}
	for _, inst := range insts {
		sp, ok := specFor(inst.Kind)
		if !ok || !sp.needsCert(inst) {
			continue
		}
		p := pathsFor(m.cfg.InstanceDir, inst.Name, inst.Kind)
		if !m.certs.NeedsRenewal(p.certFile) {
			continue
		}
		m.log.Infof("[实例][%s] 证书临近到期，开始重签", inst.Name)
		unlock := m.lockName(inst.Name)
		if _, _, err := m.certs.Generate(p.dir, sp.certSubject(inst)); err != nil {
			m.log.Errorf("[实例][%s] 证书重签失败: %v", inst.Name, err)
			unlock()
			continue
		}
		unlock()
		if m.status(inst.Name) == StatusRunning {
			if err := m.Restart(inst.Name); err != nil {
				m.log.Errorf("[实例][%s] 证书重签后重启失败: %v", inst.Name, err)
			}
		}
	}
}
