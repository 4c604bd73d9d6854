package instance

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// stop 的存活轮询预算
const (
	stopPollCount    = 10
	stopPollInterval = 300 * time.Millisecond
)

// procEntry 一个受监管的引擎进程
type procEntry struct {
	pid  int
	pgid int
	cmd  *exec.Cmd
	done chan struct{} // 进程退出后关闭
}

// alive 进程是否仍然存活
func (e *procEntry) alive() bool {
	select {
	case <-e.done:
		return false
	default:
	}
	ok, err := process.PidExists(int32(e.pid))
	if err != nil {
		return true
	}
	return ok
}

// signalGroup 向进程组发送信号，保证引擎的 worker 子进程一并收到
func (e *procEntry) signalGroup(sig syscall.Signal) error {
	return syscall.Kill(-e.pgid, sig)
}

// spawn 启动引擎进程并登记句柄
//
// 进程放进独立进程组，停止时一个组信号即可触达全部子进程；
// 每个进程配一个 goroutine 阻塞在 Wait 上负责收尸和清表。
func (m *Manager) spawn(name string, sp kindSpec, p paths) (*procEntry, error) {
	bin, args := sp.engineArgs(m, p)

	if err := os.MkdirAll(p.logDir, 0755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(p.logDir, "engine.log"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("打开引擎日志失败: %w", err)
	}

	cmd := exec.Command(bin, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("启动引擎进程失败: %w", err)
	}

	entry := &procEntry{
		pid:  cmd.Process.Pid,
		pgid: cmd.Process.Pid, // Setpgid 后组 ID 即首进程 PID
		cmd:  cmd,
		done: make(chan struct{}),
	}

	go func() {
		cmd.Wait()
		logFile.Close()
		close(entry.done)
		// 只清掉自己的句柄，避免误删重启后登记的新进程
		if val, ok := m.procs.Load(name); ok && val.(*procEntry) == entry {
			m.procs.Delete(name)
		}
		m.log.Infof("[实例][%s] 引擎进程已退出，PID: %d", name, entry.pid)
	}()

	return entry, nil
}

// terminate 按类型信号停止进程组，轮询预算耗尽后强杀
func (m *Manager) terminate(name string, entry *procEntry, sig syscall.Signal) error {
	if err := entry.signalGroup(sig); err != nil {
		// 进程可能刚好退出，按已停止处理
		m.procs.Delete(name)
		return nil
	}

	for i := 0; i < stopPollCount; i++ {
		if !entry.alive() {
			m.procs.Delete(name)
			return nil
		}
		time.Sleep(stopPollInterval)
	}

	// 预算耗尽，升级为 SIGKILL
	m.log.Warnf("[实例][%s] 进程未在限期内退出，强制终止", name)
	entry.signalGroup(syscall.SIGKILL)
	for i := 0; i < stopPollCount; i++ {
		if !entry.alive() {
			m.procs.Delete(name)
			return nil
		}
		time.Sleep(stopPollInterval)
	}
	return errProcess(fmt.Sprintf("实例 [%s] 进程无法终止", name), nil)
}
