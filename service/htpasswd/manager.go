package htpasswd

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// usernameRe 用户名限制，避免破坏 htpasswd 行格式
var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_.@-]{1,64}$`)

// Manager htpasswd 凭据文件管理器
//
// 每个正向代理实例持有一份独立的 htpasswd 文件，引擎通过
// basic_ncsa_auth 直接读取；面板只负责维护文件内容。
type Manager struct {
	log *logrus.Logger
	mu  sync.Mutex
}

func NewManager(log *logrus.Logger) *Manager {
	return &Manager{log: log}
}

// Add 添加或更新一个用户，密码以 bcrypt 存储
func (m *Manager) Add(path, username, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !usernameRe.MatchString(username) {
		return fmt.Errorf("非法用户名: %s", username)
	}
	if password == "" {
		return fmt.Errorf("密码不能为空")
	}

	entries, err := load(path)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("生成密码哈希失败: %w", err)
	}
	entries[username] = string(hash)

	return save(path, entries)
}

// Remove 删除一个用户，用户不存在时返回 false
func (m *Manager) Remove(path, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := load(path)
	if err != nil {
		return false, err
	}
	if _, ok := entries[username]; !ok {
		return false, nil
	}
	delete(entries, username)
	return true, save(path, entries)
}

// List 列出所有用户名
func (m *Manager) List(path string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := load(path)
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, len(entries))
	for u := range entries {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

// Verify 校验用户名密码
func (m *Manager) Verify(path, username, password string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := load(path)
	if err != nil {
		return false
	}
	hash, ok := entries[username]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// load 读取 htpasswd 文件为 map，文件不存在视为空
func load(path string) (map[string]string, error) {
	entries := map[string]string{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, fmt.Errorf("读取凭据文件失败: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		entries[parts[0]] = parts[1]
	}
	return entries, nil
}

// save 写回 htpasswd 文件；引擎以其他用户读取，权限 0644
func save(path string, entries map[string]string) error {
	users := make([]string, 0, len(entries))
	for u := range entries {
		users = append(users, u)
	}
	sort.Strings(users)

	var b strings.Builder
	for _, u := range users {
		b.WriteString(u)
		b.WriteString(":")
		b.WriteString(entries[u])
		b.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("写入凭据文件失败: %w", err)
	}
	return nil
}
