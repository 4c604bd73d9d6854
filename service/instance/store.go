package instance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/proxypanel/proxypanel/service/squid"
)

const metadataFile = "instance.json"

// store 实例元数据仓库
//
// 实例目录是唯一事实来源：面板重启后通过 scan 重建内存记录。
// 存储形式（扁平 JSON 文件）对管理器不可见，便于日后替换。
type store struct {
	root string
}

func newStore(root string) *store {
	return &store{root: root}
}

// save 持久化元数据；状态为运行时派生，写盘前清空
func (s *store) save(inst *Instance) error {
	rec := *inst
	rec.Status = ""
	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化元数据失败: %w", err)
	}
	path := filepath.Join(s.root, inst.Name, metadataFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("写入元数据失败: %w", err)
	}
	return os.Rename(tmp, path)
}

// load 读取单个实例的元数据，目录不存在返回 os.ErrNotExist
func (s *store) load(name string) (*Instance, error) {
	dir := filepath.Join(s.root, name)
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			// 旧版本目录：没有元数据记录即为正向代理
			return s.loadLegacy(name, dir)
		}
		return nil, err
	}
	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("解析元数据失败: %w", err)
	}
	inst.Name = name
	if inst.Kind == "" {
		inst.Kind = ForwardProxy
	}
	return &inst, nil
}

// loadLegacy 从 squid.conf 反推旧版本实例的记录
func (s *store) loadLegacy(name, dir string) (*Instance, error) {
	confPath := filepath.Join(dir, "squid.conf")
	data, err := os.ReadFile(confPath)
	if err != nil {
		return nil, err
	}
	return &Instance{
		Name:       name,
		Kind:       ForwardProxy,
		ListenPort: squid.ParseListenPort(string(data)),
	}, nil
}

// exists 实例目录是否存在
func (s *store) exists(name string) bool {
	_, err := os.Stat(filepath.Join(s.root, name))
	return err == nil
}

// remove 删除整个实例目录，目录多不完整都要成功
func (s *store) remove(name string) error {
	return os.RemoveAll(filepath.Join(s.root, name))
}

// scan 扫描根目录重建所有实例记录
func (s *store) scan() ([]*Instance, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("扫描实例目录失败: %w", err)
	}

	var insts []*Instance
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		inst, err := s.load(e.Name())
		if err != nil {
			// 既无元数据也无旧版配置的目录不是实例，跳过
			continue
		}
		insts = append(insts, inst)
	}
	sort.Slice(insts, func(i, j int) bool { return insts[i].Name < insts[j].Name })
	return insts, nil
}
