package handlers

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/proxypanel/proxypanel/model"
	"github.com/proxypanel/proxypanel/pkg/config"
)

// SystemHandler 系统信息处理器
type SystemHandler struct {
	db     *gorm.DB
	log    *logrus.Logger
	config *config.Config
}

func NewSystemHandler(db *gorm.DB, log *logrus.Logger, cfg *config.Config) *SystemHandler {
	return &SystemHandler{db: db, log: log, config: cfg}
}

// startTime 记录程序启动时间
var startTime = time.Now()

// GetInfo 获取系统信息
func (h *SystemHandler) GetInfo(c *gin.Context) {
	hostname, _ := os.Hostname()
	hostInfo, _ := host.Info()

	uptime := uint64(time.Since(startTime).Seconds())
	if hostInfo != nil && hostInfo.Uptime > 0 {
		uptime = hostInfo.Uptime
	}

	c.JSON(http.StatusOK, gin.H{
		"code": 200,
		"data": gin.H{
			"hostname":   hostname,
			"version":    h.config.Version,
			"os":         runtime.GOOS,
			"arch":       runtime.GOARCH,
			"go_version": runtime.Version(),
			"uptime":     uptime,
		},
	})
}

// GetStats 获取系统资源统计
func (h *SystemHandler) GetStats(c *gin.Context) {
	// CPU 使用率 & 核心数
	cpuPercent, _ := cpu.Percent(0, false)
	cpuUsage := 0.0
	if len(cpuPercent) > 0 {
		cpuUsage = cpuPercent[0]
	}
	cpuCores, _ := cpu.Counts(true) // 逻辑核心数

	memInfo, _ := mem.VirtualMemory()
	swapInfo, _ := mem.SwapMemory()
	diskInfo, _ := disk.Usage("/")

	data := gin.H{
		"cpu_usage":    cpuUsage,
		"cpu_cores":    cpuCores,
		"mem_total":    memInfo.Total,
		"mem_used":     memInfo.Used,
		"mem_free":     memInfo.Available,
		"mem_percent":  memInfo.UsedPercent,
		"disk_total":   diskInfo.Total,
		"disk_used":    diskInfo.Used,
		"disk_free":    diskInfo.Free,
		"disk_percent": diskInfo.UsedPercent,
	}
	if swapInfo != nil {
		data["swap_total"] = swapInfo.Total
		data["swap_used"] = swapInfo.Used
		data["swap_percent"] = swapInfo.UsedPercent
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "data": data})
}

// GetLogs 查询最近的操作日志
func (h *SystemHandler) GetLogs(c *gin.Context) {
	var logs []model.OperationLog
	h.db.Order("id DESC").Limit(200).Find(&logs)
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": logs})
}

// GetConfig 获取系统配置
func (h *SystemHandler) GetConfig(c *gin.Context) {
	var configs []model.SystemConfig
	h.db.Find(&configs)

	result := make(map[string]string)
	for _, cfg := range configs {
		// 不返回密码
		if cfg.Key == "admin_password" {
			continue
		}
		result[cfg.Key] = cfg.Value
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "data": result})
}

// UpdateConfig 更新系统配置
func (h *SystemHandler) UpdateConfig(c *gin.Context) {
	var req map[string]string
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": err.Error()})
		return
	}

	for key, value := range req {
		// 密码只能走修改密码接口
		if key == "admin_password" {
			continue
		}
		h.db.Model(&model.SystemConfig{}).Where("key = ?", key).Update("value", value)
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "配置已更新"})
}
