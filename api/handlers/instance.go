package handlers

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/proxypanel/proxypanel/pkg/config"
	"github.com/proxypanel/proxypanel/service/instance"
)

// InstanceHandler 实例管理接口
type InstanceHandler struct {
	mgr *instance.Manager
	cfg *config.Config
	log *logrus.Logger
}

// NewInstanceHandler 创建实例管理接口
func NewInstanceHandler(mgr *instance.Manager, cfg *config.Config, log *logrus.Logger) *InstanceHandler {
	return &InstanceHandler{mgr: mgr, cfg: cfg, log: log}
}

// respondErr 按错误类别映射响应码
func respondErr(c *gin.Context, err error) {
	var ie *instance.Error
	if errors.As(err, &ie) {
		status := http.StatusInternalServerError
		switch ie.Kind {
		case instance.KindValidation:
			status = http.StatusBadRequest
		case instance.KindNotFound:
			status = http.StatusNotFound
		case instance.KindConflict:
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"code": status, "message": ie.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
}

// List 列出全部实例
func (h *InstanceHandler) List(c *gin.Context) {
	list, err := h.mgr.List()
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": list})
}

// Get 查询单个实例
func (h *InstanceHandler) Get(c *gin.Context) {
	inst, err := h.mgr.Get(c.Param("name"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": inst})
}

// Create 创建并启动实例
func (h *InstanceHandler) Create(c *gin.Context) {
	var req instance.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "参数错误"})
		return
	}
	inst, err := h.mgr.Create(req)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": inst})
}

// Update 更新实例配置
func (h *InstanceHandler) Update(c *gin.Context) {
	var req instance.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "参数错误"})
		return
	}
	if err := h.mgr.Update(c.Param("name"), req); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "操作成功"})
}

// Delete 删除实例，重复删除不报错
func (h *InstanceHandler) Delete(c *gin.Context) {
	removed, err := h.mgr.Remove(c.Param("name"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": gin.H{"removed": removed}})
}

// Start 启动实例
func (h *InstanceHandler) Start(c *gin.Context) {
	if err := h.mgr.Start(c.Param("name")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "操作成功"})
}

// Stop 停止实例
func (h *InstanceHandler) Stop(c *gin.Context) {
	if err := h.mgr.Stop(c.Param("name")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "操作成功"})
}

// Restart 重启实例
func (h *InstanceHandler) Restart(c *gin.Context) {
	if err := h.mgr.Restart(c.Param("name")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "操作成功"})
}

// diagnoseResult 单个域名的解析结果
type diagnoseResult struct {
	Domain    string   `json:"domain"`
	Resolved  bool     `json:"resolved"`
	Addresses []string `json:"addresses,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Diagnose 对实例引用的域名做上游 DNS 解析检查
func (h *InstanceHandler) Diagnose(c *gin.Context) {
	inst, err := h.mgr.Get(c.Param("name"))
	if err != nil {
		respondErr(c, err)
		return
	}

	var results []diagnoseResult
	if inst.ForwardAddress != "" {
		if host, _, err := net.SplitHostPort(inst.ForwardAddress); err == nil {
			results = append(results, h.resolve(host))
		}
	}
	if inst.CoverDomain != "" {
		results = append(results, h.resolve(inst.CoverDomain))
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "data": results})
}

// resolve 向配置的上游查询 A 记录
func (h *InstanceHandler) resolve(host string) diagnoseResult {
	result := diagnoseResult{Domain: host}

	// 已经是 IP 的不用查
	if ip := net.ParseIP(host); ip != nil {
		result.Resolved = true
		result.Addresses = []string{host}
		return result
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: 5 * time.Second}
	resp, _, err := client.Exchange(msg, h.cfg.DNSUpstream)
	if err != nil {
		h.log.Warnf("[诊断] 查询 [%s] 失败: %v", host, err)
		result.Error = err.Error()
		return result
	}
	if resp.Rcode != dns.RcodeSuccess {
		result.Error = dns.RcodeToString[resp.Rcode]
		return result
	}

	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			result.Addresses = append(result.Addresses, a.A.String())
		}
	}
	result.Resolved = len(result.Addresses) > 0
	if !result.Resolved && result.Error == "" {
		result.Error = "无 A 记录"
	}
	return result
}
