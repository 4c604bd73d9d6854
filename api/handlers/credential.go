package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/proxypanel/proxypanel/service/htpasswd"
	"github.com/proxypanel/proxypanel/service/instance"
)

// CredentialHandler 正向代理的用户凭据接口
type CredentialHandler struct {
	mgr      *instance.Manager
	htpasswd *htpasswd.Manager
	log      *logrus.Logger
}

// NewCredentialHandler 创建凭据接口
func NewCredentialHandler(mgr *instance.Manager, hm *htpasswd.Manager, log *logrus.Logger) *CredentialHandler {
	return &CredentialHandler{mgr: mgr, htpasswd: hm, log: log}
}

type credentialRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// passwdPath 校验实例类型并返回凭据文件路径
func (h *CredentialHandler) passwdPath(c *gin.Context) (string, bool) {
	name := c.Param("name")
	inst, err := h.mgr.Get(name)
	if err != nil {
		respondErr(c, err)
		return "", false
	}
	if inst.Kind != instance.ForwardProxy {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "隧道实例没有用户凭据"})
		return "", false
	}
	return h.mgr.PasswdFile(name), true
}

// List 列出实例的全部用户名
func (h *CredentialHandler) List(c *gin.Context) {
	path, ok := h.passwdPath(c)
	if !ok {
		return
	}
	users, err := h.htpasswd.List(path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": users})
}

// Add 新增或更新用户凭据
func (h *CredentialHandler) Add(c *gin.Context) {
	path, ok := h.passwdPath(c)
	if !ok {
		return
	}
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "参数错误"})
		return
	}
	if err := h.htpasswd.Add(path, req.Username, req.Password); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": err.Error()})
		return
	}
	h.log.Infof("[凭据][%s] 已写入用户 [%s]", c.Param("name"), req.Username)
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "操作成功"})
}

// Remove 删除用户凭据
func (h *CredentialHandler) Remove(c *gin.Context) {
	path, ok := h.passwdPath(c)
	if !ok {
		return
	}
	removed, err := h.htpasswd.Remove(path, c.Param("user"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"code": 404, "message": "用户不存在"})
		return
	}
	h.log.Infof("[凭据][%s] 已删除用户 [%s]", c.Param("name"), c.Param("user"))
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "操作成功"})
}
