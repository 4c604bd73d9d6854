package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/proxypanel/proxypanel/api/middleware"
	"github.com/proxypanel/proxypanel/model"
	"github.com/proxypanel/proxypanel/pkg/utils"
)

// AuthHandler 认证接口
type AuthHandler struct {
	db  *gorm.DB
	log *logrus.Logger
}

// NewAuthHandler 创建认证接口
func NewAuthHandler(db *gorm.DB, log *logrus.Logger) *AuthHandler {
	return &AuthHandler{db: db, log: log}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// Login 管理员登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "参数错误"})
		return
	}

	if req.Username != "admin" {
		c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "message": "用户名或密码错误"})
		return
	}

	var cfg model.SystemConfig
	if err := h.db.Where("key = ?", "admin_password").First(&cfg).Error; err != nil {
		h.log.Errorf("[认证] 读取管理员密码失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": "服务器内部错误"})
		return
	}
	if !utils.CheckPassword(req.Password, cfg.Value) {
		c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "message": "用户名或密码错误"})
		return
	}

	token, err := middleware.GenerateToken(req.Username)
	if err != nil {
		h.log.Errorf("[认证] 签发 Token 失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": "服务器内部错误"})
		return
	}

	h.log.Infof("[认证] 用户 [%s] 登录成功", req.Username)
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": gin.H{"token": token}})
}

// Logout 登出
func (h *AuthHandler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "已登出"})
}

// ChangePassword 修改管理员密码
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "参数错误，新密码至少 6 位"})
		return
	}

	var cfg model.SystemConfig
	if err := h.db.Where("key = ?", "admin_password").First(&cfg).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": "服务器内部错误"})
		return
	}
	if !utils.CheckPassword(req.OldPassword, cfg.Value) {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "原密码错误"})
		return
	}

	hashed, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": "服务器内部错误"})
		return
	}
	if err := h.db.Model(&model.SystemConfig{}).Where("key = ?", "admin_password").
		Update("value", hashed).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": "保存密码失败"})
		return
	}

	h.log.Info("[认证] 管理员密码已修改")
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "操作成功"})
}
