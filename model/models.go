package model

import (
	"time"
)

// BaseModel 公共字段
type BaseModel struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SystemConfig 系统配置表
type SystemConfig struct {
	ID    uint   `gorm:"primarykey" json:"id"`
	Key   string `gorm:"uniqueIndex;size:100" json:"key"`
	Value string `gorm:"type:text" json:"value"`
}

// OperationLog 实例生命周期操作审计记录
type OperationLog struct {
	BaseModel
	Instance string `gorm:"size:100;index" json:"instance"`
	Action   string `gorm:"size:20" json:"action"` // create/start/stop/restart/update/remove
	Detail   string `gorm:"type:text" json:"detail"`
	Success  bool   `gorm:"default:true" json:"success"`
}
