package domain

import "time"

// APIUsageLog is one authenticated API call, kept for usage analytics.
// Endpoint is the matched route template, never the raw URL.
type APIUsageLog struct {
	ID             uint      `json:"id"               gorm:"primaryKey"`
	UserID         string    `json:"user_id"          gorm:"type:char(36);not null;index:idx_usage_user_created,priority:1"`
	Endpoint       string    `json:"endpoint"         gorm:"type:varchar(100);not null;index:idx_usage_endpoint_created,priority:1"`
	Method         string    `json:"method"           gorm:"type:varchar(10);not null"`
	StatusCode     int       `json:"status_code"      gorm:"not null"`
	ResponseTimeMs int64     `json:"response_time_ms" gorm:"not null"`
	IPAddress      string    `json:"-"                gorm:"type:varchar(45)"`
	UserAgent      *string   `json:"-"                gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"       gorm:"index:idx_usage_user_created,priority:2;index:idx_usage_endpoint_created,priority:2"`

	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for APIUsageLog.
func (APIUsageLog) TableName() string { return "api_usage_logs" }
