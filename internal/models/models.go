package models

import (
	"time"
)

// 出勤事件类型
const (
	EventEntry = "entry" // 入校
	EventExit  = "exit"  // 离校
)

// 通知类型（与出勤事件类型一一对应）
const (
	NotificationArrival   = "arrival"
	NotificationDeparture = "departure"
)

// 学生-监护人关联状态
const (
	LinkActive  = "active"
	LinkRevoked = "revoked"
)

// 接送请求状态（单调推进：waiting → calling → completed）
const (
	PickupWaiting   = "waiting"
	PickupCalling   = "calling"
	PickupCompleted = "completed"
)

// School 学校（租户，存于系统库 schools 表）
type School struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Status    string    `json:"status" db:"status"` // active, suspended（软状态，从不物理删除）
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Guardian 监护人（全局目录，所有学校共享，存于系统库 guardians 表）
type Guardian struct {
	ID       int64   `json:"id" db:"id"`
	Name     string  `json:"name" db:"name"`
	Phone    string  `json:"phone" db:"phone"`
	FCMToken *string `json:"fcm_token,omitempty" db:"fcm_token"` // 监护人App推送令牌，可为空
}

// Student 学生（属于某个学校库）
type Student struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	ClassName string    `json:"class_name" db:"class_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// GuardianLink 学生与监护人的关联（学校库 student_guardians 表）
type GuardianLink struct {
	ID           int64  `json:"id" db:"id"`
	StudentID    int64  `json:"student_id" db:"student_id"`
	GuardianID   int64  `json:"guardian_id" db:"guardian_id"`
	Relationship string `json:"relationship" db:"relationship"`
	Status       string `json:"status" db:"status"` // active, revoked
}

// AttendanceEvent 出勤事件（学校库 attendance 表，只追加，写入后不可变）
type AttendanceEvent struct {
	ID        int64     `json:"id" db:"id"`
	StudentID int64     `json:"student_id" db:"student_id"`
	Type      string    `json:"type" db:"type"` // entry, exit
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// NotificationRecord 通知去重标记（学校库 whatsapp_notifications 表）
// (student_id, notification_type, sent_on) 上有唯一索引：
// 同一学生、同一类型、同一天最多一条记录，插入冲突即为"当天已通知"信号。
type NotificationRecord struct {
	ID        int64     `json:"id" db:"id"`
	StudentID int64     `json:"student_id" db:"student_id"`
	Type      string    `json:"notification_type" db:"notification_type"` // arrival, departure
	SentOn    string    `json:"sent_on" db:"sent_on"`                     // 本地日历日，YYYY-MM-DD
	SentAt    time.Time `json:"sent_at" db:"sent_at"`
	Success   bool      `json:"success" db:"success"` // 至少一个监护人送达成功
}

// NotificationDelivery 单个监护人的投递结果（审计用）
type NotificationDelivery struct {
	ID             int64     `json:"id" db:"id"`
	NotificationID int64     `json:"notification_id" db:"notification_id"`
	GuardianID     int64     `json:"guardian_id" db:"guardian_id"`
	Phone          string    `json:"phone" db:"phone"`
	Success        bool      `json:"success" db:"success"`
	Error          *string   `json:"error,omitempty" db:"error"`
	AttemptedAt    time.Time `json:"attempted_at" db:"attempted_at"`
}

// PickupRequest 接送请求（学校库 pickups 表，完成后保留为历史）
type PickupRequest struct {
	ID                  int64     `json:"id" db:"id"`
	StudentID           int64     `json:"student_id" db:"student_id"`
	GuardianID          int64     `json:"guardian_id" db:"guardian_id"`
	Status              string    `json:"status" db:"status"` // waiting, calling, completed
	RemoteAuthorization bool      `json:"remote_authorization" db:"remote_authorization"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}
