package model

import (
	"encoding/json"
	"time"
)

// AuditRun 一次审计运行
type AuditRun struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Job        string    `json:"job" gorm:"type:varchar(32);not null;index"`
	Header     string    `json:"-" gorm:"type:text;not null"`
	Devices    int       `json:"devices" gorm:"not null;default:0"`
	Failed     int       `json:"failed" gorm:"not null;default:0"`
	RowCount   int       `json:"row_count" gorm:"not null;default:0"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`

	Rows     []AuditRow     `json:"rows,omitempty" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
	Failures []AuditFailure `json:"failures,omitempty" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// TableName 表名
func (AuditRun) TableName() string {
	return "audit_runs"
}

// HeaderColumns 解析表头
func (r *AuditRun) HeaderColumns() []string {
	return decodeCells(r.Header)
}

// AuditRow 结果行，单元格以 JSON 数组保存
type AuditRow struct {
	ID     uint   `json:"-" gorm:"primaryKey;autoIncrement"`
	RunID  string `json:"-" gorm:"type:varchar(64);not null;index:idx_audit_rows_run_seq,priority:1"`
	Seq    int    `json:"seq" gorm:"not null;index:idx_audit_rows_run_seq,priority:2"`
	Device string `json:"device" gorm:"type:varchar(255);not null"`
	Cells  string `json:"-" gorm:"type:text;not null"`
}

// TableName 表名
func (AuditRow) TableName() string {
	return "audit_rows"
}

// Values 解析单元格
func (r *AuditRow) Values() []string {
	return decodeCells(r.Cells)
}

// AuditFailure 设备失败记录
type AuditFailure struct {
	ID       uint   `json:"-" gorm:"primaryKey;autoIncrement"`
	RunID    string `json:"-" gorm:"type:varchar(64);not null;index"`
	Device   string `json:"device" gorm:"type:varchar(255);not null"`
	Kind     string `json:"kind" gorm:"type:varchar(32);not null"`
	Message  string `json:"message" gorm:"type:text"`
	Attempts int    `json:"attempts" gorm:"not null;default:0"`
}

// TableName 表名
func (AuditFailure) TableName() string {
	return "audit_failures"
}

// EncodeCells 将单元格编码为 JSON 数组
func EncodeCells(cells []string) string {
	if cells == nil {
		cells = []string{}
	}
	bs, _ := json.Marshal(cells)
	return string(bs)
}

func decodeCells(s string) []string {
	var cells []string
	if err := json.Unmarshal([]byte(s), &cells); err != nil || cells == nil {
		return []string{}
	}
	return cells
}
