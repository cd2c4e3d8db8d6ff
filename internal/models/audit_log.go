// internal/models/audit_log.go
package models

// AuditLog records one mutating API request.
type AuditLog struct {
	BaseModel
	OperatorID   string  `json:"operator_id,omitempty" gorm:"size:100;index"`
	Action       string  `json:"action" gorm:"size:100;not null;index"`
	ResourceType string  `json:"resource_type" gorm:"size:50;not null;index"`
	ResourceID   *string `json:"resource_id,omitempty" gorm:"size:36;index"`
	StatusCode   int     `json:"status_code"`
	NewValues    JSONB   `json:"new_values" gorm:"type:jsonb"`
	IPAddress    string  `json:"ip_address" gorm:"size:45"`
	UserAgent    string  `json:"user_agent" gorm:"type:text"`
}

func NewAuditLog() *AuditLog {
	return &AuditLog{BaseModel: newBase()}
}
