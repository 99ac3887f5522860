package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StringList stores a set of strings as a JSON column
type StringList []string

// Value implements driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}
}

// Contains reports exact-match membership. No wildcard or subdomain
// matching.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// Customer owns one or more licenses
type Customer struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Email     string    `gorm:"type:varchar(255);index;not null" json:"email"`
	Phone     string    `gorm:"type:varchar(64)" json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }

// License lifecycle status values
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusRevoked   = "revoked"
)

// License type values
const (
	TypeStandard   = "standard"
	TypePro        = "pro"
	TypeEnterprise = "enterprise"
)

// License is the central entity: a grant of usage rights bound to at most
// one hardware fingerprint at a time. An empty HardwareID means unbound.
// Rows are never physically deleted; status and expiry govern validity and
// the row persists for audit.
type License struct {
	ID         uint     `gorm:"primaryKey" json:"id"`
	LicenseKey string   `gorm:"type:varchar(64);uniqueIndex;not null" json:"license_key"`
	CustomerID uint     `gorm:"index;not null" json:"customer_id"`
	Customer   Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`

	LicenseType     string     `gorm:"type:varchar(20);default:standard" json:"license_type"`
	Status          string     `gorm:"type:varchar(20);default:active;index" json:"status"`
	MaxUsers        int        `gorm:"default:1" json:"max_users"`
	MaxApplications int        `gorm:"default:0" json:"max_applications"`
	Features        StringList `gorm:"type:json" json:"features"`
	AllowedDomains  StringList `gorm:"type:json" json:"allowed_domains"`
	ExpiryDate      time.Time  `gorm:"index" json:"expiry_date"`

	// Binding state
	HardwareID      string     `gorm:"type:varchar(255);index" json:"hardware_id"`
	Domain          string     `gorm:"type:varchar(255)" json:"domain"`
	Version         string     `gorm:"type:varchar(64)" json:"version"`
	ActivatedAt     *time.Time `json:"activated_at"`
	DeactivatedAt   *time.Time `json:"deactivated_at"`
	LastValidation  *time.Time `json:"last_validation"`
	ValidationCount int64      `gorm:"default:0" json:"validation_count"`
	LastHeartbeat   *time.Time `json:"last_heartbeat"`
	HeartbeatCount  int64      `gorm:"default:0" json:"heartbeat_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (License) TableName() string { return "licenses" }

// IsBound reports whether the license currently has a hardware binding
func (l *License) IsBound() bool {
	return l.HardwareID != ""
}

// IsExpired reports whether the license expiry has passed
func (l *License) IsExpired(now time.Time) bool {
	return now.After(l.ExpiryDate)
}

// Audit event types
const (
	EventValidation   = "validation"
	EventActivation   = "activation"
	EventDeactivation = "deactivation"
	EventHeartbeat    = "heartbeat"
)

// LicenseEvent is an immutable audit log row. Events are append-only and
// never updated or deleted by normal operation.
type LicenseEvent struct {
	ID         string    `gorm:"type:char(36);primaryKey" json:"id"`
	EventType  string    `gorm:"type:varchar(20);index;not null" json:"event_type"`
	LicenseKey string    `gorm:"type:varchar(64);index;not null" json:"license_key"`
	HardwareID string    `gorm:"type:varchar(255)" json:"hardware_id"`
	Domain     string    `gorm:"type:varchar(255)" json:"domain"`
	Version    string    `gorm:"type:varchar(64)" json:"version"`
	Outcome    string    `gorm:"type:varchar(40);index" json:"outcome"`
	Message    string    `gorm:"type:varchar(512)" json:"message"`
	IPAddress  string    `gorm:"type:varchar(64)" json:"ip_address"`
	UserAgent  string    `gorm:"type:varchar(512)" json:"user_agent"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

func (LicenseEvent) TableName() string { return "license_events" }

// Heartbeat sample kinds
const (
	SamplePerformance = "performance"
	SampleUsage       = "usage"
)

// HeartbeatSample is one installation's self-reported telemetry snapshot.
// Write-only stream, aggregated and never mutated.
type HeartbeatSample struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	LicenseKey string `gorm:"type:varchar(64);index;not null" json:"license_key"`
	HardwareID string `gorm:"type:varchar(255)" json:"hardware_id"`
	Kind       string `gorm:"type:varchar(20);index;not null" json:"kind"`

	// Performance fields
	ExecutionTimeMs float64 `json:"execution_time_ms"`
	MemoryMB        float64 `json:"memory_mb"`
	QueryCount      int64   `json:"query_count"`
	SlowQueryCount  int64   `json:"slow_query_count"`
	ErrorCount      int64   `json:"error_count"`

	// Usage fields
	ActiveUsers       int64   `json:"active_users"`
	TotalApplications int64   `json:"total_applications"`
	NewApplications   int64   `json:"new_applications"`
	StorageMB         float64 `json:"storage_mb"`
	BandwidthMB       float64 `json:"bandwidth_mb"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (HeartbeatSample) TableName() string { return "heartbeat_samples" }
