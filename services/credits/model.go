package credits

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Entry types. Credits are cents; debits record positive amounts and reduce
// the balance.
const (
	EntryDebit  = "debit"
	EntryCredit = "credit"
	EntryBonus  = "bonus"
)

// Plan describes a subscription tier's credit allowance.
type Plan struct {
	ID                       string `json:"id"`
	DisplayName              string `json:"displayName"`
	MonthlyCredits           int64  `json:"monthlyCredits"`
	EstimatedCreditsPerShoot int64  `json:"estimatedCreditsPerShoot"`
}

const DefaultPlanID = "free"

var Plans = map[string]Plan{
	"free": {
		ID:                       "free",
		DisplayName:              "Free",
		MonthlyCredits:           500,
		EstimatedCreditsPerShoot: 120,
	},
	"pro": {
		ID:                       "pro",
		DisplayName:              "Pro",
		MonthlyCredits:           10000,
		EstimatedCreditsPerShoot: 120,
	},
}

// PlanFor returns the user's plan, falling back to the default tier for
// unknown IDs.
func PlanFor(planID string) Plan {
	if plan, ok := Plans[planID]; ok {
		return plan
	}
	return Plans[DefaultPlanID]
}

type User struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Email     string    `gorm:"column:email" json:"email,omitempty"`
	FirstName string    `gorm:"column:first_name" json:"firstName,omitempty"`
	LastName  string    `gorm:"column:last_name" json:"lastName,omitempty"`
	PlanID    string    `gorm:"column:plan_id" json:"planId"`
	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// MobileDevice is a push registration owned by a user.
type MobileDevice struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	UserID     string    `gorm:"column:user_id;index" json:"userId"`
	Token      string    `gorm:"column:token" json:"token"`
	Platform   string    `gorm:"column:platform" json:"platform,omitempty"`
	DeviceName string    `gorm:"column:device_name" json:"deviceName,omitempty"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"createdAt"`
}

// LedgerEntry is one append-only row of the credit ledger. Balance carries
// the denormalized running total after this entry; the hash chain makes
// tampering with history detectable.
type LedgerEntry struct {
	ID            string         `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt     time.Time      `gorm:"column:created_at" json:"createdAt"`
	UserID        string         `gorm:"column:user_id;index" json:"userId"`
	EntryType     string         `gorm:"column:entry_type" json:"entryType"`
	Credits       int64          `gorm:"column:credits" json:"credits"`
	Balance       int64          `gorm:"column:balance" json:"balance"`
	Provider      string         `gorm:"column:provider" json:"provider,omitempty"`
	ShootID       string         `gorm:"column:shoot_id" json:"shootId,omitempty"`
	TransactionID string         `gorm:"column:transaction_id" json:"transactionId"`
	Description   string         `gorm:"column:description" json:"description"`
	PreviousHash  string         `gorm:"column:previous_hash" json:"previousHash"`
	Hash          string         `gorm:"column:hash" json:"hash"`
	Metadata      datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
}

func (e *LedgerEntry) HashFields() map[string]string {
	return map[string]string{
		"id":             e.ID,
		"user_id":        e.UserID,
		"entry_type":     e.EntryType,
		"credits":        fmt.Sprintf("%d", e.Credits),
		"balance":        fmt.Sprintf("%d", e.Balance),
		"provider":       e.Provider,
		"shoot_id":       e.ShootID,
		"transaction_id": e.TransactionID,
		"description":    e.Description,
		"created_at":     e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":  e.PreviousHash,
	}
}

func (e *LedgerEntry) GenerateHash() string {
	fields := e.HashFields()
	var keys []string
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	joined := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(hash[:])
}

// VerifyHash recomputes the entry hash and checks it against the stored one.
func (e *LedgerEntry) VerifyHash() bool {
	return e.Hash == e.GenerateHash()
}

func GenerateTransactionID() (string, error) {
	datePart := time.Now().Format("20060102")

	r := make([]byte, 3)
	if _, err := rand.Read(r); err != nil {
		return "", err
	}
	randomPart := strings.ToUpper(fmt.Sprintf("%x", r))

	return fmt.Sprintf("%s-%s", datePart, randomPart), nil
}

// EntryArgs are the caller-supplied fields of a new ledger entry.
type EntryArgs struct {
	UserID      string
	EntryType   string
	Credits     int64
	Provider    string
	ShootID     string
	Description string
	Metadata    map[string]any
}

// Summary is the account view the clients render.
type Summary struct {
	Balance                  int64          `json:"balance"`
	PlanID                   string         `json:"planId"`
	PlanDisplayName          string         `json:"planDisplayName"`
	MonthlyAllowance         int64          `json:"monthlyAllowance"`
	EstimatedShootsRemaining float64        `json:"estimatedShootsRemaining"`
	Ledger                   []*LedgerEntry `json:"ledger"`
}
