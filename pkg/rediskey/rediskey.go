package rediskey

import "fmt"

// Credits keys (global convention across services)
const (
	CreditLowAlertPrefix = "credits:alert:low"
	SequencePrefix       = "seq"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildCreditLowAlertKey returns "credits:alert:low:{userID}"
func BuildCreditLowAlertKey(userID string) string {
	return NamespaceKey(CreditLowAlertPrefix, userID)
}

// BuildSequenceKey returns "seq:{name}"
func BuildSequenceKey(name string) string {
	return NamespaceKey(SequencePrefix, name)
}
