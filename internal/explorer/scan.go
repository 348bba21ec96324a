package explorer

import (
	"strings"

	"github.com/rnts08/eth-riskradar/internal/model"
)

var suspiciousKeywords = []string{
	"blacklist", "whitelist", "bot", "restrict",
	"settrading", "enabletrading", "opentrading", "starttrading",
	"setfee", "settax", "maxtx", "maxwallet", "cooldown",
}

// ScanSuspicious returns function names containing a control keyword,
// case-insensitively, deduplicated in first-seen order.
func ScanSuspicious(abi []model.ABIEntry) []string {
	flagged := []string{}
	seen := make(map[string]bool)
	for _, entry := range abi {
		if !entry.IsFunction() || seen[entry.Name] {
			continue
		}
		if containsAny(strings.ToLower(entry.Name), suspiciousKeywords) {
			seen[entry.Name] = true
			flagged = append(flagged, entry.Name)
		}
	}
	return flagged
}

// HasMint reports whether any function name contains "mint".
func HasMint(abi []model.ABIEntry) bool {
	for _, entry := range abi {
		if entry.IsFunction() && strings.Contains(strings.ToLower(entry.Name), "mint") {
			return true
		}
	}
	return false
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
