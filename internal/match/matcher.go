// Package match evaluates named regular-expression rules against booked
// transaction descriptions.
package match

import (
	"regexp"

	"github.com/example/bank-sync/internal/provider"
)

// Rule is a named pattern flagging transactions of interest. Rules are
// externally configured and read fresh each run; an empty rule set is valid.
type Rule struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
}

// Match pairs a rule name with the transaction it selected.
type Match struct {
	Name        string
	Transaction provider.Transaction
}

// Evaluate scans transactions in fetch order and selects, per rule name, the
// last transaction whose description matches. Later matches overwrite earlier
// ones deliberately, so each rule yields at most one transaction per run. One
// transaction may be selected by several rules independently. Rules whose
// pattern does not compile are skipped and reported in the second return
// value.
func Evaluate(rules []Rule, txns []provider.Transaction) ([]Match, []Rule) {
	var matches []Match
	var invalid []Rule

	for _, rule := range rules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			invalid = append(invalid, rule)
			continue
		}

		found := false
		var last provider.Transaction
		for _, tx := range txns {
			if re.MatchString(tx.Description) {
				found = true
				last = tx
			}
		}
		if found {
			matches = append(matches, Match{Name: rule.Name, Transaction: last})
		}
	}

	return matches, invalid
}
