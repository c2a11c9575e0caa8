package domain

// RuleConfig defines one credit risk rule.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression over the raw applicant attributes; must return bool.
	Expression string `json:"expression"`

	// Message is a fmt format string rendered when the rule triggers.
	// MessageArgs names the activation variables passed to it, in order.
	Message     string   `json:"message"`
	MessageArgs []string `json:"messageArgs,omitempty"`

	Enabled bool `json:"enabled"`
}

// RuleResult is the output of a single rule evaluation.
type RuleResult struct {
	RuleID    string `json:"ruleId"`
	Triggered bool   `json:"triggered"`
	Message   string `json:"message,omitempty"`
	ProcessUs int64  `json:"processUs"`
}
