package config

type PolicyConfig interface {
	GetPolicyFile() string
}

type Policy struct{}

var _ PolicyConfig = Policy{}

// GetPolicyFile points at a YAML role policy. Empty selects the built-in table.
func (Policy) GetPolicyFile() string {
	return GetEnv("POLICY_FILE", "")
}
