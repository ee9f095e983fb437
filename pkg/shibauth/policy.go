package shibauth

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// UsernameField is the attribute target that keys the local user record.
// Exactly one attribute rule must map onto it.
const UsernameField = "username"

// AttributeRule maps one SSO header onto a local user field.
type AttributeRule struct {
	Header   string `yaml:"header" json:"header"`
	Field    string `yaml:"field" json:"field"`
	Required bool   `yaml:"required" json:"required"`
}

// Policy is the reconciliation policy for SSO logins. It is immutable
// once loaded; hot reloads swap in a fresh value via PolicyProvider
// rather than mutating a shared one.
type Policy struct {
	// IDPHeader names the header carrying the identity-provider
	// identifier.
	IDPHeader string `yaml:"idp_header" json:"idp_header"`

	// AuthorizedIDPs is the allowlist of IdP identifiers trusted to
	// assert identities. Must be non-empty.
	AuthorizedIDPs []string `yaml:"authorized_idps" json:"authorized_idps"`

	// UserAttributes is the ordered list of header-to-field mapping
	// rules. Exactly one rule must target the username field.
	UserAttributes []AttributeRule `yaml:"user_attributes" json:"user_attributes"`

	// GroupsByIDP statically grants groups per asserting IdP. Names
	// referencing groups that do not exist yet are skipped, not created.
	GroupsByIDP map[string][]string `yaml:"groups_by_idp" json:"groups_by_idp,omitempty"`

	// GroupHeader names the optional header carrying a semicolon-delimited
	// dynamic group list. Groups named here are auto-created.
	GroupHeader string `yaml:"group_header" json:"group_header,omitempty"`

	// GroupsAuthoritative makes membership fully synchronized to each
	// assertion: groups outside the entitlement set are revoked. Defaults
	// to true.
	GroupsAuthoritative bool `yaml:"groups_authoritative" json:"groups_authoritative"`

	// StaffGroup, when set and GroupsAuthoritative is enabled, drives the
	// user's staff flag from membership in the named group.
	StaffGroup string `yaml:"staff_group" json:"staff_group,omitempty"`
}

// DefaultIDPHeader is the conventional mod_shib header for the asserting
// IdP entity ID.
const DefaultIDPHeader = "Shib-Identity-Provider"

// policyFile mirrors Policy for YAML decoding so the authoritative flag
// can default to true when omitted.
type policyFile struct {
	IDPHeader           string              `yaml:"idp_header"`
	AuthorizedIDPs      []string            `yaml:"authorized_idps"`
	UserAttributes      []AttributeRule     `yaml:"user_attributes"`
	GroupsByIDP         map[string][]string `yaml:"groups_by_idp"`
	GroupHeader         string              `yaml:"group_header"`
	GroupsAuthoritative *bool               `yaml:"groups_authoritative"`
	StaffGroup          string              `yaml:"staff_group"`
}

// LoadPolicy reads and validates a policy from a YAML file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes and validates a YAML policy document.
func ParsePolicy(data []byte) (*Policy, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	policy := &Policy{
		IDPHeader:           file.IDPHeader,
		AuthorizedIDPs:      file.AuthorizedIDPs,
		UserAttributes:      file.UserAttributes,
		GroupsByIDP:         file.GroupsByIDP,
		GroupHeader:         file.GroupHeader,
		GroupsAuthoritative: true,
		StaffGroup:          file.StaffGroup,
	}
	if file.GroupsAuthoritative != nil {
		policy.GroupsAuthoritative = *file.GroupsAuthoritative
	}
	if policy.IDPHeader == "" {
		policy.IDPHeader = DefaultIDPHeader
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

// Validate checks the structural invariants of the policy.
func (p *Policy) Validate() error {
	if len(p.AuthorizedIDPs) == 0 {
		return fmt.Errorf("policy: authorized_idps must not be empty")
	}
	if len(p.UserAttributes) == 0 {
		return fmt.Errorf("policy: user_attributes must not be empty")
	}

	usernameRules := 0
	for i, rule := range p.UserAttributes {
		if rule.Header == "" {
			return fmt.Errorf("policy: user_attributes[%d] has no header", i)
		}
		if rule.Field == "" {
			return fmt.Errorf("policy: user_attributes[%d] has no field", i)
		}
		if rule.Field == UsernameField {
			usernameRules++
		}
	}
	if usernameRules != 1 {
		return fmt.Errorf("policy: exactly one user_attributes rule must target %q, found %d", UsernameField, usernameRules)
	}
	return nil
}

// IsAuthorized reports whether the given IdP identifier is on the
// allowlist.
func (p *Policy) IsAuthorized(idp string) bool {
	for _, authorized := range p.AuthorizedIDPs {
		if authorized == idp {
			return true
		}
	}
	return false
}
