package shibauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPolicyYAML = `
idp_header: Shib-Identity-Provider
authorized_idps:
  - https://idp.example.com/idp/shibboleth
user_attributes:
  - header: Mail
    field: username
    required: true
  - header: Mail
    field: email
    required: true
  - header: Givenname
    field: first_name
  - header: Sn
    field: last_name
groups_by_idp:
  https://idp.example.com/idp/shibboleth:
    - Example Staff
group_header: Ou
staff_group: Example Staff
`

func TestParsePolicy(t *testing.T) {
	policy, err := ParsePolicy([]byte(validPolicyYAML))
	require.NoError(t, err)

	assert.Equal(t, "Shib-Identity-Provider", policy.IDPHeader)
	assert.Equal(t, []string{"https://idp.example.com/idp/shibboleth"}, policy.AuthorizedIDPs)
	assert.Len(t, policy.UserAttributes, 4)
	assert.Equal(t, "Ou", policy.GroupHeader)
	assert.Equal(t, "Example Staff", policy.StaffGroup)
	// Omitted groups_authoritative defaults to true.
	assert.True(t, policy.GroupsAuthoritative)
}

func TestParsePolicy_AuthoritativeCanBeDisabled(t *testing.T) {
	policy, err := ParsePolicy([]byte(validPolicyYAML + "groups_authoritative: false\n"))
	require.NoError(t, err)
	assert.False(t, policy.GroupsAuthoritative)
}

func TestParsePolicy_DefaultIDPHeader(t *testing.T) {
	policy, err := ParsePolicy([]byte(`
authorized_idps: [https://idp.example.com/idp/shibboleth]
user_attributes:
  - {header: Mail, field: username, required: true}
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultIDPHeader, policy.IDPHeader)
}

func TestParsePolicy_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no authorized idps",
			yaml: `
user_attributes:
  - {header: Mail, field: username, required: true}
`,
			want: "authorized_idps",
		},
		{
			name: "no attribute rules",
			yaml: `
authorized_idps: [https://idp.example.com/idp/shibboleth]
`,
			want: "user_attributes",
		},
		{
			name: "no username rule",
			yaml: `
authorized_idps: [https://idp.example.com/idp/shibboleth]
user_attributes:
  - {header: Mail, field: email, required: true}
`,
			want: "username",
		},
		{
			name: "two username rules",
			yaml: `
authorized_idps: [https://idp.example.com/idp/shibboleth]
user_attributes:
  - {header: Mail, field: username, required: true}
  - {header: Uid, field: username, required: true}
`,
			want: "username",
		},
		{
			name: "rule without header",
			yaml: `
authorized_idps: [https://idp.example.com/idp/shibboleth]
user_attributes:
  - {field: username, required: true}
`,
			want: "header",
		},
		{
			name: "not yaml",
			yaml: "{{{",
			want: "parse",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPolicy_IsAuthorized(t *testing.T) {
	policy := testPolicy()
	assert.True(t, policy.IsAuthorized(testIdP))
	assert.False(t, policy.IsAuthorized("https://rogue.example.org/idp"))
	assert.False(t, policy.IsAuthorized(""))
}
