package shibauth

import "net/http"

// Assertion is the request-scoped view of what the front end asserted:
// the IdP identifier, the raw values of every configured attribute
// header, and the dynamic group field if present. It is created at
// request entry and discarded with the response.
type Assertion struct {
	IdP string

	// Values holds raw header values keyed by header name for every
	// configured attribute rule. Absent headers are simply not present
	// in the map.
	Values map[string]string

	// RawGroups is the unparsed dynamic group field. Nil when the group
	// header is not configured or not present on the request.
	RawGroups *string
}

// ExtractAssertion pulls the configured identity headers out of the
// request. No validation happens here; the engine's trust gate and
// attribute validator run on the extracted value.
func ExtractAssertion(r *http.Request, policy *Policy) *Assertion {
	a := &Assertion{
		IdP:    r.Header.Get(policy.IDPHeader),
		Values: make(map[string]string, len(policy.UserAttributes)),
	}

	for _, rule := range policy.UserAttributes {
		if values, ok := r.Header[http.CanonicalHeaderKey(rule.Header)]; ok && len(values) > 0 {
			a.Values[rule.Header] = values[0]
		}
	}

	if policy.GroupHeader != "" {
		if values, ok := r.Header[http.CanonicalHeaderKey(policy.GroupHeader)]; ok && len(values) > 0 {
			raw := values[0]
			a.RawGroups = &raw
		}
	}

	return a
}
