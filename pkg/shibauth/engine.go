package shibauth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/perimeterlabs/shibgate/pkg/identity"
	"github.com/perimeterlabs/shibgate/pkg/observability"
)

// Engine runs the attribute-to-identity reconciliation pipeline. It is
// stateless across requests; every call works purely from the policy,
// the assertion, and the identity store.
type Engine struct {
	store   identity.Store
	logger  *logrus.Logger
	metrics *observability.Metrics
}

// NewEngine creates a reconciliation engine on top of the given store.
func NewEngine(store identity.Store, logger *logrus.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// Result describes a successful authentication.
type Result struct {
	User *identity.User

	// Entitled is the sorted set of group names the assertion entitled
	// the user to this request.
	Entitled []string

	// StaffChanged reports whether the staff projection flipped the
	// user's staff flag.
	StaffChanged bool
}

// Authenticate validates the assertion and reconciles the user against
// it. Validation errors (missing IdP, unauthorized IdP, missing required
// attribute) are returned before any store write happens.
func (e *Engine) Authenticate(ctx context.Context, policy *Policy, assertion *Assertion) (*Result, error) {
	if err := e.checkIdentityProvider(policy, assertion); err != nil {
		return nil, err
	}

	attrs, err := e.mapAttributes(policy, assertion)
	if err != nil {
		return nil, err
	}

	user, err := e.resolveUser(ctx, attrs)
	if err != nil {
		return nil, err
	}

	entitled, err := e.reconcileGroups(ctx, policy, user, assertion)
	if err != nil {
		return nil, err
	}

	staffChanged, err := e.projectStaff(ctx, policy, user)
	if err != nil {
		return nil, err
	}

	// User, groups, and staff state are already persisted; a failed
	// timestamp update is not worth failing the login over.
	if err := e.store.TouchLastLogin(ctx, user.ID); err != nil {
		e.logger.WithError(err).WithField("username", user.Username).Warn("Failed to record login timestamp")
	}

	return &Result{User: user, Entitled: entitled, StaffChanged: staffChanged}, nil
}

// checkIdentityProvider is the trust gate: the IdP header must be present
// and on the authorized allowlist.
func (e *Engine) checkIdentityProvider(policy *Policy, assertion *Assertion) error {
	if assertion.IdP == "" {
		e.logger.WithField("header", policy.IDPHeader).Warn("IdP header missing")
		return ErrMissingIdentityProvider
	}
	if !policy.IsAuthorized(assertion.IdP) {
		e.logger.WithField("idp", assertion.IdP).Warn("Unauthorized IdP")
		return &UnauthorizedIdPError{IdP: assertion.IdP}
	}
	return nil
}

// mapAttributes applies the ordered attribute rules, short-circuiting on
// the first missing required attribute. Optional attributes are collected
// as empty strings so downstream consumers see a complete record.
func (e *Engine) mapAttributes(policy *Policy, assertion *Assertion) (map[string]string, error) {
	attrs := make(map[string]string, len(policy.UserAttributes))
	for _, rule := range policy.UserAttributes {
		value, present := assertion.Values[rule.Header]
		if rule.Required && !present {
			e.logger.WithFields(logrus.Fields{
				"idp":    assertion.IdP,
				"header": rule.Header,
				"field":  rule.Field,
			}).Warn("Required SSO attribute missing")
			return nil, &MissingAttributeError{Field: rule.Field}
		}
		attrs[rule.Field] = value
	}
	return attrs, nil
}

// resolveUser finds or creates the local user keyed by username. Existing
// users are returned unmodified: profile fields locally edited since the
// first login must not be clobbered by the assertion. A create that loses
// the uniqueness race retries the lookup exactly once.
func (e *Engine) resolveUser(ctx context.Context, attrs map[string]string) (*identity.User, error) {
	username := attrs[UsernameField]

	user, err := e.store.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	created, err := e.store.CreateUser(ctx, &identity.User{
		Username:  username,
		Email:     attrs["email"],
		FirstName: attrs["first_name"],
		LastName:  attrs["last_name"],
	})
	if err == nil {
		e.metrics.UsersCreatedTotal.Inc()
		e.logger.WithField("username", username).Info("Created user from SSO assertion")
		return created, nil
	}
	if !errors.Is(err, identity.ErrDuplicateUser) {
		return nil, err
	}

	// Lost the create race to a concurrent first login; the winner's row
	// is authoritative.
	user, err = e.store.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("shibauth: user %q vanished after duplicate create", username)
	}
	return user, nil
}

// reconcileGroups grants membership from the static per-IdP configuration
// and the dynamic group field, then revokes everything outside that set
// when the policy is authoritative. Returns the sorted entitlement set.
func (e *Engine) reconcileGroups(ctx context.Context, policy *Policy, user *identity.User, assertion *Assertion) ([]string, error) {
	current, err := e.store.ListGroups(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	memberOf := make(map[string]*identity.Group, len(current))
	for _, group := range current {
		memberOf[group.Name] = group
	}

	entitled := make(map[string]bool)

	// Static grants. Names referencing groups that do not exist yet are
	// configuration lag: skip the grant and keep the name in the
	// entitlement set so an authoritative pass does not revoke it later
	// in the same request cycle.
	for _, name := range policy.GroupsByIDP[assertion.IdP] {
		entitled[name] = true

		group, err := e.store.FindGroupByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if group == nil {
			e.logger.WithFields(logrus.Fields{
				"group": name,
				"idp":   assertion.IdP,
			}).Warn("Statically configured group does not exist, skipping grant")
			continue
		}
		if err := e.grant(ctx, user, group, memberOf); err != nil {
			return nil, err
		}
	}

	// Dynamic grants. The IdP is the authority for these names, so
	// missing groups are created.
	if policy.GroupHeader != "" && assertion.RawGroups != nil {
		for _, name := range strings.Split(*assertion.RawGroups, ";") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			entitled[name] = true

			group, err := e.store.FindGroupByName(ctx, name)
			if err != nil {
				return nil, err
			}
			if group == nil {
				group, err = e.store.CreateGroup(ctx, name)
				if err != nil {
					return nil, err
				}
				e.logger.WithFields(logrus.Fields{
					"group": name,
					"idp":   assertion.IdP,
				}).Info("Created group from IdP assertion")
			}
			if err := e.grant(ctx, user, group, memberOf); err != nil {
				return nil, err
			}
		}
	}

	if policy.GroupsAuthoritative {
		for name, group := range memberOf {
			if entitled[name] {
				continue
			}
			if err := e.store.RemoveMember(ctx, user.ID, group.ID); err != nil {
				return nil, err
			}
			e.metrics.GroupRevokesTotal.Inc()
			e.logger.WithFields(logrus.Fields{
				"username": user.Username,
				"group":    name,
			}).Info("Revoked group membership not present in assertion")
		}
	}

	names := make([]string, 0, len(entitled))
	for name := range entitled {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// grant adds the user to the group unless already a member.
func (e *Engine) grant(ctx context.Context, user *identity.User, group *identity.Group, memberOf map[string]*identity.Group) error {
	if _, ok := memberOf[group.Name]; ok {
		return nil
	}
	if err := e.store.AddMember(ctx, user.ID, group.ID); err != nil {
		return err
	}
	memberOf[group.Name] = group
	e.metrics.GroupGrantsTotal.Inc()
	e.logger.WithFields(logrus.Fields{
		"username": user.Username,
		"group":    group.Name,
	}).Info("Granted group membership")
	return nil
}

// projectStaff derives the staff flag from membership in the configured
// staff group. Only meaningful under authoritative sync: in additive mode
// a past grant could never be withdrawn, so the projection stays off.
func (e *Engine) projectStaff(ctx context.Context, policy *Policy, user *identity.User) (bool, error) {
	if !policy.GroupsAuthoritative || policy.StaffGroup == "" {
		return false, nil
	}

	groups, err := e.store.ListGroups(ctx, user.ID)
	if err != nil {
		return false, err
	}
	isMember := false
	for _, group := range groups {
		if group.Name == policy.StaffGroup {
			isMember = true
			break
		}
	}

	if user.IsStaff == isMember {
		return false, nil
	}
	if err := e.store.SetStaff(ctx, user.ID, isMember); err != nil {
		return false, err
	}
	user.IsStaff = isMember
	e.metrics.StaffChangesTotal.Inc()
	e.logger.WithFields(logrus.Fields{
		"username": user.Username,
		"is_staff": isMember,
	}).Info("Updated staff flag from group membership")
	return true, nil
}
