package account

import (
	"context"
	"fmt"
	"regexp"

	"github.com/amonhq/amon/internal/cache"
	"github.com/amonhq/amon/internal/directory"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// loginPattern matches a valid login: a letter followed by at least one
// more letter, digit, underscore, dot, or at-sign.
var loginPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.@]+$`)

// Directory is the slice of the directory adapter the resolver needs.
// Defined here (consumer-side) so tests can fake it.
type Directory interface {
	Get(ctx context.Context, dn string) (*directory.Entry, error)
	Search(ctx context.Context, baseDN, filter string, scope directory.Scope) ([]directory.Entry, error)
}

// cached entry states. A successful lookup caches the account under both
// its uuid and login keys; a negative or failed lookup caches under the
// supplied key only, so later lookups don't stampede the directory.
type notFoundSentinel struct{}
type errSentinel struct{ err error }

// Resolver resolves a user from a UUID or a login, memoized in a single
// cache keyed by both.
type Resolver struct {
	dir         Directory
	cache       *cache.Cache
	operatorsDN string
	logger      *zap.Logger
}

// NewResolver creates a user resolver. userCache is the shared UserGet
// cache from the registry.
func NewResolver(dir Directory, userCache *cache.Cache, operatorsDN string, logger *zap.Logger) *Resolver {
	return &Resolver{
		dir:         dir,
		cache:       userCache,
		operatorsDN: operatorsDN,
		logger:      logger,
	}
}

// ValidLogin reports whether s is syntactically a login.
func ValidLogin(s string) bool {
	return loginPattern.MatchString(s)
}

// Resolve looks up a user by UUID or login. Returns (nil, nil) when no such
// user exists, and (nil, err) on a lookup failure. Syntactically invalid
// input is rejected without touching the directory.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*Account, error) {
	_, uuidErr := uuid.Parse(userID)
	isUUID := uuidErr == nil
	if !isUUID && !ValidLogin(userID) {
		return nil, nil
	}

	if val, ok := r.cache.Get(userID); ok {
		switch v := val.(type) {
		case *Account:
			return v, nil
		case notFoundSentinel:
			return nil, nil
		case errSentinel:
			return nil, v.err
		}
	}

	var (
		acct *Account
		err  error
	)
	if isUUID {
		acct, err = r.lookupByUUID(ctx, userID)
	} else {
		acct, err = r.lookupByLogin(ctx, userID)
	}
	if err != nil {
		r.logger.Error("user lookup failed", zap.String("user", userID), zap.Error(err))
		r.cache.Set(userID, errSentinel{err: err})
		return nil, err
	}
	if acct == nil {
		r.cache.Set(userID, notFoundSentinel{})
		return nil, nil
	}

	// Populate both keys so the other addressing mode hits too.
	r.cache.Set(acct.UUID, acct)
	if acct.Login != "" {
		r.cache.Set(acct.Login, acct)
	}
	return acct, nil
}

func (r *Resolver) lookupByUUID(ctx context.Context, userUUID string) (*Account, error) {
	entry, err := r.dir.Get(ctx, directory.UserDN(userUUID))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	acct := accountFromEntry(entry)
	if acct == nil {
		return nil, nil
	}
	if err := r.fillOperator(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

func (r *Resolver) lookupByLogin(ctx context.Context, login string) (*Account, error) {
	filter := fmt.Sprintf("(&(objectclass=%s)(login=%s))", directory.ObjectClassPerson, login)
	entries, err := r.dir.Search(ctx, directory.UsersBase, filter, directory.ScopeOne)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	acct := accountFromEntry(&entries[0])
	if acct == nil {
		return nil, nil
	}
	if err := r.fillOperator(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// fillOperator marks the account as an operator iff it is a member of the
// privileged directory group.
func (r *Resolver) fillOperator(ctx context.Context, acct *Account) error {
	filter := fmt.Sprintf("(uniquemember=%s)", directory.UserDN(acct.UUID))
	entries, err := r.dir.Search(ctx, r.operatorsDN, filter, directory.ScopeBase)
	if err != nil {
		return fmt.Errorf("operator check for %s: %w", acct.UUID, err)
	}
	acct.Operator = len(entries) > 0
	return nil
}
