// Package directory is the adapter for the external LDAP directory that
// stores users, probes, and probe groups. Entities are addressed by
// distinguished names built deterministically from their UUIDs.
package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

// Scope selects how deep a search descends from its base DN.
type Scope int

const (
	ScopeBase Scope = iota // the base entry only
	ScopeOne               // immediate children of the base
	ScopeSub               // the whole subtree
)

func (s Scope) ldapScope() int {
	switch s {
	case ScopeBase:
		return ldap.ScopeBaseObject
	case ScopeOne:
		return ldap.ScopeSingleLevel
	default:
		return ldap.ScopeWholeSubtree
	}
}

// Entry is a directory entry: its DN plus multi-valued attributes.
type Entry struct {
	DN    string
	Attrs map[string][]string
}

// First returns the first value of the named attribute, or "".
func (e *Entry) First(name string) string {
	if vals := e.Attrs[name]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Has reports whether the entry carries the named attribute.
func (e *Entry) Has(name string) bool {
	return len(e.Attrs[name]) > 0
}

// Config holds directory connection settings.
type Config struct {
	URL          string
	BindDN       string
	BindPassword string
	InsecureTLS  bool
}

// Client is a shared directory client bound with administrative credentials
// at process start. Operations serialize on a single connection; an
// authentication failure mid-operation triggers one re-bind and retry.
type Client struct {
	mu     sync.Mutex
	conn   *ldap.Conn
	cfg    Config
	logger *zap.Logger
}

// Dial connects to the directory and binds with the configured credentials.
func Dial(cfg Config, logger *zap.Logger) (*Client, error) {
	c := &Client{cfg: cfg, logger: logger}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// connect dials and binds. Caller must hold c.mu (or be the constructor).
func (c *Client) connect() error {
	var opts []ldap.DialOpt
	if c.cfg.InsecureTLS {
		opts = append(opts, ldap.DialWithTLSConfig(&tls.Config{InsecureSkipVerify: true}))
	}
	conn, err := ldap.DialURL(c.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("dial directory %q: %w", c.cfg.URL, err)
	}
	if err := conn.Bind(c.cfg.BindDN, c.cfg.BindPassword); err != nil {
		conn.Close()
		return fmt.Errorf("bind as %q: %w", c.cfg.BindDN, err)
	}
	c.conn = conn
	return nil
}

// withRetry runs op; on an authentication or connection failure it re-binds
// once and retries.
func (c *Client) withRetry(op func(conn *ldap.Conn) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := op(c.conn)
	if err == nil || !isRetryable(err) {
		return err
	}

	c.logger.Warn("directory operation failed, re-binding", zap.Error(err))
	c.conn.Close()
	if cerr := c.connect(); cerr != nil {
		return cerr
	}
	return op(c.conn)
}

func isRetryable(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) ||
		ldap.IsErrorWithCode(err, ldap.ErrorNetwork) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultStrongAuthRequired)
}

// Get fetches a single entry by DN. Returns (nil, nil) if the entry does
// not exist.
func (c *Client) Get(ctx context.Context, dn string) (*Entry, error) {
	entries, err := c.Search(ctx, dn, "(objectclass=*)", ScopeBase)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// Search runs a filter under baseDN and collects the entry stream into a
// slice. A non-success terminal status surfaces as an error; a missing base
// is treated as an empty result.
func (c *Client) Search(ctx context.Context, baseDN, filter string, scope Scope) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entries []Entry
	err := c.withRetry(func(conn *ldap.Conn) error {
		req := ldap.NewSearchRequest(
			baseDN, scope.ldapScope(), ldap.NeverDerefAliases,
			0, 0, false, filter, nil, nil,
		)
		res, err := conn.Search(req)
		if err != nil {
			return err
		}
		entries = entries[:0]
		for _, e := range res.Entries {
			attrs := make(map[string][]string, len(e.Attributes))
			for _, a := range e.Attributes {
				attrs[a.Name] = a.Values
			}
			entries = append(entries, Entry{DN: e.DN, Attrs: attrs})
		}
		return nil
	})
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, nil
		}
		return nil, fmt.Errorf("search %q under %q: %w", filter, baseDN, err)
	}
	return entries, nil
}

// Put writes an entry at dn, creating it or replacing its attributes if it
// already exists.
func (c *Client) Put(ctx context.Context, dn string, attrs map[string][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := c.withRetry(func(conn *ldap.Conn) error {
		add := ldap.NewAddRequest(dn, nil)
		for name, vals := range attrs {
			add.Attribute(name, vals)
		}
		return conn.Add(add)
	})
	if err == nil {
		return nil
	}
	if !ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists) {
		return fmt.Errorf("add %q: %w", dn, err)
	}

	// Entity exists: replace its attributes in place.
	err = c.withRetry(func(conn *ldap.Conn) error {
		mod := ldap.NewModifyRequest(dn, nil)
		for name, vals := range attrs {
			if name == "objectclass" {
				continue
			}
			mod.Replace(name, vals)
		}
		return conn.Modify(mod)
	})
	if err != nil {
		return fmt.Errorf("modify %q: %w", dn, err)
	}
	return nil
}

// Del removes the entry at dn. Deleting an absent entry is not an error.
func (c *Client) Del(ctx context.Context, dn string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := c.withRetry(func(conn *ldap.Conn) error {
		return conn.Del(ldap.NewDelRequest(dn, nil))
	})
	if err != nil && !ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
		return fmt.Errorf("del %q: %w", dn, err)
	}
	return nil
}

// Ping verifies the directory connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.withRetry(func(conn *ldap.Conn) error {
		_, err := conn.WhoAmI(nil)
		return err
	})
}

// Close tears down the directory connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}
