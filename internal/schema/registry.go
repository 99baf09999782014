package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/beehive-sync/beehive/internal/berrors"
	"github.com/beehive-sync/beehive/internal/store"
)

// Registry persists one Context's editable draft plus its frozen,
// immutable versions, each in its own store column family named after the
// context's UUID.
type Registry struct {
	store *store.Store
}

// NewRegistry wraps a Store as a schema Registry.
func NewRegistry(s *store.Store) *Registry {
	return &Registry{store: s}
}

// Post creates a brand-new context: its column family and an initial draft
// at version 1. Fails if the context already exists.
func (r *Registry) Post(ctx *Context) error {
	if ctx.Version == 0 {
		ctx.Version = 1
	}
	if ctx.Entities == nil {
		ctx.Entities = map[uuid.UUID]Entity{}
	}
	if ctx.Transactions == nil {
		ctx.Transactions = map[uuid.UUID]Transaction{}
	}
	if ctx.Roles == nil {
		ctx.Roles = map[uuid.UUID]Role{}
	}
	if ctx.Modules == nil {
		ctx.Modules = map[uuid.UUID]Module{}
	}
	if err := ctx.Validate(); err != nil {
		return err
	}

	name := ctx.UUID.String()
	if err := r.store.CreateContext(name); err != nil {
		return err
	}
	return r.put(name, store.SchemaDraftKey(), ctx)
}

// Get reads the current editable draft of a context.
func (r *Registry) Get(contextID uuid.UUID) (*Context, error) {
	return r.get(contextID.String(), store.SchemaDraftKey())
}

// GetVersion reads a previously frozen, immutable version of a context.
func (r *Registry) GetVersion(contextID uuid.UUID, version uint32) (*Context, error) {
	return r.get(contextID.String(), store.SchemaVersionKey(version))
}

// Put overwrites the editable draft after validating it. The caller is
// responsible for bumping ctx.Version when they intend the change to
// become a new linkable version.
func (r *Registry) Put(ctx *Context) error {
	if err := ctx.Validate(); err != nil {
		return err
	}
	name := ctx.UUID.String()
	if _, err := r.get(name, store.SchemaDraftKey()); err != nil {
		return err
	}
	return r.put(name, store.SchemaDraftKey(), ctx)
}

// List returns the current draft of every context the store holds, skipping
// store.DefaultContext which never carries a schema draft.
func (r *Registry) List() ([]*Context, error) {
	names, err := r.store.Contexts()
	if err != nil {
		return nil, err
	}
	out := make([]*Context, 0, len(names))
	for _, name := range names {
		if name == store.DefaultContext {
			continue
		}
		id, err := uuid.Parse(name)
		if err != nil {
			continue
		}
		ctx, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, ctx)
	}
	return out, nil
}

// ListVersions returns the version numbers frozen under contextID, ascending.
func (r *Registry) ListVersions(contextID uuid.UUID) ([]uint32, error) {
	kvs, err := r.store.ScanPrefix(contextID.String(), store.SchemaVersionPrefix())
	if err != nil {
		return nil, err
	}
	out := make([]uint32, 0, len(kvs))
	for _, kv := range kvs {
		n := strings.TrimPrefix(string(kv.Key), string(store.SchemaVersionPrefix()))
		v, err := strconv.ParseUint(n, 10, 32)
		if err != nil {
			continue
		}
		out = append(out, uint32(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Delete removes a context and every frozen version underneath it.
func (r *Registry) Delete(contextID uuid.UUID) error {
	return r.store.DeleteContext(contextID.String())
}

// Link freezes the current draft as an immutable version, addressable
// thereafter via GetVersion. version must name the draft's own version
// field — the link header is the client's confirmation of which version
// it is publishing, not a way to relabel it — else this fails with
// CodeInvalidRequest (§4.C). The draft itself is left untouched so editing
// can continue against it.
func (r *Registry) Link(contextID uuid.UUID, version uint32) (*Context, error) {
	name := contextID.String()
	draft, err := r.get(name, store.SchemaDraftKey())
	if err != nil {
		return nil, err
	}
	if version != draft.Version {
		return nil, berrors.New(berrors.CodeInvalidRequest, fmt.Sprintf("link header names version %d, draft is version %d", version, draft.Version))
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	if err := r.put(name, store.SchemaVersionKey(draft.Version), draft); err != nil {
		return nil, err
	}
	return draft, nil
}

// Unlink removes a previously frozen version, leaving the draft and every
// other version intact. Clients still pinned to that version must
// renegotiate.
func (r *Registry) Unlink(contextID uuid.UUID, version uint32) error {
	name := contextID.String()
	key := store.SchemaVersionKey(version)
	existing, err := r.store.Get(name, key)
	if err != nil {
		return err
	}
	if existing == nil {
		return berrors.New(berrors.CodeNotExists, fmt.Sprintf("context %s version %d", contextID, version))
	}
	return r.store.Delete(name, key)
}

func (r *Registry) put(context string, key []byte, ctx *Context) error {
	data, err := json.Marshal(ctx)
	if err != nil {
		return berrors.Wrap(berrors.CodeInvalidSchema, "marshal context", err)
	}
	return r.store.Put(context, key, data)
}

func (r *Registry) get(context string, key []byte) (*Context, error) {
	data, err := r.store.Get(context, key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, berrors.New(berrors.CodeNotExists, fmt.Sprintf("context %s: %s", context, key))
	}
	var ctx Context
	if err := json.Unmarshal(data, &ctx); err != nil {
		return nil, berrors.Wrap(berrors.CodeInvalidSchema, "unmarshal context", err)
	}
	return &ctx, nil
}

// publishLinkRE matches a publish Link header of the form
// </context/<UUID>/versions/<N>>; rel="publish".
var publishLinkRE = regexp.MustCompile(`^<\s*/context/([0-9a-fA-F-]{36})/versions/(\d+)\s*>\s*;\s*rel="publish"$`)

// ParsePublishLink parses a publish Link header value into the context and
// version it names.
func ParsePublishLink(header string) (uuid.UUID, uint32, error) {
	m := publishLinkRE.FindStringSubmatch(header)
	if m == nil {
		return uuid.Nil, 0, berrors.New(berrors.CodeInvalidRequest, fmt.Sprintf("malformed publish link %q", header))
	}
	id, err := uuid.Parse(m[1])
	if err != nil {
		return uuid.Nil, 0, berrors.Wrap(berrors.CodeInvalidRequest, "publish link context uuid", err)
	}
	v, err := strconv.ParseUint(m[2], 10, 32)
	if err != nil || v == 0 {
		return uuid.Nil, 0, berrors.New(berrors.CodeInvalidRequest, fmt.Sprintf("publish link version must be a positive integer, got %q", m[2]))
	}
	return id, uint32(v), nil
}

// FormatPublishLink renders the Link header value for a published version,
// the inverse of ParsePublishLink.
func FormatPublishLink(contextID uuid.UUID, version uint32) string {
	return fmt.Sprintf("</context/%s/versions/%d>; rel=\"publish\"", contextID, version)
}
