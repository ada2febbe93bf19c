package resolver

import (
	"context"
	"log"

	"crm-callengine/internal/directory"
	"crm-callengine/internal/phone"
	"crm-callengine/pkg/types"
)

// RemoteLookup resolves a phone number against the CRM backend. The engine
// only depends on this interface; the probing client in probe.go is the
// default implementation and is meant as a migration shim until the backend
// exposes a single versioned lookup endpoint.
type RemoteLookup interface {
	Lookup(ctx context.Context, number string) (types.IdentityMeta, error)
}

// Resolver maps a phone number to a best-effort identity record. Stages run
// in strict priority order and each stage runs only if the previous one
// produced nothing: existing context, local directory, remote lookup.
type Resolver struct {
	directory *directory.Cache
	remote    RemoteLookup
}

// New creates a resolver. remote may be nil, which disables the remote stage.
func New(dir *directory.Cache, remote RemoteLookup) *Resolver {
	return &Resolver{directory: dir, remote: remote}
}

// Resolve resolves a number to an identity. base is the context snapshot for
// the call attempt: if it already carries any identity signal, it is returned
// verbatim and no lookup of any kind runs, so a slow or stale lookup can
// never overwrite a fast, page-supplied context.
func (r *Resolver) Resolve(ctx context.Context, number string, base types.CallContext) types.IdentityMeta {
	if base.HasIdentity() {
		meta := types.FromContext(base)
		if meta.Number == "" {
			meta.Number = number
		}
		return meta
	}

	keys := phone.ComparisonKeys(number)

	if meta, ok := r.resolveLocal(number, keys); ok {
		return meta
	}

	if r.remote != nil {
		meta, err := r.remote.Lookup(ctx, number)
		if err != nil {
			// Resolution failures never block the call; it proceeds with
			// a bare number.
			log.Printf("Remote identity lookup failed for %s: %v", number, err)
		} else if !meta.IsEmpty() {
			meta.Number = number
			return meta
		}
	}

	return types.IdentityMeta{Number: number}
}

// resolveLocal scans the cached directory. A person match also pulls in the
// owning account; an account-only match marks the number as a company phone.
func (r *Resolver) resolveLocal(number string, keys []string) (types.IdentityMeta, bool) {
	if r.directory == nil {
		return types.IdentityMeta{}, false
	}

	if p, ok := r.directory.FindPersonByNumber(keys); ok {
		meta := types.IdentityMeta{
			Number:      number,
			Name:        p.FullName(),
			ContactName: p.FullName(),
			ContactID:   p.ID,
			Title:       p.Title,
			City:        p.City,
			State:       p.State,
		}

		if a, ok := r.directory.AccountForPerson(p); ok {
			meta.AccountID = a.ID
			meta.Company = a.Name
			meta.AccountName = a.Name
			meta.Domain = a.Domain
			meta.LogoURL = a.LogoURL
			if meta.City == "" {
				meta.City = a.City
			}
			if meta.State == "" {
				meta.State = a.State
			}
		} else if p.CompanyName != "" {
			meta.Company = p.CompanyName
			meta.AccountName = p.CompanyName
		}

		return meta, true
	}

	if a, ok := r.directory.FindAccountByNumber(keys); ok {
		return types.IdentityMeta{
			Number:         number,
			Company:        a.Name,
			AccountName:    a.Name,
			AccountID:      a.ID,
			City:           a.City,
			State:          a.State,
			Domain:         a.Domain,
			LogoURL:        a.LogoURL,
			IsCompanyPhone: true,
		}, true
	}

	return types.IdentityMeta{}, false
}
