package remote

import (
	"errors"
	"fmt"

	"dropwatch/internal/config"
	"dropwatch/internal/domain"
	"dropwatch/internal/security/secretbox"
)

var (
	ErrUnknownIdentity = errors.New("unknown identity")
	ErrNoDestination   = errors.New("identity has no destination")
)

type member struct {
	identity    domain.Identity
	displayName string
	destination string
	token       string
}

// StaticPool is an IdentityPool built once from the roster file.
type StaticPool struct {
	reader  domain.Identity
	order   []domain.Identity
	members map[string]member
}

// NewStaticPool builds the pool. box may be nil when no roster entry carries
// an encrypted token.
func NewStaticPool(roster config.Roster, box *secretbox.Box) (*StaticPool, error) {
	p := &StaticPool{
		reader:  domain.Identity{Name: roster.Reader},
		order:   make([]domain.Identity, 0, len(roster.Identities)),
		members: make(map[string]member, len(roster.Identities)),
	}
	for _, ri := range roster.Identities {
		token := ri.Token
		if ri.TokenEnc != "" {
			if box == nil {
				return nil, fmt.Errorf("identity %q: encrypted token but no IDENTITY_ENCRYPTION_KEY", ri.Name)
			}
			plain, err := box.Decrypt(ri.TokenEnc)
			if err != nil {
				return nil, fmt.Errorf("identity %q: decrypt token: %w", ri.Name, err)
			}
			token = plain
		}
		display := ri.DisplayName
		if display == "" {
			display = ri.Name
		}
		id := domain.Identity{Name: ri.Name}
		p.order = append(p.order, id)
		p.members[ri.Name] = member{
			identity:    id,
			displayName: display,
			destination: ri.Destination,
			token:       token,
		}
	}
	if _, ok := p.members[p.reader.Name]; !ok {
		return nil, fmt.Errorf("reader %q: %w", p.reader.Name, ErrUnknownIdentity)
	}
	return p, nil
}

func (p *StaticPool) Reader() (domain.Identity, error) {
	return p.reader, nil
}

func (p *StaticPool) Identities() []domain.Identity {
	out := make([]domain.Identity, len(p.order))
	copy(out, p.order)
	return out
}

func (p *StaticPool) Destination(id domain.Identity) (string, error) {
	m, ok := p.members[id.Name]
	if !ok {
		return "", fmt.Errorf("%s: %w", id.Name, ErrUnknownIdentity)
	}
	if m.destination == "" {
		return "", fmt.Errorf("%s: %w", id.Name, ErrNoDestination)
	}
	return m.destination, nil
}

func (p *StaticPool) DisplayName(id domain.Identity) string {
	if m, ok := p.members[id.Name]; ok {
		return m.displayName
	}
	return id.Name
}

// Token returns the session token used to authenticate id against the remote API.
func (p *StaticPool) Token(id domain.Identity) (string, error) {
	m, ok := p.members[id.Name]
	if !ok {
		return "", fmt.Errorf("%s: %w", id.Name, ErrUnknownIdentity)
	}
	return m.token, nil
}
