package sessions

import (
	"sort"
	"sync"

	"option_bot/internal/broker"
	"option_bot/internal/models"

	"github.com/pkg/errors"
)

// Session — сессия биржи одного аккаунта. mu держится на всё время
// обработки сигнала или прохода опроса по аккаунту.
type Session struct {
	Account models.Account
	Broker  broker.Broker

	mu sync.Mutex
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Registry лениво создаёт по одной сессии на аккаунт.
type Registry struct {
	factory broker.Factory

	mu       sync.Mutex
	accounts map[string]models.Account
	sessions map[string]*Session
}

func NewRegistry(accounts []models.Account, factory broker.Factory) *Registry {
	r := &Registry{
		factory:  factory,
		accounts: make(map[string]models.Account, len(accounts)),
		sessions: make(map[string]*Session),
	}
	for _, a := range accounts {
		r.accounts[a.Name] = a
	}
	return r
}

// Get возвращает сессию включённого аккаунта, создавая её при первом вызове.
func (r *Registry) Get(name string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[name]
	if !ok {
		return nil, models.Errorf(models.ValidationFailure, "unknown account %q", name)
	}
	if !acc.Enabled {
		return nil, models.Errorf(models.ValidationFailure, "account %q is disabled", name)
	}
	if s, ok := r.sessions[name]; ok {
		return s, nil
	}
	b, err := r.factory.New(acc)
	if err != nil {
		return nil, errors.Wrapf(err, "connect account %s", name)
	}
	s := &Session{Account: acc, Broker: b}
	r.sessions[name] = s
	return s, nil
}

// Enabled — включённые аккаунты по имени.
func (r *Registry) Enabled() []models.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		if a.Enabled {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
