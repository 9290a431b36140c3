package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/leasehold/apiserver/internal/store"
	"github.com/leasehold/apiserver/types"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type memUsers struct {
	mu     sync.Mutex
	nextID int
	byID   map[int]types.User
	err    error
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[int]types.User)}
}

func (m *memUsers) GetByID(_ context.Context, id int) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return types.User{}, m.err
	}
	user, ok := m.byID[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return types.User{}, m.err
	}
	for _, user := range m.byID {
		if strings.EqualFold(user.Email, strings.TrimSpace(email)) {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memUsers) Create(_ context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return types.User{}, m.err
	}
	for _, existing := range m.byID {
		if strings.EqualFold(existing.Email, user.Email) {
			return types.User{}, store.ErrConflict
		}
	}
	m.nextID++
	user.ID = m.nextID
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	m.byID[user.ID] = user
	return user, nil
}

func (m *memUsers) delete(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
}

// memRentals mimics the versioned update of store.RentalRepository.
type memRentals struct {
	mu     sync.Mutex
	nextID int
	byID   map[int]types.Rental
	// beforeUpdate runs before each conditional write, outside the lock.
	beforeUpdate func(id int)
	createErr    error
	updates      int
}

func newMemRentals() *memRentals {
	return &memRentals{byID: make(map[int]types.Rental)}
}

func (m *memRentals) List(_ context.Context) ([]types.Rental, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rentals := make([]types.Rental, 0, len(m.byID))
	for id := 1; id <= m.nextID; id++ {
		if rental, ok := m.byID[id]; ok {
			rentals = append(rentals, rental)
		}
	}
	return rentals, nil
}

func (m *memRentals) Get(_ context.Context, id int) (types.Rental, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rental, ok := m.byID[id]
	if !ok {
		return types.Rental{}, store.ErrNotFound
	}
	return rental, nil
}

func (m *memRentals) Create(_ context.Context, rental types.Rental) (types.Rental, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return types.Rental{}, m.createErr
	}
	m.nextID++
	rental.ID = m.nextID
	rental.Version = 1
	rental.CreatedAt = time.Now().UTC()
	rental.UpdatedAt = rental.CreatedAt
	m.byID[rental.ID] = rental
	return rental, nil
}

func (m *memRentals) Update(_ context.Context, rental types.Rental) (types.Rental, error) {
	if m.beforeUpdate != nil {
		m.beforeUpdate(rental.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	stored, ok := m.byID[rental.ID]
	if !ok {
		return types.Rental{}, store.ErrNotFound
	}
	if stored.Version != rental.Version {
		return types.Rental{}, store.ErrStale
	}
	stored.Name = rental.Name
	stored.Surface = rental.Surface
	stored.Price = rental.Price
	stored.Description = rental.Description
	stored.UpdatedAt = time.Now().UTC()
	stored.Version++
	m.byID[rental.ID] = stored
	return stored, nil
}

// bump simulates a concurrent writer.
func (m *memRentals) bump(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rental := m.byID[id]
	rental.Version++
	m.byID[id] = rental
}

type memAssets struct {
	mu     sync.Mutex
	stored []types.Asset
	err    error
}

func (m *memAssets) Store(_ context.Context, namespace string, _ []byte, contentType string) (types.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return types.Asset{}, m.err
	}
	asset := types.Asset{
		Namespace:   namespace,
		Filename:    "asset-" + string(rune('a'+len(m.stored))) + ".png",
		ContentType: contentType,
	}
	m.stored = append(m.stored, asset)
	return asset, nil
}

func (m *memAssets) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stored)
}

type recordedEvents struct {
	mu     sync.Mutex
	events []types.RentalEvent
	err    error
}

func (r *recordedEvents) PublishRentalEvent(_ context.Context, event types.RentalEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordedEvents) all() []types.RentalEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.RentalEvent(nil), r.events...)
}

var errDiskOnFire = errors.New("disk on fire: /var/lib/postgres/base/16384")
