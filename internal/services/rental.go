package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/leasehold/apiserver/internal/metrics"
	"github.com/leasehold/apiserver/internal/storage"
	"github.com/leasehold/apiserver/internal/store"
	"github.com/leasehold/apiserver/types"
)

const (
	maxUpdateRetries = 3
	updateRetryDelay = 10 * time.Millisecond
	maxNameLength    = 255
)

// RentalRepository defines persistence operations for rentals.
type RentalRepository interface {
	List(ctx context.Context) ([]types.Rental, error)
	Get(ctx context.Context, id int) (types.Rental, error)
	Create(ctx context.Context, rental types.Rental) (types.Rental, error)
	Update(ctx context.Context, rental types.Rental) (types.Rental, error)
}

// OwnerLookup resolves identity ids.
type OwnerLookup interface {
	GetByID(ctx context.Context, id int) (types.User, error)
}

// AssetStore persists uploaded pictures under a fresh name.
type AssetStore interface {
	Store(ctx context.Context, namespace string, data []byte, contentType string) (types.Asset, error)
}

// EventPublisher announces rental mutations.
type EventPublisher interface {
	PublishRentalEvent(ctx context.Context, event types.RentalEvent) error
}

// CreateRentalInput carries a new listing and its picture.
type CreateRentalInput struct {
	Name        string
	Surface     decimal.Decimal
	Price       decimal.Decimal
	Description string
	Picture     []byte
	ContentType string
}

// UpdateRentalInput carries the fields an owner may change. The picture is
// fixed at creation.
type UpdateRentalInput struct {
	Name        string
	Surface     decimal.Decimal
	Price       decimal.Decimal
	Description string
}

// RentalService encapsulates rental use-cases. It is the only place
// ownership is checked.
type RentalService struct {
	rentals       RentalRepository
	owners        OwnerLookup
	assets        AssetStore
	events        EventPublisher
	publicBaseURL string
	logger        *slog.Logger
	backoff       func() retry.Backoff
	now           func() time.Time
}

// NewRentalService wires the service. events may be nil, in which case
// mutations are not announced.
func NewRentalService(
	rentals RentalRepository,
	owners OwnerLookup,
	assets AssetStore,
	events EventPublisher,
	publicBaseURL string,
	logger *slog.Logger,
) *RentalService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RentalService{
		rentals:       rentals,
		owners:        owners,
		assets:        assets,
		events:        events,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(maxUpdateRetries, retry.NewConstant(updateRetryDelay))
		},
		now: time.Now,
	}
}

func (s *RentalService) List(ctx context.Context) ([]types.Rental, error) {
	rentals, err := s.rentals.List(ctx)
	if err != nil {
		return nil, storageFailure(s.logger, "list rentals", err)
	}
	return rentals, nil
}

func (s *RentalService) Get(ctx context.Context, id int) (types.Rental, error) {
	rental, err := s.rentals.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Rental{}, ErrNotFound
		}
		return types.Rental{}, storageFailure(s.logger, "get rental", err)
	}
	return rental, nil
}

// Create stores the picture and then the record pointing at it. If the
// insert fails after the upload, the picture stays behind unreferenced.
func (s *RentalService) Create(ctx context.Context, input CreateRentalInput, ownerID int) (rental types.Rental, err error) {
	defer func() { metrics.RecordMutation("create", outcome(err)) }()

	input.Name = strings.TrimSpace(input.Name)
	if err := checkFields(input.Name, input.Surface, input.Price); err != nil {
		return types.Rental{}, err
	}
	sniffed, ok := storage.DetectImage(input.Picture)
	if !ok || !isImage(input.ContentType) {
		return types.Rental{}, ErrInvalidAsset
	}

	owner, err := s.owners.GetByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Rental{}, ErrInvalidOwner
		}
		return types.Rental{}, storageFailure(s.logger, "create rental: load owner", err)
	}

	asset, err := s.assets.Store(ctx, storage.ImagesNamespace, input.Picture, sniffed)
	if err != nil {
		return types.Rental{}, storageFailure(s.logger, "create rental: store picture", err)
	}

	rental, err = s.rentals.Create(ctx, types.Rental{
		Name:        input.Name,
		Surface:     input.Surface,
		Price:       input.Price,
		Picture:     s.publicBaseURL + "/" + asset.Key(),
		Description: input.Description,
		OwnerID:     owner.ID,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "orphaned asset", slog.String("key", asset.Key()))
		if errors.Is(err, store.ErrMissingReference) {
			return types.Rental{}, ErrInvalidOwner
		}
		return types.Rental{}, storageFailure(s.logger, "create rental: insert", err)
	}

	s.publish(ctx, types.RentalCreated, rental)
	return rental, nil
}

// Update overwrites the mutable fields of rental id on behalf of
// requesterID. A missing rental is reported before a foreign one, and both
// before invalid fields. The read, checks and write are repeated when a
// concurrent writer bumps the version in between; after maxUpdateRetries
// lost races it gives up with ErrConflict.
func (s *RentalService) Update(ctx context.Context, id int, input UpdateRentalInput, requesterID int) (rental types.Rental, err error) {
	defer func() { metrics.RecordMutation("update", outcome(err)) }()

	input.Name = strings.TrimSpace(input.Name)

	err = retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		current, err := s.rentals.Get(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return storageFailure(s.logger, "update rental: load", err)
		}
		if current.OwnerID != requesterID {
			s.logger.WarnContext(ctx, "update refused",
				slog.Int("rental_id", id),
				slog.Int("requester_id", requesterID),
			)
			return ErrForbidden
		}
		if err := checkFields(input.Name, input.Surface, input.Price); err != nil {
			return err
		}

		current.Name = input.Name
		current.Surface = input.Surface
		current.Price = input.Price
		current.Description = input.Description

		rental, err = s.rentals.Update(ctx, current)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, store.ErrStale):
			return retry.RetryableError(err)
		case errors.Is(err, store.ErrNotFound):
			return ErrNotFound
		default:
			return storageFailure(s.logger, "update rental: write", err)
		}
	})
	if err != nil {
		if errors.Is(err, store.ErrStale) {
			return types.Rental{}, ErrConflict
		}
		if !errors.Is(err, ErrStorage) && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
			return types.Rental{}, storageFailure(s.logger, "update rental: backoff", err)
		}
		return types.Rental{}, err
	}

	s.publish(ctx, types.RentalUpdated, rental)
	return rental, nil
}

func (s *RentalService) publish(ctx context.Context, eventType types.RentalEventType, rental types.Rental) {
	s.logger.InfoContext(ctx, string(eventType),
		slog.Int("rental_id", rental.ID),
		slog.Int("owner_id", rental.OwnerID),
	)
	if s.events == nil {
		return
	}
	event := types.RentalEvent{
		Type:     eventType,
		RentalID: rental.ID,
		OwnerID:  rental.OwnerID,
		At:       s.now().UTC(),
	}
	if err := s.events.PublishRentalEvent(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "publish rental event", slog.String("type", string(eventType)), slog.Any("error", err))
	}
}

func checkFields(name string, surface, price decimal.Decimal) error {
	var bad []string
	if name == "" || len(name) > maxNameLength {
		bad = append(bad, "name")
	}
	if !surface.IsPositive() {
		bad = append(bad, "surface")
	}
	if !price.IsPositive() {
		bad = append(bad, "price")
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(bad, ", "))
	}
	return nil
}

func isImage(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/")
}
