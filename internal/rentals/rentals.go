// Package rentals holds the listing and request flows on top of the
// document and blob stores.
package rentals

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"rental-portal/internal/blob"
	"rental-portal/internal/storage"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

var (
	ErrMissingID      = errors.New("rental id is required")
	ErrRentalNotFound = errors.New("rental not found")
	ErrMissingName    = errors.New("name is required")
	ErrMissingDates   = errors.New("start and end dates are required")
	ErrInvalidDate    = errors.New("dates must be in YYYY-MM-DD format")
	ErrDateOrder      = errors.New("start date is after end date")
	ErrImageRequired  = errors.New("an image is required")
)

const DATE_LAYOUT = "2006-01-02"

// Number of rentals shown on the admin listing page.
const ADMIN_LIST_LIMIT = 50

// Notifier is told about new requests. Failures never fail the request.
type Notifier interface {
	RentalRequested(ctx context.Context, rental storage.Rental, request storage.RentalRequest) error
}

type Service struct {
	store    storage.Provider
	blobs    blob.Store
	notifier Notifier
	locale   language.Tag
	logger   *slog.Logger
}

func NewService(store storage.Provider, blobs blob.Store, notifier Notifier, locale string) *Service {
	tag, err := language.Parse(locale)
	if err != nil {
		slog.Warn("Unknown collation locale, using und", "locale", locale, "error", err)
		tag = language.Und
	}
	return &Service{
		store:    store,
		blobs:    blobs,
		notifier: notifier,
		locale:   tag,
		logger:   slog.With("component", "rentals"),
	}
}

// SortRentals orders rentals by category followed by name using the
// collation rules of locale. The input is left untouched and sorting an
// already sorted slice yields the same order.
func SortRentals(rentals []storage.Rental, locale language.Tag) []storage.Rental {
	out := make([]storage.Rental, len(rentals))
	copy(out, rentals)

	c := collate.New(locale)
	sort.SliceStable(out, func(i, j int) bool {
		return c.CompareString(out[i].Category+out[i].Name, out[j].Category+out[j].Name) < 0
	})
	return out
}

// List returns every rental in display order.
func (s *Service) List(ctx context.Context) ([]storage.Rental, error) {
	rentals, err := s.store.ListRentals(ctx, 0)
	if err != nil {
		return nil, err
	}
	return SortRentals(rentals, s.locale), nil
}

func (s *Service) Get(ctx context.Context, id string) (*storage.Rental, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	rental, err := s.store.GetRental(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrRentalNotFound
	}
	return rental, err
}

type RequestInput struct {
	RentalID  string `json:"rentalId" form:"rentalId"`
	Name      string `json:"name" form:"name"`
	Contact   string `json:"contact" form:"contact"`
	StartDate string `json:"startDate" form:"startDate"`
	EndDate   string `json:"endDate" form:"endDate"`
	Note      string `json:"note" form:"note"`
}

// Validate trims the input in place and checks it. It does not look at the
// store.
func (in *RequestInput) Validate() error {
	in.RentalID = strings.TrimSpace(in.RentalID)
	in.Name = strings.TrimSpace(in.Name)
	in.Contact = strings.TrimSpace(in.Contact)
	in.StartDate = strings.TrimSpace(in.StartDate)
	in.EndDate = strings.TrimSpace(in.EndDate)

	if in.RentalID == "" {
		return ErrMissingID
	}
	if in.Name == "" {
		return ErrMissingName
	}
	if in.StartDate == "" || in.EndDate == "" {
		return ErrMissingDates
	}
	start, err := time.Parse(DATE_LAYOUT, in.StartDate)
	if err != nil {
		return ErrInvalidDate
	}
	end, err := time.Parse(DATE_LAYOUT, in.EndDate)
	if err != nil {
		return ErrInvalidDate
	}
	if start.After(end) {
		return ErrDateOrder
	}
	return nil
}

// SubmitRequest stores a pending request for an existing rental.
func (s *Service) SubmitRequest(ctx context.Context, in RequestInput) (storage.RentalRequest, error) {
	if err := in.Validate(); err != nil {
		return storage.RentalRequest{}, err
	}
	rental, err := s.Get(ctx, in.RentalID)
	if err != nil {
		return storage.RentalRequest{}, err
	}

	request, err := s.store.CreateRentalRequest(ctx, storage.RentalRequest{
		RentalID:  in.RentalID,
		Name:      in.Name,
		Contact:   in.Contact,
		StartDate: in.StartDate,
		EndDate:   in.EndDate,
		Note:      in.Note,
		Status:    storage.RequestStatusPending,
	})
	if err != nil {
		return storage.RentalRequest{}, fmt.Errorf("failed to store request: %w", err)
	}

	s.logger.Info("Rental requested", "request", request.ID, "rental", rental.ID)
	if s.notifier != nil {
		if err := s.notifier.RentalRequested(ctx, *rental, request); err != nil {
			s.logger.Warn("Failed to notify about request", "request", request.ID, "error", err)
		}
	}
	return request, nil
}

// AdminList returns the newest rentals first.
func (s *Service) AdminList(ctx context.Context) ([]storage.Rental, error) {
	return s.store.ListRentals(ctx, ADMIN_LIST_LIMIT)
}

type RentalInput struct {
	Name        string `form:"name"`
	Category    string `form:"category"`
	Description string `form:"description"`
}

func (in *RentalInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Category = strings.TrimSpace(in.Category)
	in.Description = strings.TrimSpace(in.Description)
	if in.Name == "" {
		return ErrMissingName
	}
	return nil
}

// Upload is an image received from a form.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

func (s *Service) upload(ctx context.Context, image *Upload) (string, error) {
	objectPath := blob.NewRentalImagePath(image.Filename)
	url, err := s.blobs.Upload(ctx, objectPath, image.Body, image.ContentType)
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	return url, nil
}

// deleteImage removes the blob behind a download URL. Failures are logged.
func (s *Service) deleteImage(ctx context.Context, imageURL string) {
	if imageURL == "" {
		return
	}
	objectPath, ok := blob.PathFromDownloadURL(imageURL)
	if !ok {
		s.logger.Warn("Cannot resolve image path, leaving blob", "url", imageURL)
		return
	}
	if err := s.blobs.Delete(ctx, objectPath); err != nil {
		s.logger.Warn("Failed to delete image", "path", objectPath, "error", err)
	}
}

// Create uploads the image and then stores the rental.
func (s *Service) Create(ctx context.Context, in RentalInput, image *Upload) (storage.Rental, error) {
	if err := in.Validate(); err != nil {
		return storage.Rental{}, err
	}
	if image == nil {
		return storage.Rental{}, ErrImageRequired
	}

	url, err := s.upload(ctx, image)
	if err != nil {
		return storage.Rental{}, err
	}

	rental, err := s.store.CreateRental(ctx, storage.Rental{
		Name:        in.Name,
		Category:    in.Category,
		Description: in.Description,
		ImageURL:    url,
	})
	if err != nil {
		s.deleteImage(ctx, url)
		return storage.Rental{}, fmt.Errorf("failed to store rental: %w", err)
	}
	s.logger.Info("Rental created", "rental", rental.ID, "name", rental.Name)
	return rental, nil
}

// Update replaces the fields, and the image when one is given. The old image
// is removed best-effort; createdAt is never changed.
func (s *Service) Update(ctx context.Context, id string, in RentalInput, image *Upload) (storage.Rental, error) {
	if id == "" {
		return storage.Rental{}, ErrMissingID
	}
	if err := in.Validate(); err != nil {
		return storage.Rental{}, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return storage.Rental{}, err
	}

	updated := *current
	updated.Name = in.Name
	updated.Category = in.Category
	updated.Description = in.Description

	if image != nil {
		url, err := s.upload(ctx, image)
		if err != nil {
			return storage.Rental{}, err
		}
		s.deleteImage(ctx, current.ImageURL)
		updated.ImageURL = url
	}

	if err := s.store.UpdateRental(ctx, updated); errors.Is(err, storage.ErrNotFound) {
		return storage.Rental{}, ErrRentalNotFound
	} else if err != nil {
		return storage.Rental{}, fmt.Errorf("failed to update rental: %w", err)
	}
	s.logger.Info("Rental updated", "rental", id, "image_replaced", image != nil)
	return updated, nil
}

// Delete removes the document first, then its image if the URL resolves.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrMissingID
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRental(ctx, id); errors.Is(err, storage.ErrNotFound) {
		return ErrRentalNotFound
	} else if err != nil {
		return fmt.Errorf("failed to delete rental: %w", err)
	}
	s.deleteImage(ctx, current.ImageURL)
	s.logger.Info("Rental deleted", "rental", id)
	return nil
}

// Requests lists every request, newest first.
func (s *Service) Requests(ctx context.Context) ([]storage.RentalRequest, error) {
	return s.store.ListRentalRequests(ctx)
}
