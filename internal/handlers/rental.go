package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/leasehold/apiserver/internal/services"
	"github.com/leasehold/apiserver/internal/storage"
	"github.com/leasehold/apiserver/types"
)

const (
	maxMultipartMemory = 32 << 20
	formOverheadBytes  = 1 << 20
	formFieldName      = "name"
	formFieldSurface   = "surface"
	formFieldPrice     = "price"
	formFieldPicture   = "picture"
	formFieldDesc      = "description"
)

// RentalManager is the part of services.RentalService the handlers use.
type RentalManager interface {
	List(ctx context.Context) ([]types.Rental, error)
	Get(ctx context.Context, id int) (types.Rental, error)
	Create(ctx context.Context, input services.CreateRentalInput, ownerID int) (types.Rental, error)
	Update(ctx context.Context, id int, input services.UpdateRentalInput, requesterID int) (types.Rental, error)
}

// RentalHandler provides HTTP handlers for rentals.
type RentalHandler struct {
	rentals        RentalManager
	maxUploadBytes int64
}

func NewRentalHandler(rentals RentalManager, maxUploadBytes int64) *RentalHandler {
	return &RentalHandler{rentals: rentals, maxUploadBytes: maxUploadBytes}
}

// RentalRouter registers rental routes on the given router. Reads are
// public; writes go through authMiddleware.
func RentalRouter(
	r chi.Router,
	rentals RentalManager,
	maxUploadBytes int64,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewRentalHandler(rentals, maxUploadBytes)

	r.Get("/", handler.ListRentals)
	r.With(authMiddleware).Post("/", handler.CreateRental)
	r.Route("/{rentalID}", func(r chi.Router) {
		r.Get("/", handler.GetRental)
		r.With(authMiddleware).Put("/", handler.UpdateRental)
	})
}

func (h *RentalHandler) ListRentals(w http.ResponseWriter, r *http.Request) {
	rentals, err := h.rentals.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := RentalListResponse{Rentals: make([]RentalResponse, 0, len(rentals))}
	for _, rental := range rentals {
		resp.Rentals = append(resp.Rentals, toRentalResponse(rental))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *RentalHandler) GetRental(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "rentalID")
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	rental, err := h.rentals.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRentalResponse(rental))
}

func (h *RentalHandler) CreateRental(w http.ResponseWriter, r *http.Request) {
	ownerID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	form, err := h.parseRentalForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	picture, contentType, err := h.parsePicture(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, err = h.rentals.Create(r.Context(), services.CreateRentalInput{
		Name:        form.Name,
		Surface:     form.Surface,
		Price:       form.Price,
		Description: form.Description,
		Picture:     picture,
		ContentType: contentType,
	}, ownerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Rental created !"})
}

func (h *RentalHandler) UpdateRental(w http.ResponseWriter, r *http.Request) {
	requesterID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseID(r, "rentalID")
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	form, err := h.parseRentalForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, err = h.rentals.Update(r.Context(), id, services.UpdateRentalInput{
		Name:        form.Name,
		Surface:     form.Surface,
		Price:       form.Price,
		Description: form.Description,
	}, requesterID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Rental updated !"})
}

// RentalForm holds the text fields of a create or update form.
type RentalForm struct {
	Name        string
	Surface     decimal.Decimal
	Price       decimal.Decimal
	Description string
}

// RentalResponse is the wire form of a rental. Decimals are rendered as JSON
// numbers without passing through float64.
type RentalResponse struct {
	ID          int         `json:"id"`
	Name        string      `json:"name"`
	Surface     json.Number `json:"surface"`
	Price       json.Number `json:"price"`
	Picture     string      `json:"picture"`
	Description string      `json:"description"`
	OwnerID     int         `json:"owner_id"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type RentalListResponse struct {
	Rentals []RentalResponse `json:"rentals"`
}

func toRentalResponse(rental types.Rental) RentalResponse {
	return RentalResponse{
		ID:          rental.ID,
		Name:        rental.Name,
		Surface:     json.Number(rental.Surface.String()),
		Price:       json.Number(rental.Price.String()),
		Picture:     rental.Picture,
		Description: rental.Description,
		OwnerID:     rental.OwnerID,
		CreatedAt:   rental.CreatedAt,
		UpdatedAt:   rental.UpdatedAt,
	}
}

func (h *RentalHandler) parseRentalForm(w http.ResponseWriter, r *http.Request) (RentalForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+formOverheadBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return RentalForm{}, errors.New("request too large")
		}
		return RentalForm{}, errors.New("invalid multipart form")
	}

	surface, err := parseDecimal(formFieldSurface, r.FormValue(formFieldSurface))
	if err != nil {
		return RentalForm{}, err
	}
	price, err := parseDecimal(formFieldPrice, r.FormValue(formFieldPrice))
	if err != nil {
		return RentalForm{}, err
	}

	return RentalForm{
		Name:        strings.TrimSpace(r.FormValue(formFieldName)),
		Surface:     surface,
		Price:       price,
		Description: strings.TrimSpace(r.FormValue(formFieldDesc)),
	}, nil
}

// parsePicture reads the uploaded picture and refuses anything whose bytes
// are not a raster image. A missing or generic declared type is replaced by
// the sniffed one.
func (h *RentalHandler) parsePicture(r *http.Request) ([]byte, string, error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File[formFieldPicture]) == 0 {
		return nil, "", errors.New("picture is required")
	}
	if len(r.MultipartForm.File[formFieldPicture]) > 1 {
		return nil, "", errors.New("only one picture is allowed")
	}

	fileHeader := r.MultipartForm.File[formFieldPicture][0]
	file, err := fileHeader.Open()
	if err != nil {
		return nil, "", errors.New("failed to read upload")
	}
	data, err := readFileLimited(file, h.maxUploadBytes)
	_ = file.Close()
	if err != nil {
		return nil, "", err
	}

	sniffed, ok := storage.DetectImage(data)
	if !ok {
		return nil, "", errors.New("picture must be an image")
	}
	contentType := strings.TrimSpace(fileHeader.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = sniffed
	}
	return data, contentType, nil
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s", field)
	}
	return value, nil
}
