package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bher20/energybill/internal/calculation"
	"github.com/bher20/energybill/internal/storage"
)

const maxBodyBytes = 1 << 20

type createCalculationRequest struct {
	HouseID     string           `json:"houseId"`
	FlagID      string           `json:"flagId"`
	Date        string           `json:"date"`
	Consumption *decimal.Decimal `json:"consumption"`
}

type dataResponse struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
}

// CreateCalculation computes and stores an energy bill.
// @Summary Create an energy calculation
// @Tags calculations
// @Accept json
// @Produce json
// @Success 201 {object} dataResponse
// @Router /api/v1/energy-calculations [post]
func (h *Handler) CreateCalculation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var body createCalculationRequest
	if err := dec.Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", fmt.Sprintf("malformed JSON body: %v", err))
		return
	}
	req, err := body.toRequest()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	d, err := h.svc.Create(r.Context(), req)
	if err != nil {
		h.writeCalculationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, dataResponse{Message: "energy calculation created", Data: d})
}

// GetCalculation returns a stored calculation with its line items.
// @Summary Get an energy calculation
// @Tags calculations
// @Produce json
// @Param id path string true "Calculation ID"
// @Router /api/v1/energy-calculations/{id} [get]
func (h *Handler) GetCalculation(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeCalculationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dataResponse{Data: d})
}

// ListRates returns the rates that take part in new calculations.
// @Summary List active rates
// @Tags rates
// @Produce json
// @Router /api/v1/rates [get]
func (h *Handler) ListRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.st.ListActiveRates(r.Context())
	if err != nil {
		h.log.Error("list rates failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if rates == nil {
		rates = []storage.Rate{}
	}
	h.writeJSON(w, http.StatusOK, dataResponse{Data: rates})
}

func (b createCalculationRequest) toRequest() (calculation.Request, error) {
	if b.Consumption == nil {
		return calculation.Request{}, errors.New("consumption is required")
	}
	req := calculation.Request{
		HouseID:     b.HouseID,
		FlagID:      b.FlagID,
		Consumption: *b.Consumption,
	}
	if s := strings.TrimSpace(b.Date); s != "" {
		d, err := parseDate(s)
		if err != nil {
			return calculation.Request{}, err
		}
		req.Date = d
	}
	return req, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("date %q must be RFC3339 or YYYY-MM-DD", s)
}

func mapCalculationError(err error) (int, string) {
	switch calculation.KindOf(err) {
	case calculation.KindInvalid:
		return http.StatusBadRequest, "invalid_request"
	case calculation.KindNotFound:
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeCalculationError(w http.ResponseWriter, err error) {
	status, code := mapCalculationError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("calculation request failed", zap.Error(err))
		msg = "internal error"
	}
	h.writeError(w, status, code, msg)
}
