package quote

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/capquote/internal/pricing"
)

// LogoSelectionRequest is the wire shape of one logo method selection.
type LogoSelectionRequest struct {
	Position    string `json:"position" validate:"required"`
	Size        string `json:"size" validate:"required"`
	Application string `json:"application,omitempty"`
}

// ShipmentRequest carries the shipment an order is bundled into.
type ShipmentRequest struct {
	ShipmentID       string `json:"shipmentId,omitempty"`
	CombinedQuantity int    `json:"combinedQuantity" validate:"gte=0"`
}

// ConfigurationRequest is the body of quote and configuration update calls.
type ConfigurationRequest struct {
	SelectedColors      map[string]map[string]int       `json:"selectedColors" validate:"required,dive,dive,gte=0"`
	SelectedOptions     map[string]string               `json:"selectedOptions,omitempty"`
	MultiSelectOptions  map[string][]string             `json:"multiSelectOptions,omitempty"`
	LogoSetupSelections map[string]LogoSelectionRequest `json:"logoSetupSelections,omitempty" validate:"omitempty,dive"`
	PriceTier           string                          `json:"priceTier" validate:"required"`
	MoldWaivers         map[string]string               `json:"moldWaivers,omitempty"`
	ShipmentData        *ShipmentRequest                `json:"shipmentData,omitempty" validate:"omitempty"`
	CalculationContext  string                          `json:"calculationContext,omitempty" validate:"omitempty,oneof=cart admin invoice receipt order_creation reorder quote snapshot"`
}

// Configuration converts the request into the pricing model.
func (r ConfigurationRequest) Configuration() pricing.OrderConfiguration {
	cfg := pricing.OrderConfiguration{
		SelectedColors:     r.SelectedColors,
		SelectedOptions:    r.SelectedOptions,
		MultiSelectOptions: r.MultiSelectOptions,
		PriceTier:          strings.TrimSpace(r.PriceTier),
		MoldWaivers:        r.MoldWaivers,
		CalculationContext: pricing.CalculationContext(r.CalculationContext),
	}
	if len(r.LogoSetupSelections) > 0 {
		cfg.LogoSetupSelections = make(map[string]pricing.LogoSelection, len(r.LogoSetupSelections))
		for method, sel := range r.LogoSetupSelections {
			cfg.LogoSetupSelections[method] = pricing.LogoSelection{
				Position:    sel.Position,
				Size:        sel.Size,
				Application: sel.Application,
			}
		}
	}
	if r.ShipmentData != nil {
		cfg.ShipmentData = &pricing.ShipmentContext{
			ShipmentID:       r.ShipmentData.ShipmentID,
			CombinedQuantity: r.ShipmentData.CombinedQuantity,
		}
	}
	return cfg
}

// RecalculateRequest is the body of the admin batch endpoint.
type RecalculateRequest struct {
	OrderIDs    []string `json:"orderIds" validate:"required,min=1,max=1000,dive,uuid"`
	Concurrency int      `json:"concurrency,omitempty" validate:"omitempty,min=1,max=64"`
	Force       bool     `json:"force,omitempty"`
}

// FieldError describes one rejected request field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	return v
}

// validationDetails flattens validator errors into field/rule pairs.
func validationDetails(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "body", Rule: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if idx := strings.IndexByte(field, '.'); idx >= 0 {
			field = field[idx+1:]
		}
		rule := fe.Tag()
		if fe.Param() != "" {
			rule = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}
		out = append(out, FieldError{Field: field, Rule: rule})
	}
	return out
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}
