package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/gowebpki/jcs"

	"github.com/noah-isme/capquote/internal/common"
	"github.com/noah-isme/capquote/internal/pricing"
)

// hashVersion prefixes the canonical document so a change to the hashed
// field set invalidates every stored snapshot at once.
const hashVersion = "v2:"

// ErrInvalidText marks order text that cannot be hashed canonically. It wraps
// pricing.ErrInvalidOrderData.
var ErrInvalidText = fmt.Errorf("%w: text must be valid UTF-8", pricing.ErrInvalidOrderData)

// hashInput is the price-affecting subset of an order.
type hashInput struct {
	Colors           map[string]map[string]int        `json:"colors"`
	Options          map[string]string                `json:"options"`
	MultiOptions     map[string][]string              `json:"multiOptions"`
	Logos            map[string]pricing.LogoSelection `json:"logos"`
	PriceTier        string                           `json:"priceTier"`
	MoldWaivers      map[string]string                `json:"moldWaivers"`
	CombinedQuantity int                              `json:"combinedQuantity"`
}

// ContentHash fingerprints the fields of order that affect its price. The
// order id, calculation context and shipment id do not participate. The
// document is canonicalised per RFC 8785 so other runtimes can reproduce the
// hash; text that is not valid UTF-8 is rejected.
func ContentHash(order pricing.OrderConfiguration) (string, error) {
	in := hashInput{
		Colors:       make(map[string]map[string]int),
		Options:      make(map[string]string),
		MultiOptions: make(map[string][]string),
		Logos:        make(map[string]pricing.LogoSelection),
		PriceTier:    strings.TrimSpace(order.PriceTier),
		MoldWaivers:  make(map[string]string),
	}
	text := []string{in.PriceTier}
	for color, sizes := range order.SelectedColors {
		kept := make(map[string]int)
		for size, qty := range sizes {
			if qty > 0 {
				kept[size] = qty
				text = append(text, size)
			}
		}
		if len(kept) > 0 {
			in.Colors[color] = kept
			text = append(text, color)
		}
	}
	for key, value := range order.SelectedOptions {
		if v := strings.TrimSpace(value); v != "" {
			in.Options[key] = v
			text = append(text, key, v)
		}
	}
	for key := range order.MultiSelectOptions {
		values := order.MultiOption(key)
		if len(values) == 0 {
			continue
		}
		sort.Strings(values)
		in.MultiOptions[key] = values
		text = append(text, key)
		text = append(text, values...)
	}
	for key, sel := range order.LogoSetupSelections {
		logo := pricing.LogoSelection{
			Position:    strings.TrimSpace(sel.Position),
			Size:        strings.TrimSpace(sel.Size),
			Application: sel.ApplicationOrDefault(),
		}
		in.Logos[key] = logo
		text = append(text, key, logo.Position, logo.Size, logo.Application)
	}
	for key, reason := range order.MoldWaivers {
		in.MoldWaivers[key] = strings.TrimSpace(reason)
		text = append(text, key, in.MoldWaivers[key])
	}
	if order.ShipmentData != nil {
		in.CombinedQuantity = order.ShipmentData.CombinedQuantity
	}

	for _, s := range text {
		if !utf8.ValidString(s) {
			return "", fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidText, s)
		}
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("snapshot: encode hash input: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("snapshot: canonicalise hash input: %w", err)
	}
	return common.Sha256Hex(hashVersion + string(canonical)), nil
}
