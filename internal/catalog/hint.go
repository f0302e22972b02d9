// ABOUTME: Variant hint extraction (size words, weight-in-pounds) and size-based variant detection
// ABOUTME: Distinguishes physical size tiers (ask for size) from option sets like membership tiers

package catalog

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/waveline/convocore/internal/store"
	"github.com/waveline/convocore/internal/textmatch"
)

// weightRe matches a weight in pounds, e.g. "20 lbs", "12.5 lb", "18 libras".
var weightRe = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s*(lbs?|libras?|pounds?)\b`)

// sizeTokens are explicit size words, longest phrases first so "extra large"
// wins over "large".
var sizeTokens = []string{
	"extra large", "extra grande", "extra small",
	"xxl", "xl", "xs",
	"jumbo", "gigante", "toy", "mini",
	"small", "pequeno", "pequena", "chico", "chica",
	"medium", "mediano", "mediana",
	"large", "grande", "big",
}

// genericVariantWords signal the user is talking about a size/option without
// naming one ("what sizes do you have").
var genericVariantWords = []string{"size", "sizes", "tamano", "tamanos", "talla", "tallas", "peso", "weight"}

// variantHint is what the user's text says about which variant they mean.
type variantHint struct {
	WeightLbs *float64 // weight-in-pounds pattern, highest priority
	SizeToken string   // explicit size word
}

// detectHint returns the variant hint carried by the text, or nil when the
// text says nothing about sizes or weights.
func detectHint(text string) *variantHint {
	norm := textmatch.Normalize(text)
	padded := " " + norm + " "

	hint := &variantHint{}
	// Normalize turns "." into a space, so weights must be read from the raw
	// text or "15.5 lbs" loses its integer part.
	if m := weightRe.FindStringSubmatch(strings.ToLower(text)); m != nil {
		if w, err := strconv.ParseFloat(m[1], 64); err == nil {
			hint.WeightLbs = &w
		}
	}
	for _, tok := range sizeTokens {
		if strings.Contains(padded, " "+tok+" ") {
			hint.SizeToken = tok
			break
		}
	}
	if hint.WeightLbs != nil || hint.SizeToken != "" {
		return hint
	}
	for _, word := range genericVariantWords {
		if strings.Contains(padded, " "+word+" ") {
			return hint
		}
	}
	return nil
}

// pickVariant resolves a hint against the variants in priority order:
// weight-in-range against declared min/max bounds, then exact size-token
// match, then the first variant as fallback. Variants must be non-empty.
func pickVariant(variants []*store.Variant, hint *variantHint) *store.Variant {
	if hint.WeightLbs != nil {
		w := *hint.WeightLbs
		for _, v := range variants {
			if v.MinWeight == nil && v.MaxWeight == nil {
				continue
			}
			if v.MinWeight != nil && w < *v.MinWeight {
				continue
			}
			if v.MaxWeight != nil && w > *v.MaxWeight {
				continue
			}
			return v
		}
	}
	if hint.SizeToken != "" {
		for _, v := range variants {
			if variantText(v) != "" && strings.Contains(" "+variantText(v)+" ", " "+hint.SizeToken+" ") {
				return v
			}
		}
	}
	return variants[0]
}

func variantText(v *store.Variant) string {
	text := v.Name
	if v.SizeLabel != nil && *v.SizeLabel != "" {
		text += " " + *v.SizeLabel
	}
	return textmatch.Normalize(text)
}

// sizeBased reports whether the service's variants represent physical size
// tiers, either via structured weight bounds / size labels or by their names
// matching size/weight vocabulary. Plans are never size-based regardless of
// naming: membership tiers named "Large" must not trigger a size question.
func sizeBased(svc *store.Service, variants []*store.Variant) bool {
	if svc.IsPlan {
		return false
	}
	for _, v := range variants {
		if v.MinWeight != nil || v.MaxWeight != nil {
			return true
		}
		if v.SizeLabel != nil && *v.SizeLabel != "" {
			return true
		}
	}
	for _, v := range variants {
		if nameLooksSizeBased(v.Name) {
			return true
		}
	}
	return false
}

func nameLooksSizeBased(name string) bool {
	norm := textmatch.Normalize(name)
	if weightRe.MatchString(norm) {
		return true
	}
	padded := " " + norm + " "
	for _, tok := range sizeTokens {
		if strings.Contains(padded, " "+tok+" ") {
			return true
		}
	}
	return false
}
