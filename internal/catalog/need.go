// ABOUTME: Need detection: ordered keyword-regex families classifying what the user asks about
// ABOUTME: Kept as an explicit rule table so keyword sets stay independently testable per locale

package catalog

import (
	"regexp"

	"github.com/waveline/convocore/internal/textmatch"
)

// Need is the classified kind of catalog question, derived per turn and
// never persisted.
type Need string

const (
	NeedPrice    Need = "price"
	NeedIncludes Need = "includes"
	NeedDuration Need = "duration"
	NeedLink     Need = "link"
	NeedList     Need = "list"
	NeedAny      Need = "any"
)

// needRules are evaluated in order against the normalized input; the first
// family that matches wins. Patterns assume Normalize output: lowercase,
// no diacritics, single spaces.
var needRules = []struct {
	need Need
	re   *regexp.Regexp
}{
	{NeedPrice, regexp.MustCompile(`\b(precio|precios|costo|costos|cuanto (cuesta|vale|es|cobran)|tarifa|price|prices|cost|how much)\b`)},
	{NeedIncludes, regexp.MustCompile(`\b(incluye|incluyen|incluido|incluida|que trae|includes?|included|comes? with)\b`)},
	{NeedDuration, regexp.MustCompile(`\b(duracion|cuanto dura|cuanto tarda|cuanto tiempo|duration|how long)\b`)},
	{NeedLink, regexp.MustCompile(`\b(link|enlace|url|pagina|sitio|website|web|book online|agendar en linea)\b`)},
	{NeedList, regexp.MustCompile(`\b(lista|listado|opciones|options|catalogo|catalog|menu|que servicios|what services|que ofrecen|what do you offer)\b`)},
}

// genericVocab catches catalog vocabulary with no specific question: the
// need is "any" and the resolver decides from context.
var genericVocab = regexp.MustCompile(`\b(servicios?|services?|productos?|products?|paquetes?|packages?|planes|plan|plans|membresias?|memberships?)\b`)

// plansVocab marks a "plans" phrasing, which makes the no-match fallback
// return a listing instead of asking for a name.
var plansVocab = regexp.MustCompile(`\b(planes|plan|plans|membresias?|memberships?)\b`)

// DetectNeed classifies raw text into a Need. The second return is false
// when the text carries no catalog question at all, in which case the
// resolver should treat the turn as a miss.
func DetectNeed(text string) (Need, bool) {
	norm := textmatch.Normalize(text)
	for _, rule := range needRules {
		if rule.re.MatchString(norm) {
			return rule.need, true
		}
	}
	if genericVocab.MatchString(norm) {
		return NeedAny, true
	}
	return "", false
}

func plansPhrasing(text string) bool {
	return plansVocab.MatchString(textmatch.Normalize(text))
}
