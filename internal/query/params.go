package query

import "strings"

// The alias and conversion tables isolate vocabulary and unit drift between
// natural-language input and the storage schema. Unknown names pass through
// unchanged so the storage layer decides whether to ignore them.

// paramAliases maps lower-cased free-form parameter names to canonical
// parameter-dictionary keys.
var paramAliases = map[string]string{
	// lifting capacity
	"грузоподъёмность":  "грузоподъемность",
	"гп":                "грузоподъемность",
	"lifting_capacity":  "грузоподъемность",
	"load_capacity":     "грузоподъемность",
	"capacity":          "грузоподъемность",
	// weight
	"вес":               "масса",
	"weight":            "масса",
	"mass":              "масса",
	// engine power
	"мощность_двигателя": "мощность",
	"power":              "мощность",
	"engine_power":       "мощность",
	// boom reach
	"вылет":       "вылет_стрелы",
	"boom_reach":  "вылет_стрелы",
	"reach":       "вылет_стрелы",
	// digging depth
	"глубина":        "глубина_копания",
	"digging_depth":  "глубина_копания",
	// bucket volume
	"объём_ковша":    "объем_ковша",
	"bucket_volume":  "объем_ковша",
	// working height
	"высота":          "высота_подъема",
	"высота_подъёма":  "высота_подъема",
	"working_height":  "высота_подъема",
}

// unitConversion multiplies a value expressed in fromUnit into toUnit.
type unitConversion struct {
	FromUnit string
	ToUnit   string
	Factor   float64
}

// unitConversions maps canonical field names to the conversion applied to
// numeric values. The catalog stores capacities and weights in tonnes and
// lengths in metres.
var unitConversions = map[string]unitConversion{
	"масса":           {FromUnit: "кг", ToUnit: "т", Factor: 0.001},
	"глубина_копания": {FromUnit: "мм", ToUnit: "м", Factor: 0.001},
	"вылет_стрелы":    {FromUnit: "мм", ToUnit: "м", Factor: 0.001},
}

const (
	suffixMin = "_min"
	suffixMax = "_max"
)

// SplitRangeSuffix separates a parameter name from its _min/_max range
// suffix. The suffix is empty for exact-match parameters.
func SplitRangeSuffix(name string) (base, suffix string) {
	switch {
	case strings.HasSuffix(name, suffixMin):
		return strings.TrimSuffix(name, suffixMin), suffixMin
	case strings.HasSuffix(name, suffixMax):
		return strings.TrimSuffix(name, suffixMax), suffixMax
	default:
		return name, ""
	}
}

// CanonicalKey maps a free-form parameter name (possibly range-suffixed) to
// its canonical dictionary key, preserving the suffix. Lookup is
// case-insensitive; unknown names come back unchanged.
func CanonicalKey(name string) string {
	base, suffix := SplitRangeSuffix(name)
	if canonical, ok := paramAliases[strings.ToLower(base)]; ok {
		return canonical + suffix
	}
	return base + suffix
}

// ConvertValue applies the unit conversion registered for a canonical field
// name, returning the value unchanged when none exists.
func ConvertValue(canonicalField string, value float64) float64 {
	base, _ := SplitRangeSuffix(canonicalField)
	if conv, ok := unitConversions[base]; ok {
		return value * conv.Factor
	}
	return value
}
