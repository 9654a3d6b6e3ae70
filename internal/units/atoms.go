package units

import "math"

// Dimension exponents, in UCUM base order.
const (
	dimLength = iota
	dimMass
	dimTime
	dimCurrent
	dimTemperature
	dimAmount
	dimLuminosity
	numDims
)

// Dimension is the vector of base-unit exponents of a unit.
type Dimension [numDims]int8

func dim(pairs ...int) Dimension {
	var d Dimension
	for i := 0; i+1 < len(pairs); i += 2 {
		d[pairs[i]] = int8(pairs[i+1])
	}
	return d
}

type atom struct {
	scale  float64
	offset float64
	dim    Dimension
	metric bool // accepts SI prefixes
}

var atoms = map[string]atom{
	// base units
	"m":   {scale: 1, dim: dim(dimLength, 1), metric: true},
	"g":   {scale: 1, dim: dim(dimMass, 1), metric: true},
	"s":   {scale: 1, dim: dim(dimTime, 1), metric: true},
	"A":   {scale: 1, dim: dim(dimCurrent, 1), metric: true},
	"K":   {scale: 1, dim: dim(dimTemperature, 1), metric: true},
	"mol": {scale: 1, dim: dim(dimAmount, 1), metric: true},
	"cd":  {scale: 1, dim: dim(dimLuminosity, 1), metric: true},

	// dimensionless
	"1":      {scale: 1},
	"rad":    {scale: 1, metric: true},
	"deg":    {scale: math.Pi / 180},
	"%":      {scale: 1e-2},
	"[ppth]": {scale: 1e-3},
	"[ppm]":  {scale: 1e-6},
	"[ppb]":  {scale: 1e-9},
	"[psu]":  {scale: 1},

	// time
	"min": {scale: 60, dim: dim(dimTime, 1)},
	"h":   {scale: 3600, dim: dim(dimTime, 1)},
	"d":   {scale: 86400, dim: dim(dimTime, 1)},
	"wk":  {scale: 604800, dim: dim(dimTime, 1)},
	"a":   {scale: 31557600, dim: dim(dimTime, 1)},
	"Hz":  {scale: 1, dim: dim(dimTime, -1), metric: true},

	// volume
	"L": {scale: 1e-3, dim: dim(dimLength, 3), metric: true},
	"l": {scale: 1e-3, dim: dim(dimLength, 3), metric: true},

	// mechanics, expressed in g rather than kg
	"N":   {scale: 1e3, dim: dim(dimMass, 1, dimLength, 1, dimTime, -2), metric: true},
	"Pa":  {scale: 1e3, dim: dim(dimMass, 1, dimLength, -1, dimTime, -2), metric: true},
	"bar": {scale: 1e8, dim: dim(dimMass, 1, dimLength, -1, dimTime, -2), metric: true},
	"atm": {scale: 101325e3, dim: dim(dimMass, 1, dimLength, -1, dimTime, -2)},
	"J":   {scale: 1e3, dim: dim(dimMass, 1, dimLength, 2, dimTime, -2), metric: true},
	"W":   {scale: 1e3, dim: dim(dimMass, 1, dimLength, 2, dimTime, -3), metric: true},

	// electromagnetism
	"C":   {scale: 1, dim: dim(dimCurrent, 1, dimTime, 1), metric: true},
	"V":   {scale: 1e3, dim: dim(dimMass, 1, dimLength, 2, dimTime, -3, dimCurrent, -1), metric: true},
	"Ohm": {scale: 1e3, dim: dim(dimMass, 1, dimLength, 2, dimTime, -3, dimCurrent, -2), metric: true},
	"S":   {scale: 1e-3, dim: dim(dimMass, -1, dimLength, -2, dimTime, 3, dimCurrent, 2), metric: true},

	// velocity
	"[kn_i]": {scale: 1852.0 / 3600.0, dim: dim(dimLength, 1, dimTime, -1)},

	// affine temperatures
	"Cel":    {scale: 1, offset: 273.15, dim: dim(dimTemperature, 1)},
	"[degF]": {scale: 5.0 / 9.0, offset: 273.15 - 32*5.0/9.0, dim: dim(dimTemperature, 1)},
}

// aliases map common non-UCUM spellings found in sensor files.
var aliases = map[string]string{
	"degC":  "Cel",
	"°C":    "Cel",
	"degF":  "[degF]",
	"°F":    "[degF]",
	"ppm":   "[ppm]",
	"psu":   "[psu]",
	"PSU":   "[psu]",
	"knot":  "[kn_i]",
	"[knt]": "[kn_i]",
}

var prefixes = map[string]float64{
	"Y": 1e24, "Z": 1e21, "E": 1e18, "P": 1e15, "T": 1e12, "G": 1e9, "M": 1e6,
	"k": 1e3, "h": 1e2, "da": 1e1,
	"d": 1e-1, "c": 1e-2, "m": 1e-3, "u": 1e-6, "n": 1e-9, "p": 1e-12, "f": 1e-15,
}

// lookupAtom resolves a unit symbol, trying an exact match before splitting
// off a prefix.
func lookupAtom(sym string) (atom, bool) {
	if alias, ok := aliases[sym]; ok {
		sym = alias
	}
	if a, ok := atoms[sym]; ok {
		return a, true
	}
	for _, plen := range []int{2, 1} {
		if len(sym) <= plen {
			continue
		}
		factor, ok := prefixes[sym[:plen]]
		if !ok {
			continue
		}
		a, ok := atoms[sym[plen:]]
		if !ok || !a.metric {
			continue
		}
		a.scale *= factor
		return a, true
	}
	return atom{}, false
}
