package color

import "math"

// NeutralTemperatureKelvin is the reference correlated color temperature
// at which the per-channel multiplier is (1,1,1).
const NeutralTemperatureKelvin = 6500.0

// TemperatureMultiplier derives a per-channel multiplier from a correlated
// color temperature in Kelvin, normalized so NeutralTemperatureKelvin
// yields the identity multiplier. Uses Tanner Helland's piecewise
// black-body approximation, clamped to [1000, 40000] Kelvin.
func TemperatureMultiplier(kelvin float64) Float {
	return Float{
		R: divideSafe(channelsFor(kelvin).R, channelsFor(NeutralTemperatureKelvin).R),
		G: divideSafe(channelsFor(kelvin).G, channelsFor(NeutralTemperatureKelvin).G),
		B: divideSafe(channelsFor(kelvin).B, channelsFor(NeutralTemperatureKelvin).B),
	}
}

func divideSafe(num, den float64) float64 {
	if den == 0 {
		return 1
	}
	return num / den
}

// channelsFor returns the raw (un-normalized) blackbody-approximation RGB
// in [0,1] for a given Kelvin temperature.
func channelsFor(kelvin float64) Float {
	if kelvin < 1000 {
		kelvin = 1000
	}
	if kelvin > 40000 {
		kelvin = 40000
	}
	k := kelvin / 100.0

	var r, g, b float64
	if k <= 66 {
		r = 255
	} else {
		r = 329.698727446 * math.Pow(k-60, -0.1332047592)
	}

	if k <= 66 {
		g = 99.4708025861*math.Log(k) - 161.1195681661
	} else {
		g = 288.1221695283 * math.Pow(k-60, -0.0755148492)
	}

	if k >= 66 {
		b = 255
	} else if k <= 19 {
		b = 0
	} else {
		b = 138.5177312231*math.Log(k-10) - 305.0447927307
	}

	return Float{R: clamp01(r / 255.0), G: clamp01(g / 255.0), B: clamp01(b / 255.0)}
}

// ApplyTemperature multiplies each channel of f by the given multiplier,
// clamping the result to [0,1].
func ApplyTemperature(f Float, mult Float) Float {
	return Float{
		R: clamp01(f.R * mult.R),
		G: clamp01(f.G * mult.G),
		B: clamp01(f.B * mult.B),
	}
}
