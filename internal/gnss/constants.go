package gnss

// =============================================================================
// Physical constants and frequency plan
// =============================================================================

// C is the speed of light in vacuum [m/s].
const C = 299792458.0

// IonoDelayConst is the first-order ionospheric delay constant [m^3/s^2 per
// electron/m^2], the 40.3 factor scaled to electrons per square meter.
const IonoDelayConst = 40.3e16

// Carrier frequencies [Hz] per constellation band. GLONASS FDMA frequencies
// depend on the satellite channel number; see GlonassL1/GlonassL2.
const (
	GPSL1 = 1575.42e6
	GPSL2 = 1227.60e6
	GPSL5 = 1176.45e6

	GalE1  = 1575.42e6
	GalE5a = 1176.45e6
	GalE5b = 1207.14e6
	GalE5  = 1191.795e6

	BDSB1  = 1561.098e6
	BDSB1C = 1589.742e6
	BDSB2a = 1176.45e6
	BDSB3  = 1268.52e6
	BDSB2b = 1207.14e6
)

// GlonassL1 returns the L1 FDMA frequency [Hz] for channel number k (-7..+6).
func GlonassL1(k int) float64 { return (1602.0 + float64(k)*0.5625) * 1e6 }

// GlonassL2 returns the L2 FDMA frequency [Hz] for channel number k (-7..+6).
func GlonassL2(k int) float64 { return (1246.0 + float64(k)*0.4375) * 1e6 }

// TECUPerMeter converts a geometry-free combination in meters to TEC units
// (1 TECU = 1e16 electrons/m^2) for the given frequency pair:
//
//	TECU/m = f1^2 f2^2 / (40.3e16 (f1^2 - f2^2))
func TECUPerMeter(f1, f2 float64) float64 {
	return f1 * f1 * f2 * f2 / (IonoDelayConst * (f1*f1 - f2*f2))
}

// GPSTECUPerMeter is the conversion factor for the GPS L1/L2 pair, the fixed
// instrumental scale used by the calibration engine (~9.52 TECU/m).
var GPSTECUPerMeter = TECUPerMeter(GPSL1, GPSL2)
