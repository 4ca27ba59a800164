package gnss

// Linear combinations of dual-frequency observables. Phase inputs are in
// cycles, code inputs in meters, frequencies in Hz; all outputs in meters.
// These are the upstream producers of Sample.GeomFree and
// Sample.CodePhaseDiff.

// GeometryFreePhase is the phase geometry-free combination L1 - L2 (in
// meters): frequency-independent terms cancel, leaving the ionospheric delay
// plus carrier ambiguities.
func GeometryFreePhase(phase1, phase2, f1, f2 float64) float64 {
	l1 := phase1 * C / f1
	l2 := phase2 * C / f2
	return l1 - l2
}

// GeometryFreeCode is the code geometry-free combination P2 - P1 (in meters).
// Sign convention matches the phase combination so the two track the same
// ionospheric signal.
func GeometryFreeCode(code1, code2 float64) float64 {
	return code2 - code1
}

// MelbourneWubbena combines the wide-lane phase and narrow-lane code
// combinations. The result is dominated by the wide-lane ambiguity and is the
// standard cycle-slip detector input: continuous tracking keeps it flat,
// a slip steps it by an integer number of wide-lane wavelengths.
func MelbourneWubbena(phase1, phase2, code1, code2, f1, f2 float64) float64 {
	lambda1 := C / f1
	lambda2 := C / f2
	wideLane := (f1*phase1*lambda1 - f2*phase2*lambda2) / (f1 - f2)
	narrowLane := (f1*code1 + f2*code2) / (f1 + f2)
	return wideLane - narrowLane
}

// LevellingDetector is the code-minus-phase geometry-free difference used
// both as the slip detector input and as the absolute level reference for
// phase levelling: its arc mean is the phase ambiguity offset.
func LevellingDetector(gfPhase, gfCode float64) float64 {
	return gfPhase - gfCode
}
