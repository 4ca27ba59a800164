package calibration

// VerticalEquivalent evaluates a batch's fitted ionosphere model at the
// station zenith. In the station-relative modip frame the pierce point offset
// there is (0, 0), where every non-constant basis term vanishes, so the value
// reduces to the constant coefficient scaled to TECU. All samples of a batch
// share the same vertical equivalent.
func (e *Estimator) VerticalEquivalent(poly []float64) float64 {
	row := make([]float64, e.basis.Size)
	e.basis.Eval(0, 0, row)
	var v float64
	for k := range row {
		if k < len(poly) {
			v += poly[k] * row[k]
		}
	}
	return v * e.scale
}
