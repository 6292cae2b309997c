// Package anomaly scores multi-channel sample vectors against a rolling
// window of recent observations. Vectors are normalized per dimension using
// the window's mean and standard deviation, then scored by an ensemble of
// random axis-aligned partition trees; the normalized isolation score is in
// [0, 1] with higher meaning more anomalous. The model is refit periodically
// rather than on every sample, so scoring stays cheap on the hot path.
package anomaly
