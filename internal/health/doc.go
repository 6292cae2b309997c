// Package health derives bounded [0, 100] health scores for each device and
// for the system as a whole, combining recent anomaly rate, recent drift
// magnitude, and data freshness. The system score is the minimum of the
// device scores: one failing instrument degrades overall confidence.
package health
