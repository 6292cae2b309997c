// Package drift tracks a recency-weighted baseline per device channel using
// an exponential moving average and variance estimate, and emits drift
// insights when a value deviates from its baseline by more than k standard
// deviations.
package drift
