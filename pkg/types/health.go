package types

// HealthState classifies a container's resource health.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthWarning  HealthState = "warning"
	HealthCritical HealthState = "critical"
	HealthStopped  HealthState = "stopped"
)

// Health classification thresholds, in percent. Each metric is evaluated
// independently; the worst band wins.
const (
	CriticalThreshold = 90.0
	WarningThreshold  = 75.0
)

// ClassifyHealth maps a run state and CPU/memory percentages to a health
// band. Nil metrics (stats unavailable) do not raise the classification.
func ClassifyHealth(running bool, cpuPct, memPct *float64) HealthState {
	if !running {
		return HealthStopped
	}
	if exceeds(cpuPct, CriticalThreshold) || exceeds(memPct, CriticalThreshold) {
		return HealthCritical
	}
	if exceeds(cpuPct, WarningThreshold) || exceeds(memPct, WarningThreshold) {
		return HealthWarning
	}
	return HealthHealthy
}

func exceeds(v *float64, threshold float64) bool {
	return v != nil && *v >= threshold
}
