package auth

// Known OAuth scopes used by the trainload API.
const (
	ScopeWorkoutsRead     = "workouts:read"
	ScopeWorkoutsWrite    = "workouts:write"
	ScopeMetricsRead      = "metrics:read"
	ScopeCalibrationWrite = "calibration:write"
)
