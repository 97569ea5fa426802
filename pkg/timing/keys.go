package timing

import "strings"

// Canonical phase names
const (
	EpochWall                = "epoch_wall"
	EnvInteraction           = "env_interaction"
	ImaginationRollout       = "imagination_rollout"
	DiffusionSamplingTeacher = "diffusion_sampling_teacher"
	DiffusionSamplingStudent = "diffusion_sampling_student"
	PolicyValueUpdate        = "policy_value_update"
	WorldModelUpdate         = "world_model_update"
	DistillationOracleQuery  = "distillation_oracle_query"
)

// DefaultPrefix is prepended to every exported key
const DefaultPrefix = "timing/"

const (
	secondsSuffix = "_sec"
	countSuffix   = "_count"
)

// Export record field names returned by ParseKey
const (
	FieldSeconds = "sec"
	FieldCount   = "count"
)

// DefaultKeys returns the canonical phase vocabulary in export order.
// The tracker does not enforce it; callers use it to export a stable subset.
func DefaultKeys() []string {
	return []string{
		EpochWall,
		EnvInteraction,
		ImaginationRollout,
		DiffusionSamplingTeacher,
		DiffusionSamplingStudent,
		PolicyValueUpdate,
		WorldModelUpdate,
		DistillationOracleQuery,
	}
}

// IsDefaultKey reports whether phase belongs to the canonical vocabulary
func IsDefaultKey(phase string) bool {
	for _, k := range DefaultKeys() {
		if k == phase {
			return true
		}
	}
	return false
}

// SecondsKey returns the export key holding the cumulative seconds of phase
func SecondsKey(prefix, phase string) string {
	return prefix + phase + secondsSuffix
}

// CountKey returns the export key holding the invocation count of phase
func CountKey(prefix, phase string) string {
	return prefix + phase + countSuffix
}

// ParseKey splits an export key into its phase and field (FieldSeconds or
// FieldCount). ok is false for keys that do not carry prefix or a known suffix.
func ParseKey(prefix, key string) (phase, field string, ok bool) {
	rest, found := strings.CutPrefix(key, prefix)
	if !found {
		return "", "", false
	}
	if p, found := strings.CutSuffix(rest, secondsSuffix); found && p != "" {
		return p, FieldSeconds, true
	}
	if p, found := strings.CutSuffix(rest, countSuffix); found && p != "" {
		return p, FieldCount, true
	}
	return "", "", false
}
