package schema

// Declared value domains for the CLIF tables this pipeline emits.

// DeviceCategories is the closed set for respiratory_support.device_category.
var DeviceCategories = []string{
	"IMV", "NIPPV", "CPAP", "High Flow NC", "Face Mask",
	"Trach Collar", "Nasal Cannula", "Room Air", "Other",
}

// ModeCategories is the closed set for respiratory_support.mode_category.
var ModeCategories = []string{
	"Assist Control-Volume Control",
	"Pressure Control",
	"Pressure-Regulated Volume Control",
	"Pressure Support/CPAP",
	"SIMV",
	"Volume Support",
	"Other",
}

// FiO2Min and FiO2Max bound respiratory_support.fio2_set as a fraction.
const (
	FiO2Min = 0.2
	FiO2Max = 1.0
)

// SexCategories is the closed set for patient.sex_category.
var SexCategories = []string{"Male", "Female", "Other", "Unknown"}

// PositionCategories is the closed set for position.position_category.
var PositionCategories = []string{"prone", "not_prone"}
