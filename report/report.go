// Package report stores versioned clinical assessment reports. Each save
// creates a new immutable version; earlier versions are never rewritten.
package report

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const CollectionName = "reportVersions"

var (
	ErrNotFound = errors.New("report: version not found")
	ErrInvalid  = errors.New("report: invalid report")
)

// Version is one saved revision of a patient's assessment report.
type Version struct {
	ID              primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	PatientID       uint                   `bson:"patientId" json:"patient_id"`
	Version         int                    `bson:"version" json:"version"`
	AuthorID        uint                   `bson:"authorId" json:"author_id"`
	AuthorName      string                 `bson:"authorName,omitempty" json:"author_name"`
	AssessedAt      time.Time              `bson:"assessedAt" json:"assessed_at"`
	CreatedAt       time.Time              `bson:"createdAt" json:"created_at"`
	ChiefComplaint  string                 `bson:"chiefComplaint,omitempty" json:"chief_complaint"`
	Diagnosis       string                 `bson:"diagnosis,omitempty" json:"diagnosis"`
	VAS             *float64               `bson:"vas,omitempty" json:"vas"`
	ROM             map[string]float64     `bson:"rom,omitempty" json:"rom"`
	MMT             map[string]float64     `bson:"mmt,omitempty" json:"mmt"`
	FunctionalNotes string                 `bson:"functionalNotes,omitempty" json:"functional_notes"`
	Goals           string                 `bson:"goals,omitempty" json:"goals"`
	TreatmentPlan   string                 `bson:"treatmentPlan,omitempty" json:"treatment_plan"`
	Extra           map[string]interface{} `bson:"extra,omitempty" json:"extra,omitempty"`
}

// Store persists report versions.
type Store interface {
	// Create assigns the next version number, stamps CreatedAt and saves v.
	Create(ctx context.Context, v *Version) error
	// List returns all versions of a patient's report, oldest first.
	List(ctx context.Context, patientID uint) ([]Version, error)
	Get(ctx context.Context, patientID uint, version int) (Version, error)
	Latest(ctx context.Context, patientID uint) (Version, error)
}

// Validate checks measurement ranges and fills AssessedAt when unset.
func Validate(v *Version, now time.Time) error {
	if v.PatientID == 0 {
		return fmt.Errorf("%w: patient id is required", ErrInvalid)
	}
	if v.VAS != nil && (*v.VAS < 0 || *v.VAS > 10 || math.IsNaN(*v.VAS)) {
		return fmt.Errorf("%w: vas must be between 0 and 10", ErrInvalid)
	}
	for joint, deg := range v.ROM {
		if strings.TrimSpace(joint) == "" {
			return fmt.Errorf("%w: rom joint name is empty", ErrInvalid)
		}
		if deg < 0 || deg > 360 || math.IsNaN(deg) {
			return fmt.Errorf("%w: rom %q must be between 0 and 360 degrees", ErrInvalid, joint)
		}
	}
	for muscle, grade := range v.MMT {
		if strings.TrimSpace(muscle) == "" {
			return fmt.Errorf("%w: mmt muscle name is empty", ErrInvalid)
		}
		if grade < 0 || grade > 5 || math.IsNaN(grade) {
			return fmt.Errorf("%w: mmt %q must be between 0 and 5", ErrInvalid, muscle)
		}
	}
	if v.AssessedAt.IsZero() {
		v.AssessedAt = now
	}
	v.AssessedAt = v.AssessedAt.UTC()
	return nil
}
