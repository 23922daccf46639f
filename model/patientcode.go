package model

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// PatientCode tracks the last issued number per initial letter.
type PatientCode struct {
	gorm.Model
	Alphabet string `json:"alphabet" gorm:"size:1;uniqueIndex"`
	Number   int    `json:"number"`
	Code     string `json:"code" gorm:"size:191"`
}

// NextPatientCode increments the counter for the given initial and returns the new code.
// Must run inside a transaction.
func NextPatientCode(tx *gorm.DB, initial string) (string, error) {
	initial = strings.ToUpper(strings.TrimSpace(initial))
	if len(initial) != 1 {
		return "", fmt.Errorf("invalid patient code initial %q", initial)
	}

	var row PatientCode
	err := tx.Where("alphabet = ?", initial).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = PatientCode{Alphabet: initial, Number: 1, Code: initial + "1"}
		if err := tx.Create(&row).Error; err != nil {
			return "", err
		}
		return row.Code, nil
	}
	if err != nil {
		return "", err
	}

	row.Number++
	row.Code = fmt.Sprintf("%s%d", initial, row.Number)
	if err := tx.Model(&PatientCode{}).Where("id = ?", row.ID).
		Updates(map[string]interface{}{"number": row.Number, "code": row.Code}).Error; err != nil {
		return "", err
	}
	return row.Code, nil
}
