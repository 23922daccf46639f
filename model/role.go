package model

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	RoleAdmin           uint32 = 1
	RolePhysiotherapist uint32 = 2
	RoleReceptionist    uint32 = 3
)

type Role struct {
	ID        uint32    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

var roleNames = map[uint32]string{
	RoleAdmin:           "Admin",
	RolePhysiotherapist: "Physiotherapist",
	RoleReceptionist:    "Receptionist",
}

// RoleName is the display name of a role id, empty for unknown ids.
func RoleName(id uint32) string {
	return roleNames[id]
}

// SeedRoles inserts the fixed role set with stable identifiers. Existing rows are left untouched.
func SeedRoles(db *gorm.DB) error {
	roles := make([]Role, 0, len(roleNames))
	for _, id := range []uint32{RoleAdmin, RolePhysiotherapist, RoleReceptionist} {
		roles = append(roles, Role{ID: id, Name: roleNames[id]})
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&roles).Error; err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}
	return nil
}

// RoleForPosition maps a staff position to the login role it receives.
func RoleForPosition(position StaffPosition) uint32 {
	switch position {
	case PositionAdmin:
		return RoleAdmin
	case PositionReceptionist:
		return RoleReceptionist
	default:
		return RolePhysiotherapist
	}
}
