package endpoint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ariebrainware/physio-practice/billing"
	"github.com/ariebrainware/physio-practice/middleware"
	"github.com/ariebrainware/physio-practice/model"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var errEmailTaken = errors.New("email already registered")

type StaffRequest struct {
	FullName       string              `json:"full_name" example:"Dr. John Smith"`
	Email          string              `json:"email" example:"dr.john@example.com"`
	PhoneNumber    string              `json:"phone_number" example:"081234567890"`
	Position       model.StaffPosition `json:"position" example:"physiotherapist"`
	Specialization string              `json:"specialization" example:"Sports injury"`
	LicenseNumber  string              `json:"license_number" example:"STR-1234"`
	Status         model.StaffStatus   `json:"status" example:"active"`
	JoinedAt       string              `json:"joined_at" example:"2024-01-15"`
	// Password creates a login account for the staff member when set.
	Password string `json:"password,omitempty" example:"password123"`
}

// ListStaff godoc
// @Summary      List staff
// @Description  Get a paginated list of staff with optional filtering
// @Tags         Staff
// @Produce      json
// @Security     SessionToken
// @Param        keyword query string false "Search name, email or specialization"
// @Param        position query string false "physiotherapist|receptionist|admin"
// @Param        status query string false "active|inactive"
// @Param        limit query int false "Limit number of results"
// @Param        offset query int false "Offset for pagination"
// @Success      200 {object} util.APIResponse{data=object} "Staff retrieved"
// @Failure      401 {object} util.APIResponse "Unauthorized"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /staff [get]
func ListStaff(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	page := parsePagination(c)

	query := db.Model(&model.Staff{})
	if kw := strings.TrimSpace(c.Query("keyword")); kw != "" {
		like := "%" + kw + "%"
		query = query.Where("full_name LIKE ? OR email LIKE ? OR specialization LIKE ?", like, like, like)
	}
	if pos := c.Query("position"); pos != "" {
		query = query.Where("position = ?", pos)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to count staff", Err: err})
		return
	}

	var staff []model.Staff
	if err := page.apply(query.Order("full_name ASC")).Find(&staff).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to retrieve staff", Err: err})
		return
	}

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg:  "Staff retrieved",
		Data: map[string]interface{}{"total": total, "total_fetched": len(staff), "staff": staff},
	})
}

// GetStaff godoc
// @Summary      Get staff member
// @Tags         Staff
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Staff ID"
// @Success      200 {object} util.APIResponse{data=model.Staff} "Staff retrieved"
// @Failure      404 {object} util.APIResponse "Staff not found"
// @Router       /staff/{id} [get]
func GetStaff(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "staff")
	if !ok {
		return
	}
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	var staff model.Staff
	if !findOrRespond(c, db, &staff, id, "Staff") {
		return
	}
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Staff retrieved", Data: staff})
}

// validateStaffFields normalizes the phone number and checks enum and date fields.
func validateStaffFields(c *gin.Context, req *StaffRequest) error {
	if req.Position != "" && !req.Position.Valid() {
		return fmt.Errorf("invalid position %q", req.Position)
	}
	if req.Status != "" && req.Status != model.StaffActive && req.Status != model.StaffInactive {
		return fmt.Errorf("invalid status %q", req.Status)
	}
	if req.JoinedAt != "" {
		if _, err := billing.ParseDate(req.JoinedAt); err != nil {
			return err
		}
	}
	if strings.TrimSpace(req.PhoneNumber) != "" {
		phone, err := util.NormalizePhone(req.PhoneNumber, middleware.GetServices(c).PhoneRegion())
		if err != nil {
			return err
		}
		req.PhoneNumber = phone
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	return nil
}

func ensureEmailAvailable(tx *gorm.DB, email string, exceptUserID uint) error {
	var existing model.User
	err := tx.Where("email = ?", email).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID == exceptUserID {
		return nil
	}
	return errEmailTaken
}

// createLoginAccount creates the user behind a staff record.
func createLoginAccount(tx *gorm.DB, name, email, password string, position model.StaffPosition) (*model.User, error) {
	if err := ensureEmailAvailable(tx, email, 0); err != nil {
		return nil, err
	}
	hashed, salt, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	user := model.User{
		Name:         name,
		Email:        email,
		Password:     hashed,
		PasswordSalt: salt,
		RoleID:       model.RoleForPosition(position),
	}
	if err := tx.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateStaff godoc
// @Summary      Create staff member
// @Description  Register a staff member, optionally with a login account whose role follows the position
// @Tags         Staff
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        request body StaffRequest true "Staff information"
// @Success      201 {object} util.APIResponse{data=model.Staff} "Staff created"
// @Failure      400 {object} util.APIResponse "Invalid request"
// @Failure      409 {object} util.APIResponse "Email already registered"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /staff [post]
func CreateStaff(c *gin.Context) {
	var req StaffRequest
	if !bindJSONOrRespond(c, &req, "Invalid request body") {
		return
	}
	req.FullName = util.NormalizeName(req.FullName)
	if req.FullName == "" || req.Position == "" {
		util.CallUserError(c, util.APIErrorParams{
			Msg: "Staff payload is missing required fields",
			Err: fmt.Errorf("full_name and position are required"),
		})
		return
	}
	if err := validateStaffFields(c, &req); err != nil {
		util.CallUserError(c, util.APIErrorParams{Msg: "Invalid staff data", Err: err})
		return
	}
	if req.Password != "" && (req.Email == "" || len(req.Password) < 8) {
		util.CallUserError(c, util.APIErrorParams{
			Msg: "A login account needs an email and a password of at least 8 characters",
			Err: fmt.Errorf("invalid login account"),
		})
		return
	}

	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}

	staff := model.Staff{
		FullName:       req.FullName,
		Email:          req.Email,
		PhoneNumber:    req.PhoneNumber,
		Position:       req.Position,
		Specialization: req.Specialization,
		LicenseNumber:  req.LicenseNumber,
		Status:         model.StaffActive,
		JoinedAt:       req.JoinedAt,
	}
	if req.Status != "" {
		staff.Status = req.Status
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if req.Password != "" {
			user, err := createLoginAccount(tx, staff.FullName, req.Email, req.Password, req.Position)
			if err != nil {
				return err
			}
			staff.UserID = &user.ID
		}
		return tx.Create(&staff).Error
	})
	if errors.Is(err, errEmailTaken) {
		util.CallConflict(c, util.APIErrorParams{Msg: "Email already registered", Err: err})
		return
	}
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to create staff", Err: err})
		return
	}

	util.CallCreated(c, util.APISuccessParams{Msg: "Staff created", Data: staff})
}

// UpdateStaff godoc
// @Summary      Update staff member
// @Tags         Staff
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Staff ID"
// @Param        request body StaffRequest true "Fields to update"
// @Success      200 {object} util.APIResponse{data=model.Staff} "Staff updated"
// @Failure      400 {object} util.APIResponse "Invalid request"
// @Failure      404 {object} util.APIResponse "Staff not found"
// @Failure      409 {object} util.APIResponse "Email already registered"
// @Router       /staff/{id} [patch]
func UpdateStaff(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "staff")
	if !ok {
		return
	}
	var req StaffRequest
	if !bindJSONOrRespond(c, &req, "Invalid request body") {
		return
	}
	if err := validateStaffFields(c, &req); err != nil {
		util.CallUserError(c, util.APIErrorParams{Msg: "Invalid staff data", Err: err})
		return
	}

	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	var staff model.Staff
	if !findOrRespond(c, db, &staff, id, "Staff") {
		return
	}

	if name := util.NormalizeName(req.FullName); name != "" {
		staff.FullName = name
	}
	if req.Email != "" {
		staff.Email = req.Email
	}
	if req.PhoneNumber != "" {
		staff.PhoneNumber = req.PhoneNumber
	}
	if req.Position != "" {
		staff.Position = req.Position
	}
	if req.Specialization != "" {
		staff.Specialization = req.Specialization
	}
	if req.LicenseNumber != "" {
		staff.LicenseNumber = req.LicenseNumber
	}
	if req.Status != "" {
		staff.Status = req.Status
	}
	if req.JoinedAt != "" {
		staff.JoinedAt = req.JoinedAt
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if staff.UserID != nil {
			updates := map[string]interface{}{
				"name":    staff.FullName,
				"role_id": model.RoleForPosition(staff.Position),
			}
			if req.Email != "" {
				if err := ensureEmailAvailable(tx, req.Email, *staff.UserID); err != nil {
					return err
				}
				updates["email"] = req.Email
			}
			if err := tx.Model(&model.User{}).Where("id = ?", *staff.UserID).Updates(updates).Error; err != nil {
				return err
			}
		}
		return tx.Save(&staff).Error
	})
	if errors.Is(err, errEmailTaken) {
		util.CallConflict(c, util.APIErrorParams{Msg: "Email already registered", Err: err})
		return
	}
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to update staff", Err: err})
		return
	}
	if staff.UserID != nil {
		util.ForgetUserEmail(*staff.UserID)
		if staff.Status == model.StaffInactive || req.Position != "" {
			// role or access changed; cached sessions carry the old role
			_ = revokeUserSessions(db, *staff.UserID)
		}
	}

	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Staff updated", Data: staff})
}

// DeleteStaff godoc
// @Summary      Delete staff member
// @Description  Soft delete a staff member and disable the linked login account
// @Tags         Staff
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Staff ID"
// @Success      200 {object} util.APIResponse "Staff deleted"
// @Failure      400 {object} util.APIResponse "Cannot delete own record"
// @Failure      404 {object} util.APIResponse "Staff not found"
// @Router       /staff/{id} [delete]
func DeleteStaff(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "staff")
	if !ok {
		return
	}
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	var staff model.Staff
	if !findOrRespond(c, db, &staff, id, "Staff") {
		return
	}
	if uid, _ := middleware.GetUserID(c); staff.UserID != nil && *staff.UserID == uid {
		util.CallUserError(c, util.APIErrorParams{
			Msg: "You cannot delete your own staff record",
			Err: fmt.Errorf("self deletion"),
		})
		return
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if staff.UserID != nil {
			if err := tx.Delete(&model.User{}, *staff.UserID).Error; err != nil {
				return err
			}
			if err := tx.Where("user_id = ?", *staff.UserID).Delete(&model.Session{}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&staff).Error
	})
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to delete staff", Err: err})
		return
	}
	if staff.UserID != nil {
		_ = util.DropUserSessions(c.Request.Context(), *staff.UserID)
		util.ForgetUserEmail(*staff.UserID)
	}

	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Staff deleted"})
}

// EnsureAdmin creates an admin account and its staff record unless the email
// is already registered. Empty credentials are a no-op.
func EnsureAdmin(db *gorm.DB, name, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil
	}
	if name == "" {
		name = "Administrator"
	}
	return db.Transaction(func(tx *gorm.DB) error {
		user, err := createLoginAccount(tx, name, email, password, model.PositionAdmin)
		if errors.Is(err, errEmailTaken) {
			return nil
		}
		if err != nil {
			return err
		}
		staff := model.Staff{
			UserID:   &user.ID,
			FullName: name,
			Email:    email,
			Position: model.PositionAdmin,
			Status:   model.StaffActive,
		}
		return tx.Create(&staff).Error
	})
}
