package model

// All lists every relational model, in migration order.
func All() []interface{} {
	return []interface{}{
		&Role{},
		&User{},
		&Session{},
		&Staff{},
		&Patient{},
		&PatientCode{},
		&Appointment{},
		&BillingCycle{},
		&Billing{},
		&LeaveRequest{},
		&Notification{},
		&AuditEvent{},
	}
}
