package model

import "time"

// Role — роль пользователя.
type Role string

// Роли пользователей.
const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// User — участник системы, идентифицируемый адресом кошелька.
// Создаётся неявно при первом упоминании в записи.
type User struct {
	Address   string
	Role      Role
	Name      string
	Email     string
	Phone     string
	Hospital  string
	Specialty string
	IsActive  bool
	CreatedAt time.Time
}
