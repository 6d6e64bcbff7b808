package domain

import (
	"strings"
	"time"
)

type Account struct {
	AccountID     string     `json:"id" dynamodbav:"account_id"`
	Email         string     `json:"email" dynamodbav:"email"`
	Username      string     `json:"username" dynamodbav:"username"`
	Telephone     *string    `json:"telephone,omitempty" dynamodbav:"telephone,omitempty"`
	PasswordHash  string     `json:"-" dynamodbav:"password_hash"`
	Role          Role       `json:"role" dynamodbav:"role"`
	FirstName     string     `json:"first_name" dynamodbav:"first_name"`
	LastName      string     `json:"last_name" dynamodbav:"last_name"`
	EmailVerified bool       `json:"email_verified" dynamodbav:"email_verified"`
	PhoneVerified bool       `json:"phone_verified" dynamodbav:"phone_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty" dynamodbav:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created" dynamodbav:"created_at"`
	UpdatedAt     time.Time  `json:"updated" dynamodbav:"updated_at"`
}

// Attribute names accepted by AccountStore.UpdateFields.
const (
	FieldUsername      = "username"
	FieldTelephone     = "telephone"
	FieldPasswordHash  = "password_hash"
	FieldRole          = "role"
	FieldFirstName     = "first_name"
	FieldLastName      = "last_name"
	FieldEmailVerified = "email_verified"
	FieldPhoneVerified = "phone_verified"
	FieldLastLoginAt   = "last_login_at"
	FieldUpdatedAt     = "updated_at"
)

type RegisterRequest struct {
	Email     string  `json:"email" validate:"required,email,max=254"`
	Username  string  `json:"username" validate:"required,min=3,max=32,alphanum"`
	Password  string  `json:"password" validate:"required,min=8,maxbytes=72"`
	Telephone *string `json:"telephone" validate:"omitempty,e164"`
	FirstName string  `json:"first_name" validate:"max=64"`
	LastName  string  `json:"last_name" validate:"max=64"`
	Role      string  `json:"role" validate:"omitempty,oneof=user investor entrepreneur"`
}

type UpdateProfileRequest struct {
	Username  *string `json:"username" validate:"omitempty,min=3,max=32,alphanum"`
	Telephone *string `json:"telephone" validate:"omitempty,e164"`
	FirstName *string `json:"first_name" validate:"omitempty,max=64"`
	LastName  *string `json:"last_name" validate:"omitempty,max=64"`
}

// NormalizeEmail is the single case-folding rule for login handles.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
