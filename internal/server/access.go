package server

import (
	"fmt"
	"net/http"

	"gardenhub/internal/auth"
)

const (
	RolePublic = "PUBLIC"
	RoleUser   = auth.RoleUser
	RoleAdmin  = auth.RoleAdmin
)

type AccessRule struct {
	Method string
	Path   string
	Roles  []string
}

var endpointAccess = []AccessRule{
	{Method: http.MethodPost, Path: "/api/auth/register", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/auth/login", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/auth/verify-email", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/auth/resend-verification", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/auth/verify-2fa", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/auth/send-2fa", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/auth/verify-phone", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/auth/forgot-password", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/auth/reset-password", Roles: []string{RolePublic}},

	{Method: http.MethodGet, Path: "/api/auth/me", Roles: []string{RoleUser, RoleAdmin}},
	{Method: http.MethodPost, Path: "/api/auth/logout", Roles: []string{RoleUser, RoleAdmin}},
	{Method: http.MethodPost, Path: "/api/auth/2fa/setup", Roles: []string{RoleUser, RoleAdmin}},
	{Method: http.MethodPost, Path: "/api/auth/2fa/confirm", Roles: []string{RoleUser, RoleAdmin}},
	{Method: http.MethodPost, Path: "/api/auth/2fa/disable", Roles: []string{RoleUser, RoleAdmin}},
}

func accessRoles(method, path string) []string {
	for _, rule := range endpointAccess {
		if rule.Method == method && rule.Path == path {
			return rule.Roles
		}
	}
	panic(fmt.Sprintf("missing access roles for %s %s", method, path))
}

func roleAllowed(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func isPublicAccess(roles []string) bool {
	return roleAllowed(roles, RolePublic)
}
