// Package localauth is an embedded identity provider backed by bun and
// bcrypt. It exists for development and integration testing so the full
// provisioning workflows can run without an external authentication
// service. Its error messages use the same wording as the hosted
// providers so the core classifier maps them identically.
package localauth
