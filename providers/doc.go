// Package providers contains the capability adapters for external
// billing and commerce services: a generic OAuth2 refresh-token-grant
// implementation plus per-provider wrappers that pin endpoints, secret
// placement, and refresh lead windows.
package providers
