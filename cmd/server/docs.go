// Package main Manufacturing Orders API
//
//	@title						Manufacturing Orders API
//	@version					1.0
//	@description				Order lifecycle, payment, and refund coordination for custom manufacturing orders.
//
//	@host						localhost:8080
//	@BasePath					/api/v1
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"
//
//	@tag.name					Order
//	@tag.description			Order submission and lifecycle
//
//	@tag.name					Payment
//	@tag.description			Payment intents and status sync
//
//	@tag.name					Refund
//	@tag.description			Refund request and confirmation workflow
//
//	@tag.name					Artifact
//	@tag.description			Design file storage
//
//	@tag.name					Admin
//	@tag.description			Administrative review and operations
package main
