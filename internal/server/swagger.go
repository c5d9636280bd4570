package server

//go:generate swag init -g internal/server/server.go -o docs/swagger

// @title Simulant API
// @version 1.0
// @description Interactive documentation for the Simulant testing API surface.
// @contact.name Simulant Maintainers
// @contact.url https://github.com/simulant-labs/simulant
// @BasePath /
